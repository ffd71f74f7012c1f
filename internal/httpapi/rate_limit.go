package httpapi

import (
	"net"
	"sync"
	"time"
)

// loginThrottle counts failed login attempts per client IP over a
// fixed window. Process-local: good enough for a single instance; a
// multi-instance deployment would move this behind shared storage.
type loginThrottle struct {
	max    int
	window time.Duration

	mu       sync.Mutex
	failures map[string][]time.Time
}

func newLoginThrottle(max int, window time.Duration) *loginThrottle {
	return &loginThrottle{
		max:      max,
		window:   window,
		failures: make(map[string][]time.Time),
	}
}

// blocked reports whether the IP has exhausted its failure budget, and
// if so for how long a retry should wait.
func (t *loginThrottle) blocked(ip net.IP, now time.Time) (bool, time.Duration) {
	if t == nil || ip == nil || t.max <= 0 {
		return false, 0
	}
	key := ip.String()
	cut := now.Add(-t.window)

	t.mu.Lock()
	defer t.mu.Unlock()

	kept := t.pruneLocked(key, cut)
	if len(kept) >= t.max {
		return true, kept[0].Add(t.window).Sub(now)
	}
	return false, 0
}

// recordFailure notes one failed attempt for the IP.
func (t *loginThrottle) recordFailure(ip net.IP, now time.Time) {
	if t == nil || ip == nil || t.max <= 0 {
		return
	}
	key := ip.String()

	t.mu.Lock()
	defer t.mu.Unlock()

	kept := t.pruneLocked(key, now.Add(-t.window))
	t.failures[key] = append(kept, now)
}

func (t *loginThrottle) pruneLocked(key string, cut time.Time) []time.Time {
	attempts := t.failures[key]
	kept := attempts[:0]
	for _, at := range attempts {
		if at.After(cut) {
			kept = append(kept, at)
		}
	}
	if len(kept) == 0 {
		delete(t.failures, key)
		return nil
	}
	t.failures[key] = kept
	return kept
}
