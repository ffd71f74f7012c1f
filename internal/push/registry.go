package push

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"ripple/internal/chat"
)

// Stats receives registry-level counters. The app layer adapts this to
// its metrics backend; NoopStats keeps the registry usable without one.
type Stats interface {
	ClientAdded()
	ClientRemoved()
	Delivered()
	Dropped()
}

// NoopStats discards all counters.
type NoopStats struct{}

func (NoopStats) ClientAdded()   {}
func (NoopStats) ClientRemoved() {}
func (NoopStats) Delivered()     {}
func (NoopStats) Dropped()       {}

// Registry tracks connected clients per user and fans out deliveries.
//
// A user may hold several concurrent clients (multiple tabs/devices);
// delivery goes to every live client of the receiver.
//
// Concurrency guarantees:
// - Add/Remove are safe under concurrent Deliver.
// - Deliver never blocks (drops under backpressure).
// - Deliver is panic-safe because Client.Send is never closed by the server.
type Registry struct {
	log   *slog.Logger
	stats Stats

	mu      sync.RWMutex
	byUser  map[string]map[string]*Client // userID -> clientID -> client
	clients int
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithStats wires a stats sink into the registry.
func WithStats(stats Stats) RegistryOption {
	return func(r *Registry) {
		if stats != nil {
			r.stats = stats
		}
	}
}

// NewRegistry constructs an empty registry.
func NewRegistry(log *slog.Logger, opts ...RegistryOption) *Registry {
	r := &Registry{
		log:    log,
		stats:  NoopStats{},
		byUser: make(map[string]map[string]*Client),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Add registers a client under its user.
func (r *Registry) Add(client *Client) {
	if r == nil || client == nil || client.ID == "" || client.UserID == "" {
		return
	}

	r.mu.Lock()
	set, ok := r.byUser[client.UserID]
	if !ok {
		set = make(map[string]*Client)
		r.byUser[client.UserID] = set
	}
	set[client.ID] = client
	r.clients++
	r.mu.Unlock()

	r.stats.ClientAdded()
	r.log.Info("push.client.add", "user_id", client.UserID, "client_id", client.ID)
}

// Remove deregisters a client and signals its shutdown.
func (r *Registry) Remove(userID, clientID string) {
	if r == nil || userID == "" || clientID == "" {
		return
	}

	var cl *Client

	r.mu.Lock()
	if set, ok := r.byUser[userID]; ok {
		cl = set[clientID]
		if cl != nil {
			delete(set, clientID)
			r.clients--
		}
		if len(set) == 0 {
			delete(r.byUser, userID)
		}
	}
	r.mu.Unlock()

	// Signal shutdown after removing from the registry so a deliverer
	// never holds a pointer to a client mid-teardown.
	if cl != nil {
		cl.Close()
		r.stats.ClientRemoved()
		r.log.Info("push.client.remove", "user_id", userID, "client_id", clientID)
	}
}

// Connected reports whether the user has at least one live client.
func (r *Registry) Connected(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

// Deliver fans a created message out to every live client of the receiver.
// Non-blocking: a full queue or a shutting-down client drops the envelope.
func (r *Registry) Deliver(receiverID string, msg chat.Message) {
	if r == nil || receiverID == "" {
		return
	}

	payload, err := json.Marshal(MessageNewPayload{Message: msg})
	if err != nil {
		return
	}
	env := NewEnvelope(TypeMessageNew, payload, time.Now().UTC())

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, cl := range r.byUser[receiverID] {
		if cl == nil {
			continue
		}

		select {
		case <-cl.Done():
			// Skip clients that are shutting down.
			continue
		default:
		}

		select {
		case cl.Send <- env:
			r.stats.Delivered()
		default:
			// Drop rather than block the other clients.
			r.stats.Dropped()
			r.log.Info("push.deliver.drop", "user_id", receiverID, "client_id", cl.ID)
		}
	}
}
