package chatclient

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"ripple/internal/chat"
)

// Cache policy defaults.
const (
	DefaultCacheTTL      = 5 * time.Minute
	DefaultCacheCapacity = 100
)

type cacheKey struct {
	UserID string
	Page   int64
	Limit  int64
}

type cacheEntry struct {
	page       chat.Page
	insertedAt time.Time
}

// PageCache memoizes fetched pages per (conversation, page, page-size)
// with a freshness bound.
//
// Policies, deliberately simple and non-adaptive:
//   - An entry older than the TTL is treated as absent on read (and
//     evicted then).
//   - At capacity, inserting a new key evicts the oldest-INSERTED entry
//     first. Insertion order only, never access order.
//
// The cache never talks to the store itself except through the
// caller-supplied fetcher in PreloadNext.
type PageCache struct {
	log *slog.Logger

	ttl      time.Duration
	capacity int
	now      func() time.Time

	mu      sync.Mutex
	entries map[cacheKey]cacheEntry
	order   []cacheKey // insertion order, oldest first
}

// CacheOption configures a PageCache.
type CacheOption func(*PageCache)

// WithTTL overrides the freshness bound.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *PageCache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithCapacity overrides the entry capacity.
func WithCapacity(n int) CacheOption {
	return func(c *PageCache) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// WithClock injects a time source for tests.
func WithClock(now func() time.Time) CacheOption {
	return func(c *PageCache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithCacheLogger overrides the logger used for preload failures.
func WithCacheLogger(log *slog.Logger) CacheOption {
	return func(c *PageCache) {
		if log != nil {
			c.log = log
		}
	}
}

// NewPageCache constructs an empty cache. The zero value is not usable;
// construct explicitly and inject it into whatever owns the
// conversation lifecycle, tied to session start/end.
func NewPageCache(opts ...CacheOption) *PageCache {
	c := &PageCache{
		log:      slog.Default(),
		ttl:      DefaultCacheTTL,
		capacity: DefaultCacheCapacity,
		now:      time.Now,
		entries:  make(map[cacheKey]cacheEntry),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Get returns the cached page, or ok=false when the entry is absent or
// older than the TTL (evicting it on read).
func (c *PageCache) Get(userID string, page, limit int64) (chat.Page, bool) {
	key := cacheKey{UserID: userID, Page: page, Limit: limit}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return chat.Page{}, false
	}
	if c.now().Sub(e.insertedAt) >= c.ttl {
		c.deleteLocked(key)
		return chat.Page{}, false
	}
	return e.page, true
}

// Set inserts or overwrites the entry. At capacity, a new key evicts
// the single oldest-inserted entry first; overwriting an existing key
// keeps its place in the insertion order.
func (c *PageCache) Set(userID string, page, limit int64, data chat.Page) {
	key := cacheKey{UserID: userID, Page: page, Limit: limit}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists {
		if len(c.entries) >= c.capacity && len(c.order) > 0 {
			c.deleteLocked(c.order[0])
		}
		c.order = append(c.order, key)
	}
	c.entries[key] = cacheEntry{page: data, insertedAt: c.now()}
}

// ClearConversation removes every entry for the conversation.
func (c *PageCache) ClearConversation(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.order[:0]
	for _, key := range c.order {
		if key.UserID == userID {
			delete(c.entries, key)
		} else {
			kept = append(kept, key)
		}
	}
	c.order = kept
}

// ClearAll empties the cache (e.g. on logout).
func (c *PageCache) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[cacheKey]cacheEntry)
	c.order = nil
}

// Len reports the number of live entries, expired or not.
func (c *PageCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// PreloadFetcher loads one page for PreloadNext.
type PreloadFetcher func(ctx context.Context, page int64) (chat.Page, error)

// PreloadNext warms the entry for currentPage+1 if it is absent.
// Best-effort and non-blocking: the fetch runs in its own goroutine and
// failures are logged and swallowed, never surfaced.
func (c *PageCache) PreloadNext(ctx context.Context, userID string, currentPage, limit int64, fetch PreloadFetcher) {
	if fetch == nil {
		return
	}

	next := currentPage + 1
	key := cacheKey{UserID: userID, Page: next, Limit: limit}

	c.mu.Lock()
	_, exists := c.entries[key]
	c.mu.Unlock()
	if exists {
		return
	}

	go func() {
		page, err := fetch(ctx, next)
		if err != nil {
			c.log.Debug("chatclient.cache.preload.fail", "user_id", userID, "page", next, "err", err)
			return
		}
		c.Set(userID, next, limit, page)
	}()
}

// AppendMessage patches the page-1 entry for the default page size:
// the message is appended and totalMessages incremented in place. The
// entry's age is preserved, not reset; this is a content patch, not a
// re-fetch. Other cached pages are untouched.
func (c *PageCache) AppendMessage(userID string, msg chat.Message) {
	key := cacheKey{UserID: userID, Page: 1, Limit: chat.DefaultPageLimit}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return
	}
	e.page.Messages = append(e.page.Messages, msg)
	e.page.Meta.TotalMessages++
	c.entries[key] = e
}

func (c *PageCache) deleteLocked(key cacheKey) {
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}
