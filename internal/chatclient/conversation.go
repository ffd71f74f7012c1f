package chatclient

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"ripple/internal/chat"
)

// State of the active-conversation selection.
type State uint8

const (
	// StateIdle means no conversation is selected.
	StateIdle State = iota
	// StateLoading means a fetch is in flight for a newly selected conversation.
	StateLoading
	// StateReady means messages are displayed.
	StateReady
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// PageFetcher loads one page of a conversation. *Client satisfies it.
type PageFetcher interface {
	FetchPage(ctx context.Context, partnerID string, page, limit int64) (chat.Page, error)
}

// Snapshot is a copy of the conversation's rendered state.
type Snapshot struct {
	State     State
	PartnerID string
	Messages  []chat.Message
	Meta      chat.PageMeta
}

// Conversation is the active-conversation state machine.
//
// Every asynchronous fetch carries the selection token active when it
// was issued; on completion the token is compared against the current
// one and stale results are discarded, neither cached nor rendered.
// There is no request cancellation; staleness is detected post hoc.
type Conversation struct {
	log   *slog.Logger
	fetch PageFetcher
	cache *PageCache

	selfID string
	limit  int64

	// onError surfaces fetch failures. Auth failures are excluded:
	// the client's refresh path already handles those and reporting
	// them twice would double up.
	onError func(error)

	mu          sync.Mutex
	state       State
	token       uint64
	partnerID   string
	messages    []chat.Message
	meta        chat.PageMeta
	loadingMore bool
}

// ConversationOption configures a Conversation.
type ConversationOption func(*Conversation)

// WithPageLimit overrides the page size used for fetches.
func WithPageLimit(limit int64) ConversationOption {
	return func(c *Conversation) {
		if limit > 0 {
			c.limit = limit
		}
	}
}

// WithOnError registers a callback for user-visible fetch failures.
func WithOnError(fn func(error)) ConversationOption {
	return func(c *Conversation) {
		if fn != nil {
			c.onError = fn
		}
	}
}

// WithConversationLogger overrides the logger.
func WithConversationLogger(log *slog.Logger) ConversationOption {
	return func(c *Conversation) {
		if log != nil {
			c.log = log
		}
	}
}

// NewConversation wires the state machine to a fetcher and a cache.
// The cache is injected, not global; its lifecycle belongs to whoever
// owns this conversation's session.
func NewConversation(selfID string, fetch PageFetcher, cache *PageCache, opts ...ConversationOption) *Conversation {
	c := &Conversation{
		log:     slog.Default(),
		fetch:   fetch,
		cache:   cache,
		selfID:  selfID,
		limit:   chat.DefaultPageLimit,
		onError: func(error) {},
		state:   StateIdle,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Snapshot returns a copy of the current rendered state.
func (c *Conversation) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	msgs := make([]chat.Message, len(c.messages))
	copy(msgs, c.messages)

	return Snapshot{
		State:     c.state,
		PartnerID: c.partnerID,
		Messages:  msgs,
		Meta:      c.meta,
	}
}

// Select makes partnerID the active conversation.
//
// Selecting the already-selected conversation is a no-op. With a fresh
// page-1 cache entry the transition to Ready is immediate and no fetch
// is issued; otherwise displayed messages are cleared, the state enters
// Loading, and a fetch runs asynchronously.
func (c *Conversation) Select(ctx context.Context, partnerID string) {
	c.mu.Lock()

	if partnerID == c.partnerID && c.state != StateIdle {
		c.mu.Unlock()
		return
	}

	c.token++
	tok := c.token
	c.partnerID = partnerID
	c.loadingMore = false

	if page, ok := c.cache.Get(partnerID, 1, c.limit); ok {
		c.applyPageLocked(page)
		c.state = StateReady
		c.mu.Unlock()
		return
	}

	c.messages = nil
	c.meta = chat.PageMeta{}
	c.state = StateLoading
	c.mu.Unlock()

	go c.fetchInitial(ctx, partnerID, tok)
}

// Deselect clears the selection and returns to Idle.
func (c *Conversation) Deselect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.token++
	c.partnerID = ""
	c.messages = nil
	c.meta = chat.PageMeta{}
	c.state = StateIdle
	c.loadingMore = false
}

func (c *Conversation) fetchInitial(ctx context.Context, partnerID string, tok uint64) {
	page, err := c.fetch.FetchPage(ctx, partnerID, 1, c.limit)

	c.mu.Lock()
	if tok != c.token {
		// Selection moved on; the late result is discarded, neither
		// cached nor rendered. Not an error.
		c.mu.Unlock()
		return
	}

	if err != nil {
		c.messages = []chat.Message{}
		c.meta = chat.PageMeta{}
		c.state = StateReady
		c.mu.Unlock()

		if !IsAuthError(err) && !errors.Is(err, ErrLoggedOut) {
			c.log.Info("chatclient.conversation.fetch.fail", "partner_id", partnerID, "err", err)
			c.onError(err)
		}
		return
	}

	c.applyPageLocked(page)
	c.state = StateReady
	c.mu.Unlock()

	c.cache.Set(partnerID, 1, c.limit, page)
	c.preload(ctx, partnerID, page.Meta)
}

// LoadMore requests the next older page and prepends it to the
// displayed list. Pagination metadata merges by taking the maximum of
// the current and fetched currentPage, guarding against out-of-order
// completions walking the counter backward.
func (c *Conversation) LoadMore(ctx context.Context) {
	c.mu.Lock()

	if c.state != StateReady || c.loadingMore || !c.meta.HasNextPage {
		c.mu.Unlock()
		return
	}

	tok := c.token
	partnerID := c.partnerID
	next := c.meta.CurrentPage + 1
	c.loadingMore = true
	c.mu.Unlock()

	if page, ok := c.cache.Get(partnerID, next, c.limit); ok {
		c.mergeOlderPage(partnerID, tok, page)
		return
	}

	go func() {
		page, err := c.fetch.FetchPage(ctx, partnerID, next, c.limit)
		if err != nil {
			c.mu.Lock()
			if tok == c.token {
				c.loadingMore = false
			}
			c.mu.Unlock()

			if !IsAuthError(err) && !errors.Is(err, ErrLoggedOut) {
				c.log.Info("chatclient.conversation.load_more.fail", "partner_id", partnerID, "err", err)
				c.onError(err)
			}
			return
		}

		c.mergeOlderPage(partnerID, tok, page)
		if tok == c.currentToken() {
			c.cache.Set(partnerID, next, c.limit, page)
		}
	}()
}

func (c *Conversation) mergeOlderPage(partnerID string, tok uint64, page chat.Page) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if tok != c.token {
		return
	}
	c.loadingMore = false

	// Older pages go to the front; the list stays chronological.
	merged := make([]chat.Message, 0, len(page.Messages)+len(c.messages))
	merged = append(merged, page.Messages...)
	merged = append(merged, c.messages...)
	c.messages = merged

	meta := page.Meta
	if c.meta.CurrentPage > meta.CurrentPage {
		meta.CurrentPage = c.meta.CurrentPage
		meta.HasNextPage = meta.CurrentPage < meta.TotalPages
		meta.HasPrevPage = meta.CurrentPage > 1
	}
	c.meta = meta
}

// HandleMessage routes a newly created message (from a send echo or a
// push notification): it is appended to the displayed list only when it
// belongs to the selected conversation, and merged into the cache's
// page-1 entry either way.
func (c *Conversation) HandleMessage(msg chat.Message) {
	partner := c.partnerOf(msg)
	if partner == "" {
		return
	}

	c.mu.Lock()
	if c.state == StateReady && c.partnerID == partner {
		c.messages = append(c.messages, msg)
		c.meta.TotalMessages++
	}
	c.mu.Unlock()

	c.cache.AppendMessage(partner, msg)
}

func (c *Conversation) partnerOf(msg chat.Message) string {
	switch c.selfID {
	case msg.SenderID:
		return msg.ReceiverID
	case msg.ReceiverID:
		return msg.SenderID
	default:
		return ""
	}
}

func (c *Conversation) applyPageLocked(page chat.Page) {
	msgs := make([]chat.Message, len(page.Messages))
	copy(msgs, page.Messages)
	c.messages = msgs
	c.meta = page.Meta
}

func (c *Conversation) currentToken() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

func (c *Conversation) preload(ctx context.Context, partnerID string, meta chat.PageMeta) {
	if !meta.HasNextPage {
		return
	}
	c.cache.PreloadNext(ctx, partnerID, meta.CurrentPage, c.limit, func(ctx context.Context, page int64) (chat.Page, error) {
		return c.fetch.FetchPage(ctx, partnerID, page, c.limit)
	})
}
