package chat

import "context"

// Pagination defaults and bounds.
const (
	DefaultPageLimit   = 50
	DefaultLatestLimit = 20
	MaxPageLimit       = 200
)

// PageMeta is the navigational metadata of a fetched page.
//
// Page 1 is always the most recent window; "next page" means an older
// one, so hasNextPage signals more history further back in time.
type PageMeta struct {
	CurrentPage   int64 `json:"currentPage"`
	TotalPages    int64 `json:"totalPages"`
	TotalMessages int64 `json:"totalMessages"`
	HasNextPage   bool  `json:"hasNextPage"`
	HasPrevPage   bool  `json:"hasPrevPage"`
	Limit         int64 `json:"limit"`
}

// Page is one fetched window of a conversation, oldest-first.
type Page struct {
	Messages []Message `json:"messages"`
	Meta     PageMeta  `json:"pagination"`
}

// Paginator computes page windows over a conversation's history.
type Paginator struct {
	store Store
}

// NewPaginator wraps a message store.
func NewPaginator(store Store) *Paginator {
	return &Paginator{store: store}
}

// ClampLimit normalizes a requested page size: non-positive values get
// the default, oversized values are capped.
func ClampLimit(limit int64) int64 {
	if limit <= 0 {
		return DefaultPageLimit
	}
	if limit > MaxPageLimit {
		return MaxPageLimit
	}
	return limit
}

// FetchPage returns the page-th window of the conversation.
//
// The store orders newest-first; the windowed slice is reversed so the
// returned sequence is oldest-first within the page. Consumers append
// newer pages to the end of a growing chronological list and prepend
// older pages to the front.
//
// A page beyond totalPages yields an empty sequence with
// hasNextPage=false rather than an error.
func (p *Paginator) FetchPage(ctx context.Context, key ConversationKey, page, limit int64) (Page, error) {
	if page < 1 {
		page = 1
	}
	limit = ClampLimit(limit)

	total, err := p.store.Count(ctx, key)
	if err != nil {
		return Page{}, err
	}

	skip := (page - 1) * limit

	msgs, err := p.store.Query(ctx, key, skip, limit)
	if err != nil {
		return Page{}, err
	}

	reverseInPlace(msgs)

	totalPages := (total + limit - 1) / limit

	return Page{
		Messages: msgs,
		Meta: PageMeta{
			CurrentPage:   page,
			TotalPages:    totalPages,
			TotalMessages: total,
			HasNextPage:   page < totalPages,
			HasPrevPage:   page > 1,
			Limit:         limit,
		},
	}, nil
}

// Latest returns the most recent limit messages oldest-first, with no
// paging metadata. Used for lightweight previews.
func (p *Paginator) Latest(ctx context.Context, key ConversationKey, limit int64) ([]Message, error) {
	if limit <= 0 {
		limit = DefaultLatestLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}

	msgs, err := p.store.Query(ctx, key, 0, limit)
	if err != nil {
		return nil, err
	}

	reverseInPlace(msgs)
	return msgs, nil
}

func reverseInPlace(msgs []Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
