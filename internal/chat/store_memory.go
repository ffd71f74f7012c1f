package chat

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// MemoryStore is an in-memory message Store mirroring PostgresStore
// semantics. Used in tests and database-less development mode.
type MemoryStore struct {
	mu   sync.RWMutex
	byKy map[ConversationKey][]Message // append order == chronological order
}

// NewMemoryStore creates an empty in-memory message store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byKy: make(map[ConversationKey][]Message)}
}

func (s *MemoryStore) Count(ctx context.Context, key ConversationKey) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return int64(len(s.byKy[key])), nil
}

func (s *MemoryStore) Query(ctx context.Context, key ConversationKey, skip, take int64) ([]Message, error) {
	if take <= 0 {
		return []Message{}, nil
	}
	if skip < 0 {
		skip = 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.byKy[key]
	n := int64(len(all))

	// Stored oldest-first; serve newest-first like the SQL ORDER BY DESC.
	out := make([]Message, 0, take)
	for i := n - 1 - skip; i >= 0 && int64(len(out)) < take; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (s *MemoryStore) Insert(ctx context.Context, in InsertInput) (Message, error) {
	if in.SenderID == "" || in.ReceiverID == "" {
		return Message{}, ErrInvalidInput
	}
	if in.Text == "" && in.ImageURL == "" {
		return Message{}, ErrEmptyMessage
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	m := Message{
		ID:         ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		SenderID:   in.SenderID,
		ReceiverID: in.ReceiverID,
		Text:       in.Text,
		ImageURL:   in.ImageURL,
		CreatedAt:  now,
	}

	key := NewConversationKey(in.SenderID, in.ReceiverID)

	s.mu.Lock()
	s.byKy[key] = append(s.byKy[key], m)
	s.mu.Unlock()

	return m, nil
}
