package session

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// MemoryStore implements Store in process memory.
//
// It mirrors PostgresStore semantics, including rotation reuse
// detection, and is used in tests and database-less development mode.
type MemoryStore struct {
	mu       sync.Mutex
	rows     map[string]*Row // by session ID
	byHash   map[string]string
	lastSeen map[string]DeviceContext
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows:     make(map[string]*Row),
		byHash:   make(map[string]string),
		lastSeen: make(map[string]DeviceContext),
	}
}

func (s *MemoryStore) Create(ctx context.Context, now time.Time, userID string, dev DeviceContext, refreshHash string, expiresAt time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.createLocked(now, userID, dev, refreshHash, expiresAt), nil
}

func (s *MemoryStore) createLocked(now time.Time, userID string, dev DeviceContext, refreshHash string, expiresAt time.Time) string {
	id := ulid.Make().String()
	lastUsed := now

	s.rows[id] = &Row{
		ID:               id,
		UserID:           userID,
		RefreshTokenHash: refreshHash,
		RememberMe:       dev.RememberMe,
		CreatedAt:        now,
		LastUsedAt:       &lastUsed,
		ExpiresAt:        expiresAt,
	}
	s.byHash[refreshHash] = id
	s.lastSeen[id] = dev

	return id
}

func (s *MemoryStore) GetByID(ctx context.Context, sessionID string) (Row, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[sessionID]
	if !ok {
		return Row{}, ErrSessionNotFound
	}
	return *row, nil
}

func (s *MemoryStore) Rotate(ctx context.Context, now time.Time, oldRefreshHash string, dev DeviceContext, newRefreshHash string, newExpiresAt time.Time) (RotateOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byHash[oldRefreshHash]
	if !ok {
		return RotateOutcome{}, ErrSessionNotFound
	}
	row := s.rows[id]

	if !row.ExpiresAt.After(now) {
		return RotateOutcome{}, ErrSessionExpired
	}

	if row.RevokedAt != nil && row.ReplacedBySessionID != nil {
		s.revokeAllLocked(row.UserID, now)
		return RotateOutcome{}, ErrRefreshReuseDetected
	}

	if row.RevokedAt != nil {
		return RotateOutcome{}, ErrSessionRevoked
	}

	newID := s.createLocked(now, row.UserID, dev, newRefreshHash, newExpiresAt)

	rotatedAt := now
	row.LastUsedAt = &rotatedAt
	row.RevokedAt = &rotatedAt
	row.ReplacedBySessionID = &newID

	return RotateOutcome{NewSessionID: newID, UserID: row.UserID}, nil
}

func (s *MemoryStore) Touch(ctx context.Context, now time.Time, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if row, ok := s.rows[sessionID]; ok {
		t := now
		row.LastUsedAt = &t
	}
	return nil
}

func (s *MemoryStore) Revoke(ctx context.Context, now time.Time, sessionID string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if row, ok := s.rows[sessionID]; ok && row.RevokedAt == nil {
		t := now
		row.RevokedAt = &t
	}
	return nil
}

func (s *MemoryStore) RevokeAll(ctx context.Context, now time.Time, userID string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.revokeAllLocked(userID, now)
	return nil
}

func (s *MemoryStore) revokeAllLocked(userID string, now time.Time) {
	for _, row := range s.rows {
		if row.UserID == userID && row.RevokedAt == nil {
			t := now
			row.RevokedAt = &t
		}
	}
}

func (s *MemoryStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, row := range s.rows {
		if !row.ExpiresAt.After(now) {
			delete(s.byHash, row.RefreshTokenHash)
			delete(s.lastSeen, id)
			delete(s.rows, id)
			n++
		}
	}
	return n, nil
}
