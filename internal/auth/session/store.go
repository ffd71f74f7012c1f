package session

import (
	"context"
	"net"
	"time"
)

// DeviceContext describes the client device that owns a session.
type DeviceContext struct {
	RememberMe bool
	UserAgent  string
	IP         net.IP
}

// Row mirrors the ripple.sessions row used by the session subsystem.
type Row struct {
	ID                  string
	UserID              string
	RefreshTokenHash    string
	RememberMe          bool
	CreatedAt           time.Time
	LastUsedAt          *time.Time
	ExpiresAt           time.Time
	RevokedAt           *time.Time
	ReplacedBySessionID *string
}

// RotateOutcome is the store-level result of a refresh rotation.
type RotateOutcome struct {
	NewSessionID string
	UserID       string
}

// Store abstracts persistence for session state.
//
// Rotation is a single atomic operation on the store: implementations
// lock the row matching the presented refresh hash (row lock or store
// mutex), detect reuse of already-rotated tokens, and swap old session
// for new in one step. This keeps the security-critical path inside
// the implementation, so in-memory and Postgres backends behave the
// same under concurrent refresh attempts.
type Store interface {
	// Create creates a new session row.
	Create(
		ctx context.Context,
		now time.Time,
		userID string,
		dev DeviceContext,
		refreshHash string,
		expiresAt time.Time,
	) (sessionID string, err error)

	// GetByID loads a session row by ID.
	GetByID(ctx context.Context, sessionID string) (Row, error)

	// Rotate atomically replaces the session owning oldRefreshHash with a
	// new session carrying newRefreshHash, revoking the old row and
	// linking replaced_by_session_id.
	//
	// Errors:
	//   - ErrSessionNotFound: no session owns oldRefreshHash.
	//   - ErrSessionExpired: the session's refresh window has passed.
	//   - ErrSessionRevoked: the session was revoked without rotation (logout).
	//   - ErrRefreshReuseDetected: oldRefreshHash was already rotated; the
	//     implementation has revoked every session of the user.
	Rotate(
		ctx context.Context,
		now time.Time,
		oldRefreshHash string,
		dev DeviceContext,
		newRefreshHash string,
		newExpiresAt time.Time,
	) (RotateOutcome, error)

	// Touch updates last_used_at for a session.
	Touch(ctx context.Context, now time.Time, sessionID string) error

	// Revoke revokes a single session. Revoking a revoked session is a no-op.
	Revoke(ctx context.Context, now time.Time, sessionID string, reason string) error

	// RevokeAll revokes all live sessions for a user.
	RevokeAll(ctx context.Context, now time.Time, userID string, reason string) error

	// DeleteExpired removes rows whose refresh window has passed.
	// Intended for periodic cleanup; returns the number deleted.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
