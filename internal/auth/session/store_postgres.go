package session

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
)

// PostgresStore implements Store using PostgreSQL (ripple.sessions).
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres-backed session store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Create inserts a new session row and returns its ULID.
func (s *PostgresStore) Create(ctx context.Context, now time.Time, userID string, dev DeviceContext, refreshHash string, expiresAt time.Time) (string, error) {
	id := ulid.Make().String()

	var ip net.IP
	if dev.IP != nil {
		ip = dev.IP
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO ripple.sessions (
			id, user_id, refresh_token_hash, remember_me,
			created_at, last_used_at, expires_at, revoked_at,
			replaced_by_session_id, user_agent, ip, revocation_reason
		) VALUES (
			$1, $2, $3, $4,
			$5, $5, $6, NULL,
			NULL, $7, $8, NULL
		)
	`, id, userID, refreshHash, dev.RememberMe, now, expiresAt, nullIfEmpty(dev.UserAgent), ip)
	if err != nil {
		return "", err
	}

	return id, nil
}

// GetByID loads a session row by ID.
func (s *PostgresStore) GetByID(ctx context.Context, sessionID string) (Row, error) {
	return scanSessionRow(s.pool.QueryRow(ctx, `
		SELECT
			id, user_id, refresh_token_hash, remember_me,
			created_at, last_used_at, expires_at, revoked_at,
			replaced_by_session_id
		FROM ripple.sessions
		WHERE id = $1
	`, sessionID))
}

// Rotate swaps old session for new inside a single transaction.
//
// The old row is locked by refresh hash (SELECT ... FOR UPDATE) so two
// concurrent refresh attempts with the same token serialize: the first
// rotates, the second trips reuse detection.
func (s *PostgresStore) Rotate(ctx context.Context, now time.Time, oldRefreshHash string, dev DeviceContext, newRefreshHash string, newExpiresAt time.Time) (RotateOutcome, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return RotateOutcome{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row, err := scanSessionRow(tx.QueryRow(ctx, `
		SELECT
			id, user_id, refresh_token_hash, remember_me,
			created_at, last_used_at, expires_at, revoked_at,
			replaced_by_session_id
		FROM ripple.sessions
		WHERE refresh_token_hash = $1
		FOR UPDATE
	`, oldRefreshHash))
	if err != nil {
		return RotateOutcome{}, err
	}

	if !row.ExpiresAt.After(now) {
		return RotateOutcome{}, ErrSessionExpired
	}

	// Reuse detection: a rotated refresh token presented again.
	if row.RevokedAt != nil && row.ReplacedBySessionID != nil {
		// Security incident: revoke every session for the user.
		if _, err := tx.Exec(ctx, `
			UPDATE ripple.sessions
			SET revoked_at = COALESCE(revoked_at, $2),
			    revocation_reason = COALESCE(revocation_reason, 'refresh_reuse')
			WHERE user_id = $1
		`, row.UserID, now); err != nil {
			return RotateOutcome{}, err
		}
		if err := tx.Commit(ctx); err != nil {
			return RotateOutcome{}, err
		}
		return RotateOutcome{}, ErrRefreshReuseDetected
	}

	// Revoked without replacement: a plain logout.
	if row.RevokedAt != nil {
		return RotateOutcome{}, ErrSessionRevoked
	}

	newID := ulid.Make().String()

	var ip net.IP
	if dev.IP != nil {
		ip = dev.IP
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO ripple.sessions (
			id, user_id, refresh_token_hash, remember_me,
			created_at, last_used_at, expires_at, revoked_at,
			replaced_by_session_id, user_agent, ip, revocation_reason
		) VALUES (
			$1, $2, $3, $4,
			$5, $5, $6, NULL,
			NULL, $7, $8, NULL
		)
	`, newID, row.UserID, newRefreshHash, dev.RememberMe, now, newExpiresAt, nullIfEmpty(dev.UserAgent), ip); err != nil {
		return RotateOutcome{}, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE ripple.sessions
		SET
			last_used_at = $2,
			revoked_at = $2,
			replaced_by_session_id = $3,
			revocation_reason = 'rotation'
		WHERE id = $1
	`, row.ID, now, newID); err != nil {
		return RotateOutcome{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return RotateOutcome{}, err
	}

	return RotateOutcome{NewSessionID: newID, UserID: row.UserID}, nil
}

// Touch updates last_used_at for a session.
func (s *PostgresStore) Touch(ctx context.Context, now time.Time, sessionID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE ripple.sessions
		SET last_used_at = $2
		WHERE id = $1
	`, sessionID, now)
	return err
}

// Revoke revokes a single session (idempotent).
func (s *PostgresStore) Revoke(ctx context.Context, now time.Time, sessionID string, reason string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE ripple.sessions
		SET revoked_at = COALESCE(revoked_at, $2),
		    revocation_reason = COALESCE(revocation_reason, $3)
		WHERE id = $1
	`, sessionID, now, reason)
	return err
}

// RevokeAll revokes all sessions for a user (idempotent).
func (s *PostgresStore) RevokeAll(ctx context.Context, now time.Time, userID string, reason string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE ripple.sessions
		SET revoked_at = COALESCE(revoked_at, $2),
		    revocation_reason = COALESCE(revocation_reason, $3)
		WHERE user_id = $1
	`, userID, now, reason)
	return err
}

// DeleteExpired removes sessions whose refresh window has passed.
func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM ripple.sessions
		WHERE expires_at <= $1
	`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanSessionRow(r pgx.Row) (Row, error) {
	var row Row
	err := r.Scan(
		&row.ID,
		&row.UserID,
		&row.RefreshTokenHash,
		&row.RememberMe,
		&row.CreatedAt,
		&row.LastUsedAt,
		&row.ExpiresAt,
		&row.RevokedAt,
		&row.ReplacedBySessionID,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Row{}, ErrSessionNotFound
	}
	if err != nil {
		return Row{}, err
	}
	return row, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
