package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
)

// PostgresStore is a message Store backed by PostgreSQL.
//
// Ownership model: the store does not own the pgx pool; the caller
// closes it.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "ripple").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("chat: empty schema")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed message store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "ripple",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("chat: nil pool")
	}
	return st, nil
}

// Count returns the number of messages between the two participants.
func (s *PostgresStore) Count(ctx context.Context, key ConversationKey) (int64, error) {
	messages := pgIdent(s.schema, "messages")

	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT count(*)
		   FROM `+messages+`
		  WHERE (sender_id = $1 AND receiver_id = $2)
		     OR (sender_id = $2 AND receiver_id = $1)`,
		key.A, key.B,
	).Scan(&n)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Query returns up to take messages newest-first, skipping skip.
//
// created_at plus the ULID id gives a deterministic total order even
// when two messages share a timestamp.
func (s *PostgresStore) Query(ctx context.Context, key ConversationKey, skip, take int64) ([]Message, error) {
	if take <= 0 {
		return []Message{}, nil
	}
	if skip < 0 {
		skip = 0
	}

	messages := pgIdent(s.schema, "messages")

	rows, err := s.pool.Query(ctx,
		`SELECT id, sender_id, receiver_id, text, image_url, created_at
		   FROM `+messages+`
		  WHERE (sender_id = $1 AND receiver_id = $2)
		     OR (sender_id = $2 AND receiver_id = $1)
		  ORDER BY created_at DESC, id DESC
		  OFFSET $3
		  LIMIT $4`,
		key.A, key.B, skip, take,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Message, 0, take)
	for rows.Next() {
		var (
			m        Message
			text     *string
			imageURL *string
		)
		if err := rows.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &text, &imageURL, &m.CreatedAt); err != nil {
			return nil, err
		}
		if text != nil {
			m.Text = *text
		}
		if imageURL != nil {
			m.ImageURL = *imageURL
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return out, nil
}

// Insert appends a message, assigning a ULID id from the insert instant
// so id order and created_at order agree.
func (s *PostgresStore) Insert(ctx context.Context, in InsertInput) (Message, error) {
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

	id := ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()

	messages := pgIdent(s.schema, "messages")

	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+messages+` (id, sender_id, receiver_id, text, image_url, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		id, in.SenderID, in.ReceiverID, nullIfEmpty(in.Text), nullIfEmpty(in.ImageURL), now,
	)
	if err != nil {
		return Message{}, err
	}

	return Message{
		ID:         id,
		SenderID:   in.SenderID,
		ReceiverID: in.ReceiverID,
		Text:       in.Text,
		ImageURL:   in.ImageURL,
		CreatedAt:  now,
	}, nil
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
