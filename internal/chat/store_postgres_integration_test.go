package chat

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
)

// Integration tests are opt-in and require RIPPLE_TEST_DATABASE_URL.
// In non-CI runs, unreachable Postgres skips these tests to keep local runs fast.

func TestPostgresStore_InsertAndPageWindow(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })
	mustApplyChatSchema(t, pool, schema)

	s := mustNewChatStore(t, pool, schema)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	alice, bob := mustSeedUsers(t, pool, schema)
	key := NewConversationKey(alice, bob)

	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Millisecond)
	for i := 1; i <= 7; i++ {
		sender, receiver := alice, bob
		if i%2 == 0 {
			sender, receiver = bob, alice
		}
		if _, err := s.Insert(ctx, InsertInput{
			SenderID:   sender,
			ReceiverID: receiver,
			Text:       fmt.Sprintf("m%d", i),
			Now:        base.Add(time.Duration(i) * time.Second),
		}); err != nil {
			t.Fatalf("insert m%d: %v", i, err)
		}
	}

	p := NewPaginator(s)

	first, err := p.FetchPage(ctx, key, 1, 3)
	if err != nil {
		t.Fatalf("fetch page 1: %v", err)
	}
	assertTexts(t, first.Messages, "m5", "m6", "m7")
	if first.Meta.TotalPages != 3 || first.Meta.TotalMessages != 7 {
		t.Fatalf("page 1 meta = %+v", first.Meta)
	}
	if !first.Meta.HasNextPage || first.Meta.HasPrevPage {
		t.Fatalf("page 1 nav = %+v", first.Meta)
	}

	last, err := p.FetchPage(ctx, key, 3, 3)
	if err != nil {
		t.Fatalf("fetch page 3: %v", err)
	}
	assertTexts(t, last.Messages, "m1")
	if last.Meta.HasNextPage || !last.Meta.HasPrevPage {
		t.Fatalf("page 3 nav = %+v", last.Meta)
	}

	tail, err := p.Latest(ctx, key, 2)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	assertTexts(t, tail, "m6", "m7")
}

func TestPostgresStore_CountIsDirectionAgnostic(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })
	mustApplyChatSchema(t, pool, schema)

	s := mustNewChatStore(t, pool, schema)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	alice, bob := mustSeedUsers(t, pool, schema)

	for i := 0; i < 3; i++ {
		sender, receiver := alice, bob
		if i%2 == 0 {
			sender, receiver = bob, alice
		}
		if _, err := s.Insert(ctx, InsertInput{
			SenderID:   sender,
			ReceiverID: receiver,
			Text:       "ping",
		}); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	ab, err := s.Count(ctx, NewConversationKey(alice, bob))
	if err != nil {
		t.Fatalf("count a->b: %v", err)
	}
	ba, err := s.Count(ctx, NewConversationKey(bob, alice))
	if err != nil {
		t.Fatalf("count b->a: %v", err)
	}
	if ab != 3 || ba != 3 {
		t.Fatalf("counts = %d / %d, want 3 / 3", ab, ba)
	}
}

func TestPostgresStore_InsertRejectsEmptyBody(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })
	mustApplyChatSchema(t, pool, schema)

	s := mustNewChatStore(t, pool, schema)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	alice, bob := mustSeedUsers(t, pool, schema)

	_, err := s.Insert(ctx, InsertInput{SenderID: alice, ReceiverID: bob})
	if !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("insert empty body = %v, want ErrEmptyMessage", err)
	}

	n, err := s.Count(ctx, NewConversationKey(alice, bob))
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Fatalf("count = %d after rejected insert", n)
	}
}

func assertTexts(t *testing.T, msgs []Message, want ...string) {
	t.Helper()
	if len(msgs) != len(want) {
		t.Fatalf("got %d messages, want %d", len(msgs), len(want))
	}
	for i, w := range want {
		if msgs[i].Text != w {
			t.Fatalf("messages[%d].Text = %q, want %q", i, msgs[i].Text, w)
		}
	}
}

// ---- infrastructure ----

func mustNewChatStore(t *testing.T, pool *pgxpool.Pool, schema string) *PostgresStore {
	t.Helper()
	s, err := NewPostgresStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func mustOpenTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("RIPPLE_TEST_DATABASE_URL"))
	if raw == "" {
		t.Skip("integration test skipped: RIPPLE_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 12*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(raw)
	if err != nil {
		t.Fatalf("parse RIPPLE_TEST_DATABASE_URL: %v", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer pingCancel()

	c, err := pool.Acquire(pingCtx)
	if err != nil {
		pool.Close()
		if shouldSkipIntegration(err) {
			t.Skipf("integration test skipped: Postgres unreachable (RIPPLE_TEST_DATABASE_URL set): %v", err)
		}
		t.Fatalf("acquire: %v", err)
	}
	c.Release()

	return pool
}

func mustCreateTestSchema(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()

	schema := "ripple_it_" + strings.ToLower(ulid.Make().String())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := pool.Exec(ctx, `CREATE SCHEMA `+pgx.Identifier{schema}.Sanitize()); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return schema
}

func mustDropSchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, _ = pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
}

func mustApplyChatSchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	users := pgIdent(schema, "users")
	messages := pgIdent(schema, "messages")

	schemaSQL := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  id TEXT PRIMARY KEY,
  email TEXT NOT NULL,
  email_norm TEXT NOT NULL,
  full_name TEXT NOT NULL,
  avatar_url TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),

  CONSTRAINT chk_users_id_ulid_len CHECK (char_length(id) = 26),
  CONSTRAINT uq_users_email_norm UNIQUE (email_norm)
);

CREATE TABLE IF NOT EXISTS %s (
  id TEXT PRIMARY KEY,
  sender_id TEXT NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
  receiver_id TEXT NOT NULL REFERENCES %s(id) ON DELETE CASCADE,
  text TEXT NULL,
  image_url TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),

  CONSTRAINT chk_messages_id_ulid_len CHECK (char_length(id) = 26),
  CONSTRAINT chk_messages_not_empty CHECK (text IS NOT NULL OR image_url IS NOT NULL),
  CONSTRAINT chk_messages_no_self CHECK (sender_id <> receiver_id)
);
`, users, messages, users, users)

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
}

func mustSeedUsers(t *testing.T, pool *pgxpool.Pool, schema string) (alice, bob string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	users := pgIdent(schema, "users")
	seed := func(name string) string {
		id := ulid.Make().String()
		email := strings.ToLower(name) + "-" + strings.ToLower(id) + "@example.com"
		_, err := pool.Exec(ctx,
			`INSERT INTO `+users+` (id, email, email_norm, full_name) VALUES ($1, $2, $2, $3)`,
			id, email, name,
		)
		if err != nil {
			t.Fatalf("seed user %s: %v", name, err)
		}
		return id
	}
	return seed("Alice"), seed("Bob")
}

func shouldSkipIntegration(err error) bool {
	if err == nil {
		return false
	}
	if os.Getenv("CI") != "" {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "context deadline exceeded") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "dial tcp") ||
		strings.Contains(msg, "no such host") {
		return true
	}
	return false
}
