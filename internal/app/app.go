// Package app wires the Ripple server runtime: config, logging,
// metrics, HTTP routes, and the push gateway.
package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"ripple/internal/auth/session"
	"ripple/internal/chat"
	"ripple/internal/httpapi"
	"ripple/internal/identity"
	"ripple/internal/push"
)

// Store is a small app-level lifecycle abstraction.
// It exists to allow DB-backed resources to be closed gracefully.
type Store interface {
	Close(ctx context.Context) error
}

// nopStore is used for in-memory store mode.
type nopStore struct{}

func (nopStore) Close(_ context.Context) error { return nil }

// App is the Ripple server runtime: it owns HTTP server wiring and push
// gateway dependencies.
type App struct {
	cfg Config
	log Logger

	store Store

	dbPool    *pgxpool.Pool
	dbEnabled bool

	metrics *Metrics
	gateway *push.Gateway
	api     *httpapi.Handler
}

type backends struct {
	users    identity.Store
	messages chat.Store
	sessions session.Store
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	metrics := NewMetrics()

	st, dbPool, dbEnabled, be, err := newStore(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	sessionSvc, err := newSessionService(log, be.sessions)
	if err != nil {
		if dbPool != nil {
			dbPool.Close()
		}
		return nil, err
	}

	registry := push.NewRegistry(log, push.WithStats(pushStats{m: metrics}))
	gateway := push.NewGateway(log, registry, sessionSvc)

	apiCfg := httpapi.LoadConfigFromEnv()
	api, err := httpapi.NewHandler(log, apiCfg, be.users, sessionSvc, be.messages,
		httpapi.WithDeliverer(registry),
		httpapi.WithOnMessageSent(metrics.MessagesSent.Inc),
	)
	if err != nil {
		if dbPool != nil {
			dbPool.Close()
		}
		return nil, err
	}

	return &App{
		cfg:       cfg,
		log:       log,
		store:     st,
		dbPool:    dbPool,
		dbEnabled: dbEnabled,
		metrics:   metrics,
		gateway:   gateway,
		api:       api,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()

	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.metrics, a.gateway, a.api)

	handler := WithRequestLogging(WithCORS(WithSecurityHeaders(mux), a.cfg, a.log), a.log, a.metrics)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	if err := a.store.Close(shutdownCtx); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}

	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// newStore decides between Postgres-backed persistence and in-memory dev stores.
func newStore(ctx context.Context, cfg Config, log Logger) (Store, *pgxpool.Pool, bool, backends, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		be := backends{
			users:    identity.NewMemoryStore(),
			messages: chat.NewMemoryStore(),
			sessions: session.NewMemoryStore(),
		}
		return nopStore{}, nil, false, be, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, false, backends{}, err
	}

	log.Info("db.enabled.postgres_store")

	users, err := identity.NewPostgresStore(pool)
	if err != nil {
		pool.Close()
		return nil, nil, false, backends{}, err
	}
	messages, err := chat.NewPostgresStore(pool)
	if err != nil {
		pool.Close()
		return nil, nil, false, backends{}, err
	}

	be := backends{
		users:    users,
		messages: messages,
		sessions: session.NewPostgresStore(pool),
	}
	return dbStore{pool: pool}, pool, true, be, nil
}

// newSessionService builds the session service. Without a configured
// signing key it falls back to an ephemeral keypair: tokens then die
// with the process, which is acceptable for development only.
func newSessionService(log Logger, store session.Store) (*session.Service, error) {
	if os.Getenv("RIPPLE_PASETO_V4_SECRET_KEY_HEX") != "" {
		cfg, err := session.LoadConfigFromEnv()
		if err != nil {
			return nil, err
		}
		tokens, err := session.NewPasetoV4PublicManager(cfg)
		if err != nil {
			return nil, err
		}
		return session.NewService(cfg, store, tokens), nil
	}

	log.Warn("auth.paseto_key.ephemeral", "hint", "set RIPPLE_PASETO_V4_SECRET_KEY_HEX for stable tokens")
	cfg := session.DefaultConfig()
	tokens := session.NewEphemeralPasetoV4PublicManager(cfg)
	return session.NewService(cfg, store, tokens), nil
}

type dbStore struct {
	pool *pgxpool.Pool
}

func (s dbStore) Close(_ context.Context) error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// pushStats adapts the metrics registry to the push.Stats sink.
type pushStats struct {
	m *Metrics
}

func (s pushStats) ClientAdded()   { s.m.PushClients.Inc() }
func (s pushStats) ClientRemoved() { s.m.PushClients.Dec() }
func (s pushStats) Delivered()     { s.m.PushDelivered.Inc() }
func (s pushStats) Dropped()       { s.m.PushDropped.Inc() }
