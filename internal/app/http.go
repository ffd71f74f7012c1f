package app

import (
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ripple/internal/httpapi"
	"ripple/internal/push"
)

// registerHTTP mounts all routes on mux: operational endpoints, the JSON
// API, and the websocket push channel.
func registerHTTP(mux *http.ServeMux, log Logger, cfg Config, pool *pgxpool.Pool, dbEnabled bool, m *Metrics, gateway *push.Gateway, api *httpapi.Handler) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")

		if !dbEnabled {
			if cfg.ReadinessRequireDB {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte("db required\n"))
				return
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok\n"))
			return
		}

		if err := PingDB(r.Context(), pool, 2*time.Second); err != nil {
			log.Warn("readyz.db.fail", "err", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("db unreachable\n"))
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.Handle("GET /metrics", promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}))

	api.Register(mux)

	mux.HandleFunc("/ws", gateway.HandleWS)
}
