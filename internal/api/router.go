// Package api assembles the HTTP surface: health probes, prometheus metrics,
// and the per-job websocket stream. There is no upload or query API; cases
// enter through the CLI and leave through the export command.
package api

import (
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/casewire/casewire/internal/metrics"
	"github.com/casewire/casewire/internal/status"
)

// RouterConfig carries the dependencies the handlers need. The pool is shared
// with the river client; the router never owns it.
type RouterConfig struct {
	Pool      *pgxpool.Pool
	Hub       *status.Hub
	Version   string
	GitCommit string
	BuildDate string
	Logger    zerolog.Logger
}

// NewRouter builds the HTTP handler tree.
//
// The metrics middleware wraps each route individually so it sees the matched
// pattern; wrapping the mux from outside would label every series with the
// raw URL path.
func NewRouter(cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()

	health := NewHealthChecker(cfg.Pool, cfg.Version)
	mux.Handle("/healthz", metrics.HTTPMiddleware(health.Healthz()))
	mux.Handle("/readyz", metrics.HTTPMiddleware(health.Readyz()))
	mux.Handle("/version", metrics.HTTPMiddleware(VersionHandler(cfg.Version, cfg.GitCommit, cfg.BuildDate)))
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	mux.Handle("/ws/jobs/{id}", metrics.HTTPMiddleware(WatchJob(cfg.Hub)))

	return Tracing(RequestLogging(cfg.Logger)(mux))
}
