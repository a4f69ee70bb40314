// Package api wires the HTTP surface: health/status endpoints, provider
// probes, Prometheus metrics, and the websocket upgrade.
package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quantex-io/depositwatch/internal/api/handlers"
	"github.com/quantex-io/depositwatch/internal/api/middleware"
	"github.com/quantex-io/depositwatch/internal/config"
	"github.com/quantex-io/depositwatch/internal/gateway"
	"github.com/quantex-io/depositwatch/internal/monitor"
	"github.com/quantex-io/depositwatch/internal/pending"
	"github.com/quantex-io/depositwatch/internal/ws"
)

// Dependencies holds all service references needed by the API layer.
type Dependencies struct {
	Config   *config.Config
	Registry *monitor.Registry
	Pool     *gateway.Pool
	Store    *pending.Store
	Hub      *ws.Hub
}

// NewRouter creates and configures the chi router with all middleware and routes.
func NewRouter(deps *Dependencies) chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequestLogging)

		r.Get("/api/health", handlers.HealthHandler(deps.Config, deps.Registry))
		r.Get("/api/status", handlers.StatusHandler(deps.Registry, deps.Store, deps.Hub))
		r.Get("/api/providers", handlers.ProvidersHandler(deps.Pool))
		r.Handle("/metrics", promhttp.Handler())
	})

	// Outside the logging wrapper: the upgrade needs the raw ResponseWriter
	// to hijack the connection.
	r.Get("/ws", handlers.WSHandler(deps.Hub))

	slog.Info("router initialized",
		"middleware", []string{"realIP", "recoverer", "requestLogging"},
	)

	return r
}
