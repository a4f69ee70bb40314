// Package handlers holds the HTTP handlers for the deposit monitoring API.
package handlers

import (
	"net/http"

	"github.com/quantex-io/depositwatch/internal/api/httputil"
	"github.com/quantex-io/depositwatch/internal/config"
	"github.com/quantex-io/depositwatch/internal/monitor"
)

// HealthHandler returns a handler for GET /api/health. Always open.
func HealthHandler(cfg *config.Config, registry *monitor.Registry) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		httputil.JSON(rw, http.StatusOK, map[string]interface{}{
			"status":          "ok",
			"network":         cfg.Network,
			"active_monitors": registry.ActiveCount(),
		})
	}
}
