package handlers

import (
	"context"
	"net/http"

	"github.com/quantex-io/depositwatch/internal/api/httputil"
	"github.com/quantex-io/depositwatch/internal/config"
	"github.com/quantex-io/depositwatch/internal/monitor"
	"github.com/quantex-io/depositwatch/internal/ws"
)

// PendingCounter reports the pending-store entry count.
type PendingCounter interface {
	Count(ctx context.Context) (int, error)
}

// StatusHandler returns a handler for GET /api/status: live monitor, pending
// deposit, and subscriber counts.
func StatusHandler(registry *monitor.Registry, store PendingCounter, hub *ws.Hub) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		pendingCount, err := store.Count(r.Context())
		if err != nil {
			httputil.Error(rw, http.StatusInternalServerError, config.ErrorDatabase, err.Error())
			return
		}

		httputil.JSON(rw, http.StatusOK, map[string]interface{}{
			"active_monitors": registry.ActiveCount(),
			"pending":         pendingCount,
			"subscribers":     hub.SubscriberCount(),
		})
	}
}
