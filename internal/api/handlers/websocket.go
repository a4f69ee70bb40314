package handlers

import (
	"net/http"

	"github.com/quantex-io/depositwatch/internal/api/httputil"
	"github.com/quantex-io/depositwatch/internal/ws"
)

// WSHandler returns a handler for GET /ws. The session key is the caller's
// user id; upstream authentication middleware is expected to have vetted it.
func WSHandler(hub *ws.Hub) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		sessionKey := r.URL.Query().Get("userId")
		if sessionKey == "" {
			httputil.Error(rw, http.StatusBadRequest, "ERROR_MISSING_SESSION", "userId query parameter is required")
			return
		}

		ws.ServeWS(hub, sessionKey, rw, r)
	}
}
