package handlers

import (
	"net/http"

	"github.com/quantex-io/depositwatch/internal/api/httputil"
	"github.com/quantex-io/depositwatch/internal/gateway"
)

// ProvidersHandler returns a handler for GET /api/providers: a live health
// probe of every registered chain gateway.
func ProvidersHandler(pool *gateway.Pool) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		results := pool.ProbeAll(r.Context())
		httputil.JSON(rw, http.StatusOK, results)
	}
}
