package gateway

import (
	"net/http"
	"strconv"
	"time"
)

// retryAfterHint extracts the backoff a provider requested on a 429 response.
// Both delta-seconds ("120") and HTTP-date forms are accepted. A missing,
// malformed, or already-elapsed value yields 0, meaning no hint.
func retryAfterHint(h http.Header) time.Duration {
	val := h.Get("Retry-After")
	if val == "" {
		return 0
	}

	if secs, err := strconv.Atoi(val); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}

	if t, err := http.ParseTime(val); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}

	return 0
}
