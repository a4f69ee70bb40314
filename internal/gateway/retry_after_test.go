package gateway

import (
	"net/http"
	"testing"
	"time"
)

func TestRetryAfterHint(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  time.Duration
	}{
		{"seconds", "120", 120 * time.Second},
		{"zero seconds", "0", 0},
		{"negative seconds", "-5", 0},
		{"garbage", "soon", 0},
		{"missing", "", 0},
		{"past HTTP-date", "Thu, 01 Dec 1994 16:00:00 GMT", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			if tt.value != "" {
				h.Set("Retry-After", tt.value)
			}
			if got := retryAfterHint(h); got != tt.want {
				t.Errorf("retryAfterHint(%q) = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}

func TestRetryAfterHintHTTPDate(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", time.Now().Add(90*time.Second).UTC().Format(http.TimeFormat))

	got := retryAfterHint(h)
	if got <= 0 || got > 90*time.Second {
		t.Errorf("retryAfterHint() = %v, want a positive duration up to 90s", got)
	}
}
