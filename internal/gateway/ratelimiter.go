package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/quantex-io/depositwatch/internal/models"
)

// RateLimiter spaces out calls to one provider. It combines a steady token
// bucket with a provider-directed hold: when the provider answers 429 with a
// Retry-After, Throttle suspends all calls until that deadline passes.
type RateLimiter struct {
	limiter *rate.Limiter
	name    string
	chain   models.Chain

	mu        sync.Mutex
	notBefore time.Time
}

// NewRateLimiter creates a limiter allowing rps requests per second against
// the named provider. Burst is pinned to 1 so calls spread evenly across the
// second instead of clustering at the window boundary.
func NewRateLimiter(name string, chain models.Chain, rps int) *RateLimiter {
	slog.Debug("rate limiter created",
		"provider", name,
		"chain", chain,
		"rps", rps,
	)
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		name:    name,
		chain:   chain,
	}
}

// Wait blocks until the provider may be called again or ctx is cancelled.
// A pending Throttle hold is served before the token bucket.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	rl.mu.Lock()
	hold := time.Until(rl.notBefore)
	rl.mu.Unlock()

	if hold > 0 {
		timer := time.NewTimer(hold)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := rl.limiter.Wait(ctx); err != nil {
		slog.Warn("rate limiter wait cancelled",
			"provider", rl.name,
			"chain", rl.chain,
			"error", err,
		)
		return err
	}
	return nil
}

// Throttle suspends the limiter for d, honoring a provider's Retry-After.
// A shorter hold never truncates a longer one already in place.
func (rl *RateLimiter) Throttle(d time.Duration) {
	if d <= 0 {
		return
	}

	until := time.Now().Add(d)
	rl.mu.Lock()
	extended := until.After(rl.notBefore)
	if extended {
		rl.notBefore = until
	}
	rl.mu.Unlock()

	if extended {
		slog.Warn("provider requested throttle",
			"provider", rl.name,
			"chain", rl.chain,
			"hold", d,
		)
	}
}

// Name returns the provider name this limiter is associated with.
func (rl *RateLimiter) Name() string {
	return rl.name
}
