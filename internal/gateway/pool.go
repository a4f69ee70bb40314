package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quantex-io/depositwatch/internal/config"
	"github.com/quantex-io/depositwatch/internal/models"
)

// Factory lazily constructs a Gateway. Factories are registered in preference
// order; for EVM chains the WebSocket endpoint comes before the HTTP fallback.
type Factory struct {
	Name  string
	Build func(ctx context.Context) (Gateway, error)
}

// Pool caches one live, health-checked gateway per chain. A cache miss walks
// the registered factories in order, probes each candidate, and caches the
// first healthy one. A broken candidate is never cached.
type Pool struct {
	mu        sync.Mutex
	factories map[models.Chain][]Factory
	cached    map[models.Chain]Gateway
}

// NewPool creates an empty provider pool.
func NewPool() *Pool {
	return &Pool{
		factories: make(map[models.Chain][]Factory),
		cached:    make(map[models.Chain]Gateway),
	}
}

// Register adds gateway factories for a chain, in preference order.
func (p *Pool) Register(chain models.Chain, factories ...Factory) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.factories[chain] = append(p.factories[chain], factories...)

	slog.Info("gateway factories registered",
		"chain", chain,
		"count", len(p.factories[chain]),
	)
}

// Gateway returns a live gateway for the chain. The cached gateway is
// health-checked before reuse; if the probe fails it is dropped and the
// factories are walked again.
func (p *Pool) Gateway(ctx context.Context, chain models.Chain) (Gateway, error) {
	p.mu.Lock()
	cached, ok := p.cached[chain]
	p.mu.Unlock()

	if ok {
		if err := cached.CheckHealth(ctx); err == nil {
			return cached, nil
		}
		slog.Warn("cached gateway failed health check, rebuilding",
			"chain", chain,
			"provider", cached.Name(),
		)
		p.Invalidate(chain)
	}

	p.mu.Lock()
	factories := p.factories[chain]
	p.mu.Unlock()

	if len(factories) == 0 {
		return nil, fmt.Errorf("%w: no gateway factories for chain %s", config.ErrProviderUnavailable, chain)
	}

	var allErrors []error
	for _, f := range factories {
		g, err := f.Build(ctx)
		if err != nil {
			slog.Warn("gateway construction failed, trying next",
				"chain", chain,
				"factory", f.Name,
				"error", err,
			)
			allErrors = append(allErrors, fmt.Errorf("%s: %w", f.Name, err))
			continue
		}

		if err := g.CheckHealth(ctx); err != nil {
			slog.Warn("gateway health probe failed, trying next",
				"chain", chain,
				"factory", f.Name,
				"error", err,
			)
			closeGateway(g)
			allErrors = append(allErrors, fmt.Errorf("%s: %w", f.Name, err))
			continue
		}

		wrapped := newGuardedGateway(g)

		p.mu.Lock()
		p.cached[chain] = wrapped
		p.mu.Unlock()

		slog.Info("gateway cached",
			"chain", chain,
			"provider", g.Name(),
		)
		return wrapped, nil
	}

	return nil, fmt.Errorf("%w: chain=%s: %w", config.ErrAllProvidersFailed, chain, errors.Join(allErrors...))
}

// Invalidate drops the cached gateway for a chain so the next call rebuilds it.
func (p *Pool) Invalidate(chain models.Chain) {
	p.mu.Lock()
	g, ok := p.cached[chain]
	delete(p.cached, chain)
	p.mu.Unlock()

	if ok {
		closeGateway(g)
		slog.Debug("gateway invalidated", "chain", chain)
	}
}

// Chains returns the chains with registered factories.
func (p *Pool) Chains() []models.Chain {
	p.mu.Lock()
	defer p.mu.Unlock()
	chains := make([]models.Chain, 0, len(p.factories))
	for c := range p.factories {
		chains = append(chains, c)
	}
	return chains
}

// closeGateway releases resources for gateways holding connections.
func closeGateway(g Gateway) {
	type closer interface{ Close() }
	if c, ok := g.(closer); ok {
		c.Close()
	}
}

// guardedGateway wraps a Gateway with a rate limiter and circuit breaker.
type guardedGateway struct {
	inner Gateway
	rl    *RateLimiter
	cb    *CircuitBreaker
}

func newGuardedGateway(g Gateway) *guardedGateway {
	rps := config.RateLimitEsplora
	switch g.Chain().Family() {
	case models.FamilyEVM:
		rps = config.RateLimitScanAPI
	case models.FamilySolana:
		rps = config.RateLimitRPC
	}
	return &guardedGateway{
		inner: g,
		rl:    NewRateLimiter(g.Name(), g.Chain(), rps),
		cb:    NewCircuitBreaker(g.Name(), g.Chain(), config.CircuitBreakerThreshold, config.CircuitBreakerCooldown),
	}
}

func (g *guardedGateway) Name() string        { return g.inner.Name() }
func (g *guardedGateway) Chain() models.Chain { return g.inner.Chain() }

// Close releases the wrapped gateway's resources.
func (g *guardedGateway) Close() { closeGateway(g.inner) }

// guard applies the circuit breaker and rate limiter around one upstream call.
func (g *guardedGateway) guard(ctx context.Context, fn func() error) error {
	if !g.cb.Allow() {
		return fmt.Errorf("%w: provider %s", config.ErrCircuitOpen, g.inner.Name())
	}
	if err := g.rl.Wait(ctx); err != nil {
		return err
	}

	err := fn()
	if err != nil {
		// Domain sentinels (tx/receipt not yet visible) are not provider failures.
		if errors.Is(err, config.ErrReceiptNotFound) || errors.Is(err, config.ErrTxNotFound) {
			g.cb.RecordSuccess()
			return err
		}
		// A 429 means the provider is healthy but wants us to slow down:
		// hold the limiter for the advertised Retry-After instead of
		// counting it toward the breaker threshold.
		if errors.Is(err, config.ErrProviderRateLimit) {
			g.rl.Throttle(config.GetRetryAfter(err))
			return err
		}
		g.cb.RecordFailure()
		return err
	}

	g.cb.RecordSuccess()
	return nil
}

func (g *guardedGateway) FetchAddressTransactions(ctx context.Context, address string) ([]RawTransaction, error) {
	var result []RawTransaction
	err := g.guard(ctx, func() error {
		var e error
		result, e = g.inner.FetchAddressTransactions(ctx, address)
		return e
	})
	return result, err
}

func (g *guardedGateway) FetchTransactionDetail(ctx context.Context, txHash, address string) (*TxDetail, error) {
	var result *TxDetail
	err := g.guard(ctx, func() error {
		var e error
		result, e = g.inner.FetchTransactionDetail(ctx, txHash, address)
		return e
	})
	return result, err
}

func (g *guardedGateway) FetchReceipt(ctx context.Context, txHash string) (*Receipt, error) {
	var result *Receipt
	err := g.guard(ctx, func() error {
		var e error
		result, e = g.inner.FetchReceipt(ctx, txHash)
		return e
	})
	return result, err
}

func (g *guardedGateway) CurrentBlock(ctx context.Context) (uint64, error) {
	var result uint64
	err := g.guard(ctx, func() error {
		var e error
		result, e = g.inner.CurrentBlock(ctx)
		return e
	})
	return result, err
}

// CheckHealth bypasses the limiter and breaker: health probes must reach the
// provider even when the circuit is open, otherwise it could never close.
func (g *guardedGateway) CheckHealth(ctx context.Context) error {
	err := g.inner.CheckHealth(ctx)
	if err == nil && g.cb.State() != config.CircuitClosed {
		g.cb.RecordSuccess()
	}
	return err
}

// HealthResult holds the outcome of a single provider probe.
type HealthResult struct {
	Chain    models.Chain  `json:"chain"`
	Provider string        `json:"provider"`
	OK       bool          `json:"ok"`
	Latency  time.Duration `json:"latency"`
	Error    string        `json:"error,omitempty"`
}

// ProbeAll health-checks every cached or constructible gateway concurrently.
func (p *Pool) ProbeAll(ctx context.Context) []HealthResult {
	chains := p.Chains()

	var (
		results []HealthResult
		mu      sync.Mutex
		wg      sync.WaitGroup
	)

	for _, chain := range chains {
		wg.Add(1)
		go func(c models.Chain) {
			defer wg.Done()

			start := time.Now()
			g, err := p.Gateway(ctx, c)
			latency := time.Since(start)

			result := HealthResult{Chain: c, Latency: latency}
			if err != nil {
				result.Error = err.Error()
			} else {
				result.OK = true
				result.Provider = g.Name()
			}

			mu.Lock()
			results = append(results, result)
			mu.Unlock()

			if err != nil {
				slog.Warn("provider health check FAILED",
					"chain", c,
					"latency", latency.Round(time.Millisecond),
					"error", err,
				)
			} else {
				slog.Info("provider health check OK",
					"chain", c,
					"provider", g.Name(),
					"latency", latency.Round(time.Millisecond),
				)
			}
		}(chain)
	}

	wg.Wait()
	return results
}
