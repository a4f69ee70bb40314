package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quantex-io/depositwatch/internal/config"
	"github.com/quantex-io/depositwatch/internal/models"
	"github.com/quantex-io/depositwatch/internal/validate"
)

// Registry maps a session key to its live chain monitor. It exclusively owns
// the session maps: monitors never mutate them directly. All lifecycle
// transitions (create, reuse, replace, deferred teardown) go through here.
type Registry struct {
	deps    Deps
	network string

	mu       sync.Mutex
	monitors map[string]Monitor
	records  map[string]models.ConnectionRecord
	stops    map[string]Timer // pending disconnect teardowns
}

// NewRegistry creates an empty registry. network selects address validation
// parameters ("mainnet" or "testnet").
func NewRegistry(deps Deps, network string) *Registry {
	if deps.Clock == nil {
		deps.Clock = RealClock{}
	}
	return &Registry{
		deps:     deps,
		network:  network,
		monitors: make(map[string]Monitor),
		records:  make(map[string]models.ConnectionRecord),
		stops:    make(map[string]Timer),
	}
}

// Acquire returns the monitor for a session, creating or replacing as needed:
// identical parameters reuse the existing live monitor, anything stale
// (inactive, or different chain/currency/address) is stopped and replaced.
// A pending disconnect teardown for the session is cancelled.
func (r *Registry) Acquire(ctx context.Context, sessionKey string, params models.MonitorParams) (Monitor, error) {
	if err := r.validateParams(params); err != nil {
		return nil, err
	}

	wallet, err := r.deps.Wallets.FindWalletByUserAndCurrency(ctx, sessionKey, params.Currency, "ECO")
	if err != nil {
		return nil, fmt.Errorf("wallet lookup: %w", err)
	}
	if wallet == nil {
		return nil, fmt.Errorf("%w: user %s currency %s", config.ErrWalletNotFound, sessionKey, params.Currency)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Reconnect cancels any scheduled teardown.
	if t, ok := r.stops[sessionKey]; ok {
		t.Stop()
		delete(r.stops, sessionKey)
		slog.Debug("cancelled scheduled teardown on reconnect", "sessionKey", sessionKey)
	}

	if existing, ok := r.monitors[sessionKey]; ok {
		if existing.Active() && existing.Params().Equal(params) {
			slog.Debug("reusing existing monitor",
				"sessionKey", sessionKey,
				"chain", params.Chain,
				"address", params.Address,
			)
			return existing, nil
		}

		slog.Info("replacing stale monitor",
			"sessionKey", sessionKey,
			"oldChain", existing.Params().Chain,
			"oldAddress", existing.Params().Address,
			"newChain", params.Chain,
			"newAddress", params.Address,
		)
		existing.Stop()
		delete(r.monitors, sessionKey)
	}

	m, err := New(sessionKey, wallet.UserID, wallet.ID, params, r.deps)
	if err != nil {
		return nil, err
	}

	r.monitors[sessionKey] = m
	r.records[sessionKey] = models.ConnectionRecord{
		SessionKey:  sessionKey,
		Params:      params,
		ConnectedAt: r.deps.Clock.Now(),
	}
	m.Start()

	return m, nil
}

// Release schedules a deferred teardown for a disconnected session. Contract
// types holding an exclusive address lock get a short grace period so the
// address frees up promptly; shared addresses get a longer one to tolerate
// brief reconnects. A reconnect before the grace period elapses cancels it.
func (r *Registry) Release(sessionKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[sessionKey]
	if !ok {
		return
	}

	grace := config.GracePeriodShared
	if record.Params.ContractType.Exclusive() {
		grace = config.GracePeriodExclusive
	}

	if t, ok := r.stops[sessionKey]; ok {
		t.Stop()
	}
	r.stops[sessionKey] = r.deps.Clock.AfterFunc(grace, func() {
		r.teardown(sessionKey)
	})

	slog.Info("teardown scheduled",
		"sessionKey", sessionKey,
		"grace", grace,
		"contractType", record.Params.ContractType,
	)
}

// teardown stops the session's monitor and clears all session state.
func (r *Registry) teardown(sessionKey string) {
	r.mu.Lock()
	m, ok := r.monitors[sessionKey]
	delete(r.monitors, sessionKey)
	delete(r.records, sessionKey)
	delete(r.stops, sessionKey)
	r.mu.Unlock()

	if ok {
		m.Stop()
		slog.Info("monitor torn down after disconnect grace period", "sessionKey", sessionKey)
	}
}

// Get returns the live monitor for a session, if any.
func (r *Registry) Get(sessionKey string) (Monitor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.monitors[sessionKey]
	return m, ok
}

// ActiveCount returns the number of monitors currently polling.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, m := range r.monitors {
		if m.Active() {
			n++
		}
	}
	return n
}

// StopAll stops every monitor and cancels every pending teardown. Used on
// process shutdown.
func (r *Registry) StopAll() {
	r.mu.Lock()
	monitors := make([]Monitor, 0, len(r.monitors))
	for _, m := range r.monitors {
		monitors = append(monitors, m)
	}
	for key, t := range r.stops {
		t.Stop()
		delete(r.stops, key)
	}
	r.monitors = make(map[string]Monitor)
	r.records = make(map[string]models.ConnectionRecord)
	r.mu.Unlock()

	for _, m := range monitors {
		m.Stop()
	}

	slog.Info("all monitors stopped", "count", len(monitors))
}

// validateParams fails fast on malformed subscription parameters.
func (r *Registry) validateParams(params models.MonitorParams) error {
	if params.Chain.Family() == "" {
		return fmt.Errorf("%w: %s", config.ErrInvalidChain, params.Chain)
	}
	if params.Currency == "" {
		return config.ErrMissingCurrency
	}
	if err := validate.Address(params.Chain, params.Address, r.network); err != nil {
		return fmt.Errorf("%w: %v", config.ErrInvalidAddress, err)
	}
	return nil
}

// connectedFor reports how long a session has been connected. Test hook.
func (r *Registry) connectedFor(sessionKey string) (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[sessionKey]
	if !ok {
		return 0, false
	}
	return r.deps.Clock.Now().Sub(record.ConnectedAt), true
}
