// Package monitor implements the per-session chain monitors, their registry,
// and the confirmed-deposit completion path.
//
// A chain monitor is a small state machine (IDLE -> POLLING -> STOPPED) that
// polls a blockchain data gateway for deposits to one address on behalf of
// one user session. It processes at most one confirmed deposit per lifetime;
// further deposits to the same address require a fresh subscription.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quantex-io/depositwatch/internal/config"
	"github.com/quantex-io/depositwatch/internal/dedup"
	"github.com/quantex-io/depositwatch/internal/gateway"
	"github.com/quantex-io/depositwatch/internal/metrics"
	"github.com/quantex-io/depositwatch/internal/models"
)

// State is the lifecycle state of a chain monitor.
type State string

const (
	StateIdle    State = "IDLE"
	StatePolling State = "POLLING"
	StateStopped State = "STOPPED"
)

// StopReason records why a monitor reached STOPPED.
type StopReason string

const (
	StopFound          StopReason = "found"
	StopErrorExhausted StopReason = "error-exhausted"
	StopExternal       StopReason = "external-stop"
)

// Monitor is one live deposit watch.
type Monitor interface {
	// Start transitions IDLE -> POLLING and begins the poll loop with an
	// immediate first poll. Calling Start on a non-idle monitor is a no-op.
	Start()
	// Stop transitions to STOPPED(external-stop) and cancels the scheduled
	// next poll. Idempotent.
	Stop()
	// Active reports whether the monitor is still polling.
	Active() bool
	// DepositFound reports whether a confirmed deposit was processed.
	DepositFound() bool
	// Params returns the watch target.
	Params() models.MonitorParams
	// State returns the current lifecycle state.
	State() State
	// Reason returns the stop reason, or "" while not stopped.
	Reason() StopReason
}

// Deps bundles the collaborators every chain monitor needs.
type Deps struct {
	Pool      *gateway.Pool
	Store     PendingStore
	Dedup     *dedup.Ledger
	Wallets   WalletStore
	Completer *Completer
	Broadcast Broadcaster
	Clock     Clock
}

// pollFunc runs one poll cycle. It returns found=true once a confirmed
// deposit has been fully processed, which terminates the monitor.
type pollFunc func(ctx context.Context) (found bool, err error)

// constructors maps a chain family to its poll-cycle implementation.
// Solana reports finalized signatures through the same listing shape as the
// explorer APIs, so it rides the list-based poll.
var constructors = map[models.ChainFamily]func(*chainMonitor) pollFunc{
	models.FamilyUTXO:   newListPoll,
	models.FamilySolana: newListPoll,
	models.FamilyEVM:    newReceiptPoll,
}

// chainMonitor is the shared state machine. The chain-family poll function is
// plugged in at construction; everything else (scheduling, error budget,
// backoff, stop handling) is common.
type chainMonitor struct {
	sessionKey string
	userID     string
	walletID   string
	params     models.MonitorParams
	required   int
	base       time.Duration

	deps Deps
	poll pollFunc

	mu           sync.Mutex
	state        State
	reason       StopReason
	depositFound bool
	errCount     int
	cancel       context.CancelFunc
	done         chan struct{}
}

// New constructs a monitor for the chain family of params.Chain.
func New(sessionKey, userID, walletID string, params models.MonitorParams, deps Deps) (Monitor, error) {
	build, ok := constructors[params.Chain.Family()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", config.ErrInvalidChain, params.Chain)
	}
	if deps.Clock == nil {
		deps.Clock = RealClock{}
	}

	m := &chainMonitor{
		sessionKey: sessionKey,
		userID:     userID,
		walletID:   walletID,
		params:     params,
		required:   config.RequiredConfirmations(params.Chain),
		base:       config.PollInterval(params.Chain),
		deps:       deps,
		state:      StateIdle,
		done:       make(chan struct{}),
	}
	m.poll = build(m)
	return m, nil
}

func (m *chainMonitor) Params() models.MonitorParams { return m.params }

func (m *chainMonitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *chainMonitor) Reason() StopReason {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reason
}

func (m *chainMonitor) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StatePolling
}

func (m *chainMonitor) DepositFound() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.depositFound
}

func (m *chainMonitor) Start() {
	m.mu.Lock()
	if m.state != StateIdle {
		m.mu.Unlock()
		return
	}
	m.state = StatePolling
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.mu.Unlock()

	metrics.ActiveMonitors.Inc()
	slog.Info("monitor started",
		"sessionKey", m.sessionKey,
		"chain", m.params.Chain,
		"currency", m.params.Currency,
		"address", m.params.Address,
		"pollInterval", m.base,
	)

	go m.run(ctx)
}

func (m *chainMonitor) Stop() {
	m.mu.Lock()
	if m.state == StateStopped {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-m.done
		return
	}

	// Never started: stop directly.
	m.finish(StopExternal)
}

// run is the poll loop. Cycles execute strictly sequentially: the next poll
// is scheduled only after the current one resolves.
func (m *chainMonitor) run(ctx context.Context) {
	defer close(m.done)
	defer metrics.ActiveMonitors.Dec()

	for {
		found, err := m.poll(ctx)
		if ctx.Err() != nil {
			m.finish(StopExternal)
			return
		}

		metrics.PollsTotal.WithLabelValues(string(m.params.Chain)).Inc()

		var delay time.Duration
		if err != nil {
			metrics.PollErrorsTotal.WithLabelValues(string(m.params.Chain)).Inc()
			m.mu.Lock()
			m.errCount++
			n := m.errCount
			m.mu.Unlock()

			slog.Warn("poll cycle failed",
				"sessionKey", m.sessionKey,
				"chain", m.params.Chain,
				"address", m.params.Address,
				"consecutiveErrors", n,
				"class", transientOrFatal(err),
				"error", err,
			)

			if n >= config.MonitorErrorBudget {
				slog.Error("monitor error budget exhausted, stopping",
					"sessionKey", m.sessionKey,
					"chain", m.params.Chain,
					"address", m.params.Address,
					"errors", n,
				)
				m.finish(StopErrorExhausted)
				return
			}

			// A provider's Retry-After overrides the computed backoff when it
			// asks for a longer wait.
			delay = backoff(m.base, n)
			if ra := config.GetRetryAfter(err); ra > delay {
				delay = ra
				if delay > config.BackoffMax {
					delay = config.BackoffMax
				}
			}
		} else {
			m.mu.Lock()
			m.errCount = 0
			m.mu.Unlock()

			if found {
				m.mu.Lock()
				m.depositFound = true
				m.mu.Unlock()
				m.finish(StopFound)
				return
			}
			delay = m.base
		}

		timer := m.deps.Clock.NewTimer(delay)
		select {
		case <-timer.C():
		case <-ctx.Done():
			timer.Stop()
			m.finish(StopExternal)
			return
		}
	}
}

func (m *chainMonitor) finish(reason StopReason) {
	m.mu.Lock()
	if m.state == StateStopped {
		m.mu.Unlock()
		return
	}
	m.state = StateStopped
	m.reason = reason
	m.mu.Unlock()

	slog.Info("monitor stopped",
		"sessionKey", m.sessionKey,
		"chain", m.params.Chain,
		"address", m.params.Address,
		"reason", reason,
	)
}

// backoff returns base * 2^(n-1) capped at the configured maximum, where n is
// the consecutive-error count.
func backoff(base time.Duration, n int) time.Duration {
	if n < 1 {
		return base
	}
	d := base
	for i := 1; i < n; i++ {
		d *= 2
		if d >= config.BackoffMax {
			return config.BackoffMax
		}
	}
	if d > config.BackoffMax {
		return config.BackoffMax
	}
	return d
}

// writePending upserts a PENDING entry for a sighting and broadcasts progress
// when the stored confirmation count actually changed.
func (m *chainMonitor) writePending(ctx context.Context, txHash, amountRaw string, confirmations int) error {
	dep := models.PendingDeposit{
		TxHash:        txHash,
		Chain:         m.params.Chain,
		Currency:      m.params.Currency,
		UserID:        m.userID,
		WalletID:      m.walletID,
		Address:       m.params.Address,
		AmountRaw:     amountRaw,
		Confirmations: confirmations,
		Required:      m.required,
		Status:        models.DepositStatusPending,
		ContractType:  m.params.ContractType,
	}

	changed, err := m.deps.Store.Upsert(ctx, dep)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	metrics.PendingWritesTotal.Inc()
	m.deps.Broadcast.Broadcast(DepositTopic, m.userID, models.DepositEvent{
		Type:          "deposit_pending",
		UserID:        m.userID,
		Chain:         m.params.Chain,
		Currency:      m.params.Currency,
		Address:       m.params.Address,
		TxHash:        txHash,
		Confirmations: confirmations,
		Required:      m.required,
		Status:        models.DepositStatusPending,
		AmountRaw:     amountRaw,
	})

	slog.Debug("pending deposit updated",
		"txHash", txHash,
		"chain", m.params.Chain,
		"confirmations", confirmations,
		"required", m.required,
	)
	return nil
}

// complete fetches full detail for a threshold-crossing sighting, performs the
// credit handoff, and marks the dedup ledger. A detail-fetch failure is
// returned without marking, so the sighting is retried on the next poll.
func (m *chainMonitor) complete(ctx context.Context, gw gateway.Gateway, txHash, dedupKey string) (bool, error) {
	detail, err := gw.FetchTransactionDetail(ctx, txHash, m.params.Address)
	if err != nil {
		return false, fmt.Errorf("fetch detail %s: %w", txHash, err)
	}

	dep := models.PendingDeposit{
		TxHash:        txHash,
		Chain:         m.params.Chain,
		Currency:      m.params.Currency,
		UserID:        m.userID,
		WalletID:      m.walletID,
		Address:       m.params.Address,
		AmountRaw:     detail.AmountRaw,
		Fee:           detail.Fee,
		Confirmations: detail.Confirmations,
		Required:      m.required,
		Status:        models.DepositStatusPending,
		ContractType:  m.params.ContractType,
	}

	// Discard the result if the monitor was stopped while the fetch was in
	// flight.
	if !m.Active() {
		return false, nil
	}

	if err := m.deps.Completer.Complete(ctx, dep); err != nil {
		return false, err
	}

	m.deps.Dedup.Mark(dedupKey)
	return true, nil
}

// transientOrFatal classifies a gateway error for logging.
func transientOrFatal(err error) string {
	if config.IsTransient(err) || errors.Is(err, config.ErrProviderRateLimit) ||
		errors.Is(err, config.ErrCircuitOpen) || errors.Is(err, config.ErrAllProvidersFailed) {
		return "transient"
	}
	return "fatal"
}
