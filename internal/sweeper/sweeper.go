// Package sweeper re-verifies every pending deposit independently of any live
// per-session monitor, completing confirmations for deposits whose monitor
// stopped early (process restart, disconnect, error exhaustion).
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quantex-io/depositwatch/internal/config"
	"github.com/quantex-io/depositwatch/internal/gateway"
	"github.com/quantex-io/depositwatch/internal/metrics"
	"github.com/quantex-io/depositwatch/internal/models"
	"github.com/quantex-io/depositwatch/internal/monitor"
)

// SubscriberSource reports how many clients are listening for deposit events.
// The sweep is gated on at least one: with nobody listening there is no
// session whose deposit needs completing right now, and completed work would
// be repeated for free once someone connects.
type SubscriberSource interface {
	SubscriberCount() int
}

// attemptRecord tracks verification attempts for one (hash, chain) pair.
type attemptRecord struct {
	count   int
	updated time.Time
}

// Sweeper is the periodic pending-store verification pass. Stateless between
// runs except for the in-flight set (skip hashes a concurrent pass is already
// processing) and the bounded attempt-tracking map.
type Sweeper struct {
	pool        *gateway.Pool
	store       monitor.PendingStore
	completer   *monitor.Completer
	subscribers SubscriberSource
	now         func() time.Time

	mu       sync.Mutex
	inFlight map[string]struct{}
	attempts map[string]attemptRecord
}

// New creates a sweeper.
func New(pool *gateway.Pool, store monitor.PendingStore, completer *monitor.Completer, subscribers SubscriberSource) *Sweeper {
	return &Sweeper{
		pool:        pool,
		store:       store,
		completer:   completer,
		subscribers: subscribers,
		now:         time.Now,
		inFlight:    make(map[string]struct{}),
		attempts:    make(map[string]attemptRecord),
	}
}

// Sweep runs one verification pass: load the pending snapshot, verify hashes
// in fixed-width batches, and purge the expired attempt records afterwards.
func (s *Sweeper) Sweep(ctx context.Context) {
	if s.subscribers.SubscriberCount() == 0 {
		return
	}

	snapshot, err := s.store.Load(ctx)
	if err != nil {
		slog.Error("sweep aborted: pending snapshot load failed", "error", err)
		return
	}

	metrics.SweepsTotal.Inc()
	if len(snapshot) == 0 {
		s.purgeAttempts()
		return
	}

	slog.Debug("sweep started", "pending", len(snapshot))

	deposits := make([]models.PendingDeposit, 0, len(snapshot))
	for _, dep := range snapshot {
		deposits = append(deposits, dep)
	}

	// Fixed-width batches bound concurrent upstream calls.
	for start := 0; start < len(deposits); start += config.SweepBatchSize {
		end := start + config.SweepBatchSize
		if end > len(deposits) {
			end = len(deposits)
		}

		var wg sync.WaitGroup
		for _, dep := range deposits[start:end] {
			if !s.claim(dep.TxHash) {
				continue
			}
			wg.Add(1)
			go func(dep models.PendingDeposit) {
				defer wg.Done()
				defer s.unclaim(dep.TxHash)
				s.verify(ctx, dep)
			}(dep)
		}
		wg.Wait()

		if ctx.Err() != nil {
			return
		}
	}

	s.purgeAttempts()
}

// verify re-checks one pending deposit against its chain.
func (s *Sweeper) verify(ctx context.Context, dep models.PendingDeposit) {
	key := attemptKey(dep)

	// Attempt ceiling: delete and abandon without touching the provider.
	if s.attemptCount(key) >= config.MaxVerificationAttempts {
		if err := s.store.Remove(ctx, dep.TxHash); err != nil {
			slog.Error("failed to remove abandoned pending entry",
				"txHash", dep.TxHash,
				"error", err,
			)
			return
		}
		s.dropAttempts(key)
		metrics.SweepAbandonedTotal.Inc()
		slog.Warn("pending deposit abandoned after max verification attempts",
			"txHash", dep.TxHash,
			"chain", dep.Chain,
			"attempts", config.MaxVerificationAttempts,
		)
		return
	}

	// Already terminal: no upstream call, just finish the handoff. The
	// handoff's idempotence makes a repeat completion a safe no-op.
	if dep.Status == models.DepositStatusCompleted {
		if err := s.completer.Complete(ctx, dep); err != nil {
			s.recordFailure(key, dep, err)
		}
		return
	}

	var err error
	if dep.Chain.Family() == models.FamilyEVM {
		err = s.verifyByReceipt(ctx, dep)
	} else {
		err = s.verifyByConfirmations(ctx, dep)
	}
	if err != nil {
		s.recordFailure(key, dep, err)
	}
}

// verifyByConfirmations re-checks a UTXO or Solana deposit via transaction
// detail and completes it once the confirmation threshold is met.
func (s *Sweeper) verifyByConfirmations(ctx context.Context, dep models.PendingDeposit) error {
	gw, err := s.pool.Gateway(ctx, dep.Chain)
	if err != nil {
		return err
	}

	detail, err := gw.FetchTransactionDetail(ctx, dep.TxHash, dep.Address)
	if err != nil {
		return fmt.Errorf("fetch detail: %w", err)
	}

	if detail.Confirmations < required(dep) {
		dep.Confirmations = detail.Confirmations
		if _, err := s.store.Upsert(ctx, dep); err != nil {
			return fmt.Errorf("update pending: %w", err)
		}
		return nil
	}

	dep.Confirmations = detail.Confirmations
	dep.AmountRaw = detail.AmountRaw
	if detail.Fee != "" {
		dep.Fee = detail.Fee
	}
	return s.completer.Complete(ctx, dep)
}

// verifyByReceipt settles an EVM deposit by its receipt: a present receipt is
// terminal, status 1 confirms and anything else fails the deposit. An absent
// receipt leaves the entry pending for the next sweep.
func (s *Sweeper) verifyByReceipt(ctx context.Context, dep models.PendingDeposit) error {
	gw, err := s.pool.Gateway(ctx, dep.Chain)
	if err != nil {
		return err
	}

	receipt, err := gw.FetchReceipt(ctx, dep.TxHash)
	if errors.Is(err, config.ErrReceiptNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("fetch receipt: %w", err)
	}

	if receipt.Status != 1 {
		s.completer.Fail(ctx, dep)
		return nil
	}

	dep.Confirmations = required(dep)
	return s.completer.Complete(ctx, dep)
}

// recordFailure counts a transient verification failure and leaves the
// pending entry in the store for the next pass.
func (s *Sweeper) recordFailure(key string, dep models.PendingDeposit, err error) {
	s.mu.Lock()
	rec := s.attempts[key]
	rec.count++
	rec.updated = s.now()
	s.attempts[key] = rec
	count := rec.count
	s.mu.Unlock()

	slog.Warn("pending verification failed, will retry",
		"txHash", dep.TxHash,
		"chain", dep.Chain,
		"attempts", count,
		"maxAttempts", config.MaxVerificationAttempts,
		"error", err,
	)
}

// purgeAttempts drops attempt records idle longer than the tracking window.
func (s *Sweeper) purgeAttempts() {
	cutoff := s.now().Add(-config.AttemptTrackingWindow)

	s.mu.Lock()
	defer s.mu.Unlock()
	for key, rec := range s.attempts {
		if rec.updated.Before(cutoff) {
			delete(s.attempts, key)
		}
	}
}

func (s *Sweeper) claim(txHash string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[txHash]; busy {
		return false
	}
	s.inFlight[txHash] = struct{}{}
	return true
}

func (s *Sweeper) unclaim(txHash string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, txHash)
}

func (s *Sweeper) attemptCount(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts[key].count
}

func (s *Sweeper) dropAttempts(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.attempts, key)
}

func attemptKey(dep models.PendingDeposit) string {
	return dep.TxHash + ":" + string(dep.Chain)
}

func required(dep models.PendingDeposit) int {
	if dep.Required > 0 {
		return dep.Required
	}
	return config.RequiredConfirmations(dep.Chain)
}
