package sweeper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/quantex-io/depositwatch/internal/config"
	"github.com/quantex-io/depositwatch/internal/gateway"
	"github.com/quantex-io/depositwatch/internal/models"
	"github.com/quantex-io/depositwatch/internal/monitor"
	"github.com/quantex-io/depositwatch/internal/notify"
)

// --- Fakes ---

type fakeGateway struct {
	chain models.Chain

	mu           sync.Mutex
	detail       *gateway.TxDetail
	detailErr    error
	receipt      *gateway.Receipt
	receiptErr   error
	detailCalls  int
	receiptCalls int
}

func (f *fakeGateway) Name() string        { return "fake" }
func (f *fakeGateway) Chain() models.Chain { return f.chain }

func (f *fakeGateway) FetchAddressTransactions(_ context.Context, _ string) ([]gateway.RawTransaction, error) {
	return nil, nil
}

func (f *fakeGateway) FetchTransactionDetail(_ context.Context, _, _ string) (*gateway.TxDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detailCalls++
	if f.detailErr != nil {
		return nil, f.detailErr
	}
	return f.detail, nil
}

func (f *fakeGateway) FetchReceipt(_ context.Context, _ string) (*gateway.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receiptCalls++
	if f.receiptErr != nil {
		return nil, f.receiptErr
	}
	return f.receipt, nil
}

func (f *fakeGateway) CurrentBlock(_ context.Context) (uint64, error) { return 100, nil }
func (f *fakeGateway) CheckHealth(_ context.Context) error            { return nil }

func (f *fakeGateway) upstreamCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.detailCalls + f.receiptCalls
}

type fakeStore struct {
	mu      sync.Mutex
	entries map[string]models.PendingDeposit
	loads   int
}

func newFakeStore(deps ...models.PendingDeposit) *fakeStore {
	s := &fakeStore{entries: make(map[string]models.PendingDeposit)}
	for _, dep := range deps {
		s.entries[dep.TxHash] = dep
	}
	return s
}

func (s *fakeStore) Load(_ context.Context) (map[string]models.PendingDeposit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads++
	out := make(map[string]models.PendingDeposit, len(s.entries))
	for k, v := range s.entries {
		out[k] = v
	}
	return out, nil
}

func (s *fakeStore) Upsert(_ context.Context, dep models.PendingDeposit) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[dep.TxHash] = dep
	return true, nil
}

func (s *fakeStore) Remove(_ context.Context, txHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, txHash)
	return nil
}

func (s *fakeStore) get(txHash string) (models.PendingDeposit, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dep, ok := s.entries[txHash]
	return dep, ok
}

func (s *fakeStore) loadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loads
}

type fakeWallets struct {
	mu       sync.Mutex
	credited map[string]int
}

func newFakeWallets() *fakeWallets {
	return &fakeWallets{credited: make(map[string]int)}
}

func (f *fakeWallets) FindWalletByUserAndCurrency(_ context.Context, _, _, _ string) (*models.Wallet, error) {
	return &models.Wallet{ID: "wallet-1", UserID: "user-1", Currency: "BTC", Type: "ECO"}, nil
}

func (f *fakeWallets) FindTransactionByHashAndWallet(_ context.Context, _, _ string) (*models.Transaction, error) {
	return nil, nil
}

func (f *fakeWallets) CreditDeposit(_ context.Context, dep models.PendingDeposit) (*models.Transaction, *models.Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	wallet := &models.Wallet{ID: "wallet-1", UserID: dep.UserID, Balance: "1"}
	if f.credited[dep.TxHash] > 0 {
		return nil, wallet, nil
	}
	f.credited[dep.TxHash]++
	return &models.Transaction{TrxID: dep.TxHash, WalletID: wallet.ID}, wallet, nil
}

func (f *fakeWallets) creditCount(txHash string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.credited[txHash]
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	events []models.DepositEvent
}

func (f *fakeBroadcaster) Broadcast(_ string, _ string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ev, ok := payload.(models.DepositEvent); ok {
		f.events = append(f.events, ev)
	}
}

func (f *fakeBroadcaster) eventTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	types := make([]string, len(f.events))
	for i, ev := range f.events {
		types[i] = ev.Type
	}
	return types
}

type fakeUnlocker struct{}

func (fakeUnlocker) Unlock(_ context.Context, _ string) error { return nil }

type fakeSubscribers struct{ n int }

func (f fakeSubscribers) SubscriberCount() int { return f.n }

// --- Wiring ---

type testEnv struct {
	gateway   *fakeGateway
	store     *fakeStore
	wallets   *fakeWallets
	broadcast *fakeBroadcaster
	sweeper   *Sweeper
}

func newTestEnv(t *testing.T, chain models.Chain, subscribers int, deps ...models.PendingDeposit) *testEnv {
	t.Helper()

	gw := &fakeGateway{chain: chain}
	pool := gateway.NewPool()
	pool.Register(chain, gateway.Factory{
		Name: "fake",
		Build: func(_ context.Context) (gateway.Gateway, error) {
			return gw, nil
		},
	})

	env := &testEnv{
		gateway:   gw,
		store:     newFakeStore(deps...),
		wallets:   newFakeWallets(),
		broadcast: &fakeBroadcaster{},
	}
	completer := monitor.NewCompleter(env.wallets, env.store, env.broadcast, notify.LogNotifier{}, fakeUnlocker{})
	env.sweeper = New(pool, env.store, completer, fakeSubscribers{n: subscribers})
	return env
}

func pendingBTC(txHash string) models.PendingDeposit {
	return models.PendingDeposit{
		TxHash:        txHash,
		Chain:         models.ChainBTC,
		Currency:      "BTC",
		UserID:        "user-1",
		WalletID:      "wallet-1",
		Address:       "bc1qtest",
		AmountRaw:     "150000000",
		Confirmations: 1,
		Required:      3,
		Status:        models.DepositStatusPending,
		ContractType:  models.ContractNative,
	}
}

func pendingETH(txHash string) models.PendingDeposit {
	dep := pendingBTC(txHash)
	dep.Chain = models.ChainETH
	dep.Currency = "ETH"
	dep.Address = "0x000000000000000000000000000000000000dEaD"
	dep.Required = 12
	return dep
}

// --- Tests ---

func TestSweepSkipsWithoutSubscribers(t *testing.T) {
	env := newTestEnv(t, models.ChainBTC, 0, pendingBTC("tx-1"))

	env.sweeper.Sweep(context.Background())

	if env.store.loadCount() != 0 {
		t.Error("sweep loaded the pending snapshot with zero subscribers")
	}
	if env.gateway.upstreamCalls() != 0 {
		t.Error("sweep called upstream with zero subscribers")
	}
}

func TestSweepUpdatesBelowThreshold(t *testing.T) {
	env := newTestEnv(t, models.ChainBTC, 1, pendingBTC("tx-1"))
	env.gateway.detail = &gateway.TxDetail{TxHash: "tx-1", AmountRaw: "150000000", Confirmations: 2}

	env.sweeper.Sweep(context.Background())

	dep, ok := env.store.get("tx-1")
	if !ok {
		t.Fatal("pending entry removed before reaching threshold")
	}
	if dep.Confirmations != 2 {
		t.Errorf("Confirmations = %d, want 2", dep.Confirmations)
	}
	if env.wallets.creditCount("tx-1") != 0 {
		t.Error("deposit credited below threshold")
	}
}

func TestSweepCompletesAtThreshold(t *testing.T) {
	env := newTestEnv(t, models.ChainBTC, 1, pendingBTC("tx-1"))
	env.gateway.detail = &gateway.TxDetail{TxHash: "tx-1", AmountRaw: "150000000", Fee: "500", Confirmations: 3}

	env.sweeper.Sweep(context.Background())

	if env.wallets.creditCount("tx-1") != 1 {
		t.Errorf("credit count = %d, want 1", env.wallets.creditCount("tx-1"))
	}
	if _, ok := env.store.get("tx-1"); ok {
		t.Error("pending entry not removed after completion")
	}
	types := env.broadcast.eventTypes()
	if len(types) != 1 || types[0] != "deposit_completed" {
		t.Errorf("events = %v, want [deposit_completed]", types)
	}
}

func TestSweepCompletedStatusSkipsUpstream(t *testing.T) {
	dep := pendingBTC("tx-1")
	dep.Status = models.DepositStatusCompleted
	env := newTestEnv(t, models.ChainBTC, 1, dep)

	env.sweeper.Sweep(context.Background())

	if env.gateway.upstreamCalls() != 0 {
		t.Error("terminal deposit triggered an upstream call")
	}
	if env.wallets.creditCount("tx-1") != 1 {
		t.Errorf("credit count = %d, want 1", env.wallets.creditCount("tx-1"))
	}
	if _, ok := env.store.get("tx-1"); ok {
		t.Error("pending entry not removed")
	}
}

func TestSweepAbandonsAfterMaxAttempts(t *testing.T) {
	env := newTestEnv(t, models.ChainBTC, 1, pendingBTC("tx-1"))

	key := attemptKey(pendingBTC("tx-1"))
	env.sweeper.mu.Lock()
	env.sweeper.attempts[key] = attemptRecord{count: config.MaxVerificationAttempts, updated: time.Now()}
	env.sweeper.mu.Unlock()

	env.sweeper.Sweep(context.Background())

	if _, ok := env.store.get("tx-1"); ok {
		t.Error("abandoned entry still in the store")
	}
	if env.gateway.upstreamCalls() != 0 {
		t.Error("abandonment made an upstream call")
	}
	if env.wallets.creditCount("tx-1") != 0 {
		t.Error("abandoned deposit was credited")
	}
	env.sweeper.mu.Lock()
	_, tracked := env.sweeper.attempts[key]
	env.sweeper.mu.Unlock()
	if tracked {
		t.Error("attempt record not dropped after abandonment")
	}
}

func TestSweepRecordsFailedAttempts(t *testing.T) {
	env := newTestEnv(t, models.ChainBTC, 1, pendingBTC("tx-1"))
	env.gateway.detailErr = errors.New("provider down")

	env.sweeper.Sweep(context.Background())
	env.sweeper.Sweep(context.Background())

	if _, ok := env.store.get("tx-1"); !ok {
		t.Error("entry removed on a transient failure")
	}
	key := attemptKey(pendingBTC("tx-1"))
	if got := env.sweeper.attemptCount(key); got != 2 {
		t.Errorf("attempt count = %d, want 2", got)
	}
}

func TestSweepEVMReceiptSettlement(t *testing.T) {
	t.Run("successful receipt completes", func(t *testing.T) {
		env := newTestEnv(t, models.ChainETH, 1, pendingETH("0xaaa"))
		env.gateway.receipt = &gateway.Receipt{TxHash: "0xaaa", BlockNumber: 90, Status: 1}

		env.sweeper.Sweep(context.Background())

		if env.wallets.creditCount("0xaaa") != 1 {
			t.Errorf("credit count = %d, want 1", env.wallets.creditCount("0xaaa"))
		}
		if _, ok := env.store.get("0xaaa"); ok {
			t.Error("pending entry not removed")
		}
	})

	t.Run("reverted receipt fails the deposit", func(t *testing.T) {
		env := newTestEnv(t, models.ChainETH, 1, pendingETH("0xbbb"))
		env.gateway.receipt = &gateway.Receipt{TxHash: "0xbbb", BlockNumber: 90, Status: 0}

		env.sweeper.Sweep(context.Background())

		if env.wallets.creditCount("0xbbb") != 0 {
			t.Error("reverted deposit was credited")
		}
		if _, ok := env.store.get("0xbbb"); ok {
			t.Error("failed entry not removed")
		}
		types := env.broadcast.eventTypes()
		if len(types) != 1 || types[0] != "deposit_failed" {
			t.Errorf("events = %v, want [deposit_failed]", types)
		}
	})

	t.Run("missing receipt stays pending", func(t *testing.T) {
		env := newTestEnv(t, models.ChainETH, 1, pendingETH("0xccc"))
		env.gateway.receiptErr = config.ErrReceiptNotFound

		env.sweeper.Sweep(context.Background())

		if _, ok := env.store.get("0xccc"); !ok {
			t.Error("entry removed while receipt is still missing")
		}
		if env.wallets.creditCount("0xccc") != 0 {
			t.Error("deposit credited without a receipt")
		}
		// A not-yet-visible receipt is expected, not a failed attempt.
		if got := env.sweeper.attemptCount(attemptKey(pendingETH("0xccc"))); got != 0 {
			t.Errorf("attempt count = %d, want 0", got)
		}
	})
}

func TestSweepCompletionIsIdempotent(t *testing.T) {
	env := newTestEnv(t, models.ChainBTC, 1, pendingBTC("tx-1"))
	env.gateway.detail = &gateway.TxDetail{TxHash: "tx-1", AmountRaw: "150000000", Confirmations: 3}
	env.wallets.credited["tx-1"] = 1 // hash already credited by a live monitor

	env.sweeper.Sweep(context.Background())

	// Already-processed is success: the entry is cleaned up and no second
	// credit happens.
	if env.wallets.creditCount("tx-1") != 1 {
		t.Errorf("credit count = %d, want 1", env.wallets.creditCount("tx-1"))
	}
	if _, ok := env.store.get("tx-1"); ok {
		t.Error("pending entry not removed on repeat completion")
	}
}

func TestPurgeAttemptsDropsIdleRecords(t *testing.T) {
	env := newTestEnv(t, models.ChainBTC, 1)

	base := time.Now()
	env.sweeper.mu.Lock()
	env.sweeper.attempts["stale:BTC"] = attemptRecord{count: 2, updated: base.Add(-config.AttemptTrackingWindow - time.Minute)}
	env.sweeper.attempts["fresh:BTC"] = attemptRecord{count: 1, updated: base}
	env.sweeper.mu.Unlock()

	// Empty snapshot: the sweep only purges.
	env.sweeper.Sweep(context.Background())

	if got := env.sweeper.attemptCount("stale:BTC"); got != 0 {
		t.Errorf("stale record count = %d, want 0 (purged)", got)
	}
	if got := env.sweeper.attemptCount("fresh:BTC"); got != 1 {
		t.Errorf("fresh record count = %d, want 1", got)
	}
}
