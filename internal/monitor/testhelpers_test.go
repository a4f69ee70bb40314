package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/quantex-io/depositwatch/internal/config"
	"github.com/quantex-io/depositwatch/internal/dedup"
	"github.com/quantex-io/depositwatch/internal/gateway"
	"github.com/quantex-io/depositwatch/internal/models"
	"github.com/quantex-io/depositwatch/internal/notify"
)

// --- Fake gateway ---

type fakeGateway struct {
	name  string
	chain models.Chain

	mu          sync.Mutex
	txs         []gateway.RawTransaction
	txsErr      error
	detail      *gateway.TxDetail
	detailErr   error
	receipt     *gateway.Receipt
	receiptErr  error
	listCalls   int
	detailCalls int
}

func newFakeGateway(chain models.Chain) *fakeGateway {
	return &fakeGateway{name: "fake-" + string(chain), chain: chain}
}

func (f *fakeGateway) Name() string        { return f.name }
func (f *fakeGateway) Chain() models.Chain { return f.chain }

func (f *fakeGateway) FetchAddressTransactions(_ context.Context, _ string) ([]gateway.RawTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.txsErr != nil {
		return nil, f.txsErr
	}
	result := make([]gateway.RawTransaction, len(f.txs))
	copy(result, f.txs)
	return result, nil
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
	if f.receiptErr != nil {
		return nil, f.receiptErr
	}
	return f.receipt, nil
}

func (f *fakeGateway) CurrentBlock(_ context.Context) (uint64, error) { return 100, nil }
func (f *fakeGateway) CheckHealth(_ context.Context) error            { return nil }

func (f *fakeGateway) setTxs(txs []gateway.RawTransaction) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txs = txs
}

func (f *fakeGateway) setTxsErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.txsErr = err
}

func (f *fakeGateway) setDetail(d *gateway.TxDetail, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detail = d
	f.detailErr = err
}

func (f *fakeGateway) setReceipt(r *gateway.Receipt, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receipt = r
	f.receiptErr = err
}

func (f *fakeGateway) counts() (list, detail int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls, f.detailCalls
}

// --- Fake pending store ---

type fakeStore struct {
	mu      sync.Mutex
	entries map[string]models.PendingDeposit
	saves   int
	loadErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{entries: make(map[string]models.PendingDeposit)}
}

func (s *fakeStore) Load(_ context.Context) (map[string]models.PendingDeposit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	out := make(map[string]models.PendingDeposit, len(s.entries))
	for k, v := range s.entries {
		out[k] = v
	}
	return out, nil
}

func (s *fakeStore) Upsert(_ context.Context, dep models.PendingDeposit) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.entries[dep.TxHash]
	if ok && existing.Confirmations == dep.Confirmations && existing.Status == dep.Status {
		return false, nil
	}
	s.entries[dep.TxHash] = dep
	s.saves++
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

func (s *fakeStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// --- Fake wallet store ---

type fakeWallets struct {
	mu       sync.Mutex
	wallet   *models.Wallet
	credited map[string]int // txHash -> credit calls that changed state
	creditErr error
}

func newFakeWallets() *fakeWallets {
	return &fakeWallets{
		wallet: &models.Wallet{
			ID:       "wallet-1",
			UserID:   "user-1",
			Currency: "BTC",
			Type:     "ECO",
			Balance:  "0",
		},
		credited: make(map[string]int),
	}
}

func (f *fakeWallets) FindWalletByUserAndCurrency(_ context.Context, userID, currency, _ string) (*models.Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.wallet == nil || f.wallet.UserID != userID {
		return nil, nil
	}
	return f.wallet, nil
}

func (f *fakeWallets) FindTransactionByHashAndWallet(_ context.Context, txHash, walletID string) (*models.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.credited[txHash] > 0 {
		return &models.Transaction{TrxID: txHash, WalletID: walletID}, nil
	}
	return nil, nil
}

func (f *fakeWallets) CreditDeposit(_ context.Context, dep models.PendingDeposit) (*models.Transaction, *models.Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.creditErr != nil {
		return nil, nil, f.creditErr
	}
	if f.credited[dep.TxHash] > 0 {
		// Already processed: nil transaction, no balance change.
		return nil, f.wallet, nil
	}
	f.credited[dep.TxHash]++
	return &models.Transaction{TrxID: dep.TxHash, WalletID: f.wallet.ID}, f.wallet, nil
}

func (f *fakeWallets) creditCount(txHash string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.credited[txHash]
}

// --- Fake broadcast / notify / locker ---

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

type fakeUnlocker struct {
	mu       sync.Mutex
	unlocked []string
}

func (f *fakeUnlocker) Unlock(_ context.Context, address string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unlocked = append(f.unlocked, address)
	return nil
}

func (f *fakeUnlocker) unlockedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.unlocked)
}

// --- Fake clock ---

// fakeClock hands out timers that fire only when the test fires them.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	ch      chan time.Time
	d       time.Duration
	fn      func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) NewTimer(d time.Duration) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{ch: make(chan time.Time, 1), d: d}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) AfterFunc(d time.Duration, fn func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{ch: make(chan time.Time, 1), d: d, fn: fn}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) C() <-chan time.Time { return t.ch }

func (t *fakeTimer) Stop() bool {
	t.stopped = true
	return !t.fired
}

// fireNext waits for an unfired, unstopped timer to appear and fires it.
// Returns the duration the timer was scheduled with.
func (c *fakeClock) fireNext(t *testing.T) time.Duration {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		for _, timer := range c.timers {
			if timer.fired || timer.stopped {
				continue
			}
			timer.fired = true
			d := timer.d
			fn := timer.fn
			c.mu.Unlock()
			if fn != nil {
				fn()
			} else {
				timer.ch <- c.Now()
			}
			return d
		}
		c.mu.Unlock()
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for a timer to fire")
	return 0
}

// fireAfterFunc fires the next pending AfterFunc timer, skipping the plain
// timers the poll loop parks on. Returns its scheduled duration.
func (c *fakeClock) fireAfterFunc(t *testing.T) time.Duration {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		for _, timer := range c.timers {
			if timer.fired || timer.stopped || timer.fn == nil {
				continue
			}
			timer.fired = true
			d := timer.d
			fn := timer.fn
			c.mu.Unlock()
			fn()
			return d
		}
		c.mu.Unlock()
		time.Sleep(time.Millisecond)
	}
	t.Fatal("timed out waiting for an AfterFunc timer to fire")
	return 0
}

// pendingAfterFuncs returns the count of unfired, unstopped AfterFunc timers.
func (c *fakeClock) pendingAfterFuncs() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, timer := range c.timers {
		if timer.fn != nil && !timer.fired && !timer.stopped {
			n++
		}
	}
	return n
}

// pendingTimers returns the count of unfired, unstopped timers.
func (c *fakeClock) pendingTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, timer := range c.timers {
		if !timer.fired && !timer.stopped {
			n++
		}
	}
	return n
}

// --- Wiring helpers ---

type testEnv struct {
	gateway   *fakeGateway
	pool      *gateway.Pool
	store     *fakeStore
	ledger    *dedup.Ledger
	wallets   *fakeWallets
	broadcast *fakeBroadcaster
	unlocker  *fakeUnlocker
	clock     *fakeClock
	deps      Deps
}

func newTestEnv(t *testing.T, chain models.Chain) *testEnv {
	t.Helper()

	gw := newFakeGateway(chain)
	pool := gateway.NewPool()
	pool.Register(chain, gateway.Factory{
		Name: gw.Name(),
		Build: func(_ context.Context) (gateway.Gateway, error) {
			return gw, nil
		},
	})

	env := &testEnv{
		gateway:   gw,
		pool:      pool,
		store:     newFakeStore(),
		ledger:    dedup.NewLedger(config.DedupEntryTTL),
		wallets:   newFakeWallets(),
		broadcast: &fakeBroadcaster{},
		unlocker:  &fakeUnlocker{},
		clock:     newFakeClock(),
	}
	env.deps = Deps{
		Pool:      env.pool,
		Store:     env.store,
		Dedup:     env.ledger,
		Wallets:   env.wallets,
		Broadcast: env.broadcast,
		Clock:     env.clock,
	}
	env.deps.Completer = NewCompleter(env.wallets, env.store, env.broadcast, notify.LogNotifier{}, env.unlocker)
	return env
}

// newTestMonitor builds a monitor in POLLING state without starting its loop,
// so poll cycles can be driven synchronously.
func newTestMonitor(t *testing.T, env *testEnv, params models.MonitorParams) *chainMonitor {
	t.Helper()

	m, err := New("user-1", "user-1", "wallet-1", params, env.deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	cm := m.(*chainMonitor)
	cm.state = StatePolling
	return cm
}

// waitFor polls cond until true or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}
