// Package dedup keeps a process-local record of (wallet, transaction) pairs
// already handed off for crediting, so repeated polling cycles skip them.
// Purely advisory: the wallet store's transaction-existence check remains the
// authority for exactly-once crediting.
package dedup

import (
	"log/slog"
	"sync"
	"time"

	"github.com/quantex-io/depositwatch/internal/models"
)

// Ledger is an in-process, time-bounded dedup map. Entries expire after a
// fixed window; a periodic sweep purges them to bound memory.
type Ledger struct {
	mu      sync.Mutex
	entries map[string]time.Time // key -> first sighting
	ttl     time.Duration
	now     func() time.Time
}

// NewLedger creates a dedup ledger whose entries expire after ttl.
func NewLedger(ttl time.Duration) *Ledger {
	return &Ledger{
		entries: make(map[string]time.Time),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Key builds the ledger key for a sighting. UTXO chains share deposit
// addresses across wallets so the wallet id disambiguates; EVM and Solana
// hashes are globally unique on their own.
func Key(chain models.Chain, walletID, txHash string) string {
	if chain.Family() == models.FamilyUTXO {
		return walletID + ":" + txHash
	}
	return txHash
}

// Seen reports whether the key is present and unexpired.
func (l *Ledger) Seen(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	at, ok := l.entries[key]
	if !ok {
		return false
	}
	if l.now().Sub(at) > l.ttl {
		delete(l.entries, key)
		return false
	}
	return true
}

// Mark records the key with the current time. Re-marking refreshes nothing:
// the first-sighting timestamp is preserved.
func (l *Ledger) Mark(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.entries[key]; !ok {
		l.entries[key] = l.now()
	}
}

// Purge removes expired entries and returns how many were dropped.
func (l *Ledger) Purge() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.ttl)
	removed := 0
	for key, at := range l.entries {
		if at.Before(cutoff) {
			delete(l.entries, key)
			removed++
		}
	}

	if removed > 0 {
		slog.Debug("dedup ledger purged", "removed", removed, "remaining", len(l.entries))
	}
	return removed
}

// Len returns the current entry count.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// StartPurgeLoop purges on an interval until stop is closed.
func (l *Ledger) StartPurgeLoop(interval time.Duration, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.Purge()
			case <-stop:
				return
			}
		}
	}()
}
