// Package pending persists transactions that are observed on-chain but not
// yet confirmed and credited. The store is the single shared source of truth
// for unconfirmed deposits: it survives process restarts and is read by both
// live monitors and the verification sweeper.
package pending

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quantex-io/depositwatch/internal/config"
	"github.com/quantex-io/depositwatch/internal/models"
)

// Store is a Redis-backed pending-deposit store with full-snapshot semantics:
// the whole map is read, mutated and written back under a single key.
// Concurrent writers are last-write-wins, which is acceptable because writes
// are idempotent confirmation-count updates and the wallet store's
// transaction-existence check is the authority for exactly-once crediting.
type Store struct {
	rdb *redis.Client
	key string
}

// NewStore creates a pending store on an existing Redis client.
func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb, key: config.PendingSnapshotKey}
}

// Connect opens a Redis connection and verifies it with a ping.
func Connect(url, password string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if password != "" {
		opts.Password = password
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	slog.Info("redis connected", "addr", opts.Addr)
	return rdb, nil
}

// Load reads the full pending snapshot. A missing key yields an empty map.
func (s *Store) Load(ctx context.Context) (map[string]models.PendingDeposit, error) {
	data, err := s.rdb.Get(ctx, s.key).Bytes()
	if err == redis.Nil {
		return map[string]models.PendingDeposit{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pending store load: %w", err)
	}

	var snapshot map[string]models.PendingDeposit
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("pending store parse snapshot: %w", err)
	}
	if snapshot == nil {
		snapshot = map[string]models.PendingDeposit{}
	}

	return snapshot, nil
}

// Save writes the full pending snapshot back.
func (s *Store) Save(ctx context.Context, snapshot map[string]models.PendingDeposit) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("pending store marshal snapshot: %w", err)
	}

	if err := s.rdb.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("pending store save: %w", err)
	}

	slog.Debug("pending snapshot saved", "entries", len(snapshot))
	return nil
}

// Upsert loads the snapshot, applies the entry, and saves it back.
// Returns true if the stored entry changed.
func (s *Store) Upsert(ctx context.Context, dep models.PendingDeposit) (bool, error) {
	snapshot, err := s.Load(ctx)
	if err != nil {
		return false, err
	}

	existing, ok := snapshot[dep.TxHash]
	if ok && existing.Confirmations == dep.Confirmations && existing.Status == dep.Status {
		// Unchanged confirmation count: suppress the redundant write.
		return false, nil
	}

	dep.UpdatedAt = time.Now().UTC()
	snapshot[dep.TxHash] = dep

	if err := s.Save(ctx, snapshot); err != nil {
		return false, err
	}
	return true, nil
}

// Remove deletes one hash from the snapshot. Removing an absent hash is a no-op.
func (s *Store) Remove(ctx context.Context, txHash string) error {
	snapshot, err := s.Load(ctx)
	if err != nil {
		return err
	}

	if _, ok := snapshot[txHash]; !ok {
		return nil
	}
	delete(snapshot, txHash)

	return s.Save(ctx, snapshot)
}

// Count returns the number of pending entries.
func (s *Store) Count(ctx context.Context) (int, error) {
	snapshot, err := s.Load(ctx)
	if err != nil {
		return 0, err
	}
	return len(snapshot), nil
}
