// Package locker manages exclusive deposit-address locks for contract types
// that bind an address to a single depositor while a deposit is in flight.
package locker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/quantex-io/depositwatch/internal/config"
)

// AddressLocker implements SETNX-based exclusive address locks with a TTL
// safety net so an orphaned lock cannot hold an address forever.
type AddressLocker struct {
	rdb *redis.Client
}

// NewAddressLocker creates a locker on an existing Redis client.
func NewAddressLocker(rdb *redis.Client) *AddressLocker {
	return &AddressLocker{rdb: rdb}
}

func lockKey(address string) string {
	return config.AddressLockPrefix + address
}

// Lock claims the address for a user. Returns false if another user holds it.
func (l *AddressLocker) Lock(ctx context.Context, address, userID string) (bool, error) {
	ok, err := l.rdb.SetNX(ctx, lockKey(address), userID, config.AddressLockTTL).Result()
	if err != nil {
		return false, fmt.Errorf("address lock %s: %w", address, err)
	}

	if ok {
		slog.Debug("address locked", "address", address, "userID", userID)
	}
	return ok, nil
}

// Unlock releases the address. Unlocking an unheld address is a no-op.
func (l *AddressLocker) Unlock(ctx context.Context, address string) error {
	if err := l.rdb.Del(ctx, lockKey(address)).Err(); err != nil {
		return fmt.Errorf("address unlock %s: %w", address, err)
	}

	slog.Debug("address unlocked", "address", address)
	return nil
}

// Holder returns the user currently holding the address lock, or "" if free.
func (l *AddressLocker) Holder(ctx context.Context, address string) (string, error) {
	val, err := l.rdb.Get(ctx, lockKey(address)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("address lock holder %s: %w", address, err)
	}
	return val, nil
}
