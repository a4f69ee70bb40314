package monitor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/quantex-io/depositwatch/internal/metrics"
	"github.com/quantex-io/depositwatch/internal/models"
	"github.com/quantex-io/depositwatch/internal/notify"
)

// DepositTopic is the broadcast topic for deposit progress events.
const DepositTopic = "deposits"

// PendingStore is the persistence contract for not-yet-confirmed deposits.
// Implemented by the Redis-backed pending store.
type PendingStore interface {
	Load(ctx context.Context) (map[string]models.PendingDeposit, error)
	Upsert(ctx context.Context, dep models.PendingDeposit) (bool, error)
	Remove(ctx context.Context, txHash string) error
}

// WalletStore is the wallet/transaction persistence contract the monitoring
// core requires. CreditDeposit must be idempotent: a repeat call for an
// already-credited hash returns a nil transaction and does not change balances.
type WalletStore interface {
	FindWalletByUserAndCurrency(ctx context.Context, userID, currency, walletType string) (*models.Wallet, error)
	FindTransactionByHashAndWallet(ctx context.Context, txHash, walletID string) (*models.Transaction, error)
	CreditDeposit(ctx context.Context, dep models.PendingDeposit) (*models.Transaction, *models.Wallet, error)
}

// Broadcaster publishes an event to subscribed clients, filtered by user.
// Fire-and-forget: implementations never return an error to the caller.
type Broadcaster interface {
	Broadcast(topic, userID string, payload any)
}

// Unlocker releases an exclusively-locked deposit address.
type Unlocker interface {
	Unlock(ctx context.Context, address string) error
}

// Completer finalizes a confirmed deposit: credit handoff plus the follow-up
// side effects (broadcast, address unlock, user notification, pending-entry
// removal). Only the credit itself is must-succeed; each side effect is
// recovered independently so one failure does not block the others.
type Completer struct {
	wallets   WalletStore
	store     PendingStore
	broadcast Broadcaster
	notifier  notify.Notifier
	locker    Unlocker
}

// NewCompleter wires a completer from its collaborators.
func NewCompleter(wallets WalletStore, store PendingStore, broadcast Broadcaster, notifier notify.Notifier, locker Unlocker) *Completer {
	return &Completer{
		wallets:   wallets,
		store:     store,
		broadcast: broadcast,
		notifier:  notifier,
		locker:    locker,
	}
}

// Complete credits a confirmed deposit and runs the completion side effects.
// A handoff that reports the hash as already processed (nil transaction) is
// treated as success: the side effects still run so the pending entry is
// removed and the client hears about it.
func (c *Completer) Complete(ctx context.Context, dep models.PendingDeposit) error {
	tx, wallet, err := c.wallets.CreditDeposit(ctx, dep)
	if err != nil {
		return fmt.Errorf("credit deposit %s: %w", dep.TxHash, err)
	}

	if tx == nil {
		slog.Info("deposit already processed, skipping credit",
			"txHash", dep.TxHash,
			"walletID", dep.WalletID,
		)
	} else {
		metrics.DepositsCreditedTotal.WithLabelValues(string(dep.Chain)).Inc()
		slog.Info("deposit credited",
			"txHash", dep.TxHash,
			"chain", dep.Chain,
			"currency", dep.Currency,
			"walletID", wallet.ID,
			"amountRaw", dep.AmountRaw,
			"balance", wallet.Balance,
		)
	}

	dep.Status = models.DepositStatusCompleted
	c.finish(ctx, dep, "deposit_completed",
		"Deposit confirmed",
		fmt.Sprintf("Your %s deposit of %s (raw) is confirmed.", dep.Currency, dep.AmountRaw),
	)
	return nil
}

// Fail marks a deposit as failed on-chain (e.g. a reverted EVM transaction)
// and runs the same recovered side-effect set with a failure event.
func (c *Completer) Fail(ctx context.Context, dep models.PendingDeposit) {
	slog.Warn("deposit failed on-chain",
		"txHash", dep.TxHash,
		"chain", dep.Chain,
		"address", dep.Address,
	)

	dep.Status = models.DepositStatusFailed
	c.finish(ctx, dep, "deposit_failed",
		"Deposit failed",
		fmt.Sprintf("Your %s deposit transaction %s failed on-chain.", dep.Currency, dep.TxHash),
	)
}

// finish runs the four completion side effects, each recovered independently.
func (c *Completer) finish(ctx context.Context, dep models.PendingDeposit, eventType, title, message string) {
	c.broadcast.Broadcast(DepositTopic, dep.UserID, models.DepositEvent{
		Type:          eventType,
		UserID:        dep.UserID,
		Chain:         dep.Chain,
		Currency:      dep.Currency,
		Address:       dep.Address,
		TxHash:        dep.TxHash,
		Confirmations: dep.Confirmations,
		Required:      dep.Required,
		Status:        dep.Status,
		AmountRaw:     dep.AmountRaw,
	})

	if dep.ContractType.Exclusive() {
		if err := c.locker.Unlock(ctx, dep.Address); err != nil {
			slog.Error("failed to unlock deposit address",
				"address", dep.Address,
				"txHash", dep.TxHash,
				"error", err,
			)
		}
	}

	if err := c.notifier.Notify(ctx, dep.UserID, notify.Payload{
		Title:   title,
		Message: message,
		Type:    "ACTIVITY",
	}); err != nil {
		slog.Error("failed to send deposit notification",
			"userID", dep.UserID,
			"txHash", dep.TxHash,
			"error", err,
		)
	}

	if err := c.store.Remove(ctx, dep.TxHash); err != nil {
		// The sweeper reattempts removal: the handoff's idempotence makes the
		// retried completion a safe no-op.
		slog.Error("failed to remove pending entry after completion",
			"txHash", dep.TxHash,
			"error", err,
		)
	}
}
