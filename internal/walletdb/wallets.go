package walletdb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/quantex-io/depositwatch/internal/models"
)

// CreateWallet inserts a wallet with a zero balance. Used by provisioning and
// tests; deposit monitoring only reads wallets.
func (d *DB) CreateWallet(ctx context.Context, userID, currency, walletType string) (*models.Wallet, error) {
	w := &models.Wallet{
		ID:       uuid.New().String(),
		UserID:   userID,
		Currency: currency,
		Type:     walletType,
		Balance:  "0",
	}

	_, err := d.conn.ExecContext(ctx, `
		INSERT INTO wallets (id, user_id, currency, type, balance)
		VALUES (?, ?, ?, ?, ?)`,
		w.ID, w.UserID, w.Currency, w.Type, w.Balance,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create wallet for user %s: %w", userID, err)
	}

	slog.Info("wallet created",
		"walletID", w.ID,
		"userID", userID,
		"currency", currency,
		"type", walletType,
	)
	return w, nil
}

// FindWalletByUserAndCurrency returns the user's wallet for a currency and
// wallet type, or nil if none exists.
func (d *DB) FindWalletByUserAndCurrency(ctx context.Context, userID, currency, walletType string) (*models.Wallet, error) {
	w := &models.Wallet{}
	err := d.conn.QueryRowContext(ctx, `
		SELECT id, user_id, currency, type, balance
		FROM wallets
		WHERE user_id = ? AND currency = ? AND type = ?`,
		userID, currency, walletType,
	).Scan(&w.ID, &w.UserID, &w.Currency, &w.Type, &w.Balance)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find wallet for user %s currency %s: %w", userID, currency, err)
	}
	return w, nil
}

// GetWallet returns a wallet by id, or nil if it does not exist.
func (d *DB) GetWallet(ctx context.Context, walletID string) (*models.Wallet, error) {
	w := &models.Wallet{}
	err := d.conn.QueryRowContext(ctx, `
		SELECT id, user_id, currency, type, balance
		FROM wallets WHERE id = ?`, walletID,
	).Scan(&w.ID, &w.UserID, &w.Currency, &w.Type, &w.Balance)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet %s: %w", walletID, err)
	}
	return w, nil
}
