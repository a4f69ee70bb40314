package walletdb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quantex-io/depositwatch/internal/config"
	"github.com/quantex-io/depositwatch/internal/models"
)

// FindTransactionByHashAndWallet returns the ledger record for an on-chain
// hash credited to a wallet, or nil if the hash was never credited there.
func (d *DB) FindTransactionByHashAndWallet(ctx context.Context, txHash, walletID string) (*models.Transaction, error) {
	return d.findTransaction(d.conn.QueryRowContext(ctx, `
		SELECT id, wallet_id, user_id, type, status, amount, fee,
		       currency, chain, trx_id, address, created_at
		FROM transactions WHERE trx_id = ? AND wallet_id = ?`,
		txHash, walletID,
	))
}

// CreditDeposit applies a confirmed deposit to the destination wallet exactly
// once. A hash already credited to the wallet returns a nil transaction and
// the unchanged wallet — the "already processed" signal callers rely on.
func (d *DB) CreditDeposit(ctx context.Context, dep models.PendingDeposit) (*models.Transaction, *models.Wallet, error) {
	sqlTx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin credit transaction: %w", err)
	}
	defer sqlTx.Rollback()

	// Fast path: hash already credited to this wallet.
	var existingID string
	err = sqlTx.QueryRowContext(ctx,
		`SELECT id FROM transactions WHERE trx_id = ? AND wallet_id = ?`,
		dep.TxHash, dep.WalletID,
	).Scan(&existingID)
	if err == nil {
		wallet, werr := d.GetWallet(ctx, dep.WalletID)
		if werr != nil {
			return nil, nil, werr
		}
		slog.Debug("credit skipped, hash already processed",
			"txHash", dep.TxHash,
			"walletID", dep.WalletID,
		)
		return nil, wallet, nil
	}
	if err != sql.ErrNoRows {
		return nil, nil, fmt.Errorf("failed to check existing credit for %s: %w", dep.TxHash, err)
	}

	wallet := &models.Wallet{}
	err = sqlTx.QueryRowContext(ctx, `
		SELECT id, user_id, currency, type, balance
		FROM wallets WHERE id = ?`, dep.WalletID,
	).Scan(&wallet.ID, &wallet.UserID, &wallet.Currency, &wallet.Type, &wallet.Balance)
	if err == sql.ErrNoRows {
		return nil, nil, fmt.Errorf("%w: %s", config.ErrWalletNotFound, dep.WalletID)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load wallet %s: %w", dep.WalletID, err)
	}

	amount, fee, err := depositAmounts(dep)
	if err != nil {
		return nil, nil, err
	}

	balance, err := decimal.NewFromString(wallet.Balance)
	if err != nil {
		return nil, nil, fmt.Errorf("corrupt balance for wallet %s: %w", wallet.ID, err)
	}
	newBalance := balance.Add(amount)

	tx := &models.Transaction{
		ID:        uuid.New().String(),
		WalletID:  wallet.ID,
		UserID:    wallet.UserID,
		Type:      "DEPOSIT",
		Status:    "COMPLETED",
		Amount:    amount.String(),
		Fee:       fee.String(),
		Currency:  dep.Currency,
		Chain:     dep.Chain,
		TrxID:     dep.TxHash,
		Address:   dep.Address,
		CreatedAt: time.Now().UTC(),
	}

	_, err = sqlTx.ExecContext(ctx, `
		INSERT INTO transactions (
			id, wallet_id, user_id, type, status, amount, fee,
			currency, chain, trx_id, address, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.ID, tx.WalletID, tx.UserID, tx.Type, tx.Status, tx.Amount, tx.Fee,
		tx.Currency, tx.Chain, tx.TrxID, tx.Address, tx.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		// Unique (trx_id, wallet_id) index: a concurrent credit won the race.
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, wallet, nil
		}
		return nil, nil, fmt.Errorf("failed to insert deposit transaction %s: %w", dep.TxHash, err)
	}

	if _, err := sqlTx.ExecContext(ctx,
		`UPDATE wallets SET balance = ? WHERE id = ?`,
		newBalance.String(), wallet.ID,
	); err != nil {
		return nil, nil, fmt.Errorf("failed to update balance for wallet %s: %w", wallet.ID, err)
	}

	if err := sqlTx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit credit for %s: %w", dep.TxHash, err)
	}

	wallet.Balance = newBalance.String()

	slog.Info("deposit credited to wallet",
		"txHash", dep.TxHash,
		"walletID", wallet.ID,
		"currency", dep.Currency,
		"amount", tx.Amount,
		"balance", wallet.Balance,
	)
	return tx, wallet, nil
}

// depositAmounts converts smallest-unit strings to human-readable decimals.
func depositAmounts(dep models.PendingDeposit) (amount, fee decimal.Decimal, err error) {
	shift := -chainDecimals(dep.Chain)

	raw, err := decimal.NewFromString(dep.AmountRaw)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("invalid amount %q for %s: %w", dep.AmountRaw, dep.TxHash, err)
	}
	amount = raw.Shift(shift)

	if dep.Fee != "" {
		rawFee, ferr := decimal.NewFromString(dep.Fee)
		if ferr != nil {
			return decimal.Zero, decimal.Zero, fmt.Errorf("invalid fee %q for %s: %w", dep.Fee, dep.TxHash, ferr)
		}
		fee = rawFee.Shift(shift)
	}

	return amount, fee, nil
}

// chainDecimals returns the smallest-unit exponent for a chain's native asset.
func chainDecimals(chain models.Chain) int32 {
	switch chain.Family() {
	case models.FamilyEVM:
		return config.ETHDecimals
	case models.FamilySolana:
		return config.SOLDecimals
	default:
		return config.BTCDecimals
	}
}

func (d *DB) findTransaction(row *sql.Row) (*models.Transaction, error) {
	tx := &models.Transaction{}
	var createdAt string
	err := row.Scan(
		&tx.ID, &tx.WalletID, &tx.UserID, &tx.Type, &tx.Status, &tx.Amount, &tx.Fee,
		&tx.Currency, &tx.Chain, &tx.TrxID, &tx.Address, &createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan transaction: %w", err)
	}

	if t, perr := time.Parse(time.RFC3339, createdAt); perr == nil {
		tx.CreatedAt = t
	}
	return tx, nil
}
