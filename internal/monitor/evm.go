package monitor

import (
	"context"
	"errors"
	"fmt"

	"github.com/quantex-io/depositwatch/internal/config"
	"github.com/quantex-io/depositwatch/internal/dedup"
	"github.com/quantex-io/depositwatch/internal/models"
)

// newReceiptPoll builds the poll cycle for EVM chains: incoming transactions
// come from the scan API, and a sighting past the confirmation threshold is
// settled by its receipt. A present receipt is terminal — status 1 confirms
// the deposit, anything else fails it.
func newReceiptPoll(m *chainMonitor) pollFunc {
	return func(ctx context.Context) (bool, error) {
		gw, err := m.deps.Pool.Gateway(ctx, m.params.Chain)
		if err != nil {
			return false, err
		}

		txs, err := gw.FetchAddressTransactions(ctx, m.params.Address)
		if err != nil {
			return false, fmt.Errorf("fetch address txs: %w", err)
		}

		for _, raw := range txs {
			key := dedup.Key(m.params.Chain, m.walletID, raw.TxHash)
			if m.deps.Dedup.Seen(key) {
				continue
			}

			if raw.Confirmations < m.required {
				if err := m.writePending(ctx, raw.TxHash, raw.AmountRaw, raw.Confirmations); err != nil {
					return false, err
				}
				continue
			}

			receipt, err := gw.FetchReceipt(ctx, raw.TxHash)
			if errors.Is(err, config.ErrReceiptNotFound) {
				// Confirmed per the scan API but the RPC node has no receipt
				// yet: keep it pending and let the next poll settle it.
				if err := m.writePending(ctx, raw.TxHash, raw.AmountRaw, raw.Confirmations); err != nil {
					return false, err
				}
				continue
			}
			if err != nil {
				return false, fmt.Errorf("fetch receipt %s: %w", raw.TxHash, err)
			}

			if receipt.Status != 1 {
				m.deps.Completer.Fail(ctx, models.PendingDeposit{
					TxHash:        raw.TxHash,
					Chain:         m.params.Chain,
					Currency:      m.params.Currency,
					UserID:        m.userID,
					WalletID:      m.walletID,
					Address:       m.params.Address,
					AmountRaw:     raw.AmountRaw,
					Confirmations: raw.Confirmations,
					Required:      m.required,
					Status:        models.DepositStatusFailed,
					ContractType:  m.params.ContractType,
				})
				m.deps.Dedup.Mark(key)
				continue
			}

			return m.complete(ctx, gw, raw.TxHash, key)
		}

		return false, nil
	}
}
