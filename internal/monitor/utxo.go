package monitor

import (
	"context"
	"fmt"

	"github.com/quantex-io/depositwatch/internal/dedup"
)

// newListPoll builds the poll cycle for chains whose gateways list incoming
// transactions per address with a confirmation count: the UTXO explorer APIs
// and the Solana signature listing. An empty list is a successful cycle.
func newListPoll(m *chainMonitor) pollFunc {
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

			// Threshold reached: full detail, inline credit handoff, stop.
			return m.complete(ctx, gw, raw.TxHash, key)
		}

		return false, nil
	}
}
