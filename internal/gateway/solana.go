package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/quantex-io/depositwatch/internal/config"
	"github.com/quantex-io/depositwatch/internal/models"
)

// Solana JSON-RPC envelope types.

type solRPCRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type solRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Error   *solRPCError    `json:"error,omitempty"`
	Result  json.RawMessage `json:"result"`
}

type solRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// getSignaturesForAddress response entry.
type solSignatureInfo struct {
	Signature          string      `json:"signature"`
	Slot               uint64      `json:"slot"`
	BlockTime          *int64      `json:"blockTime"`
	ConfirmationStatus string      `json:"confirmationStatus"`
	Err                interface{} `json:"err"`
}

// getTransaction response.
type solTransactionResult struct {
	Slot        uint64        `json:"slot"`
	BlockTime   *int64        `json:"blockTime"`
	Transaction solTxEnvelope `json:"transaction"`
	Meta        solTxMeta     `json:"meta"`
}

type solTxEnvelope struct {
	Message    solTxMessage `json:"message"`
	Signatures []string     `json:"signatures"`
}

type solTxMessage struct {
	AccountKeys []string `json:"accountKeys"`
}

type solTxMeta struct {
	Err          interface{} `json:"err"`
	Fee          uint64      `json:"fee"`
	PreBalances  []int64     `json:"preBalances"`
	PostBalances []int64     `json:"postBalances"`
}

// Signature page size for getSignaturesForAddress.
const solSignaturePageSize = 20

// SolanaGateway detects SOL deposits via Solana JSON-RPC. A signature with
// "finalized" commitment is treated as confirmed (Solana finality replaces
// block-depth confirmation counting).
type SolanaGateway struct {
	client *http.Client
	rpcURL string
}

// NewSolanaGateway creates a Solana RPC gateway.
func NewSolanaGateway(client *http.Client, rpcURL string) *SolanaGateway {
	slog.Info("solana gateway created", "rpcURL", rpcURL)
	return &SolanaGateway{client: client, rpcURL: rpcURL}
}

func (g *SolanaGateway) Name() string        { return "solana-rpc" }
func (g *SolanaGateway) Chain() models.Chain { return models.ChainSOL }

// FetchAddressTransactions lists recent signatures for the address. Finalized
// signatures report the full required confirmation count; anything earlier
// reports zero so the monitor keeps it pending.
func (g *SolanaGateway) FetchAddressTransactions(ctx context.Context, address string) ([]RawTransaction, error) {
	params := []interface{}{
		address,
		map[string]interface{}{"limit": solSignaturePageSize},
	}

	raw, err := g.call(ctx, "getSignaturesForAddress", params)
	if err != nil {
		return nil, err
	}

	var sigs []solSignatureInfo
	if err := json.Unmarshal(raw, &sigs); err != nil {
		return nil, fmt.Errorf("solana parse signatures: %w", err)
	}

	required := config.RequiredConfirmations(models.ChainSOL)

	var result []RawTransaction
	for _, sig := range sigs {
		// Failed transactions never credit anything.
		if sig.Err != nil {
			continue
		}

		confs := 0
		if sig.ConfirmationStatus == "finalized" {
			confs = required
		}

		var blockTime int64
		if sig.BlockTime != nil {
			blockTime = *sig.BlockTime
		}

		result = append(result, RawTransaction{
			TxHash:        sig.Signature,
			AmountRaw:     "", // resolved by FetchTransactionDetail
			Confirmations: confs,
			BlockTime:     blockTime,
			BlockNumber:   int64(sig.Slot),
		})
	}

	slog.Debug("solana signatures fetched",
		"address", address,
		"count", len(result),
	)
	return result, nil
}

// FetchTransactionDetail resolves the lamports credited to the address from
// the transaction's pre/post balance delta.
func (g *SolanaGateway) FetchTransactionDetail(ctx context.Context, txHash, address string) (*TxDetail, error) {
	params := []interface{}{
		txHash,
		map[string]interface{}{
			"encoding":                       "json",
			"maxSupportedTransactionVersion": 0,
			"commitment":                     "finalized",
		},
	}

	raw, err := g.call(ctx, "getTransaction", params)
	if err != nil {
		return nil, err
	}
	if string(raw) == "null" {
		return nil, config.ErrTxNotFound
	}

	var tx solTransactionResult
	if err := json.Unmarshal(raw, &tx); err != nil {
		return nil, fmt.Errorf("solana parse transaction %s: %w", txHash, err)
	}

	// Find the address index in accountKeys, then take the balance delta.
	lamports := int64(0)
	for i, key := range tx.Transaction.Message.AccountKeys {
		if key != address {
			continue
		}
		if i < len(tx.Meta.PreBalances) && i < len(tx.Meta.PostBalances) {
			delta := tx.Meta.PostBalances[i] - tx.Meta.PreBalances[i]
			if delta > 0 {
				lamports = delta
			}
		}
		break
	}

	return &TxDetail{
		TxHash:        txHash,
		AmountRaw:     strconv.FormatInt(lamports, 10),
		Fee:           strconv.FormatUint(tx.Meta.Fee, 10),
		Confirmations: config.RequiredConfirmations(models.ChainSOL),
		Succeeded:     tx.Meta.Err == nil,
	}, nil
}

// FetchReceipt is not applicable to Solana.
func (g *SolanaGateway) FetchReceipt(_ context.Context, _ string) (*Receipt, error) {
	return nil, config.ErrReceiptNotFound
}

// CurrentBlock returns the current slot.
func (g *SolanaGateway) CurrentBlock(ctx context.Context) (uint64, error) {
	raw, err := g.call(ctx, "getSlot", []interface{}{})
	if err != nil {
		return 0, err
	}
	var slot uint64
	if err := json.Unmarshal(raw, &slot); err != nil {
		return 0, fmt.Errorf("solana parse slot: %w", err)
	}
	return slot, nil
}

// CheckHealth probes the node with getHealth.
func (g *SolanaGateway) CheckHealth(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, config.HealthCheckTimeout)
	defer cancel()
	_, err := g.call(ctx, "getHealth", []interface{}{})
	return err
}

// call performs a JSON-RPC request against the Solana node.
func (g *SolanaGateway) call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	reqBody, err := json.Marshal(solRPCRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal rpc request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.rpcURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, config.NewTransientError(fmt.Errorf("solana rpc %s: %w", method, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, config.NewTransientErrorWithRetry(
			fmt.Errorf("%w: HTTP 429 from solana rpc", config.ErrProviderRateLimit),
			retryAfterHint(resp.Header),
		)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from solana rpc: %s", resp.StatusCode, string(body))
	}

	var rpcResp solRPCResponse
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return nil, fmt.Errorf("solana parse rpc response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, config.NewTransientError(fmt.Errorf("solana rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message))
	}

	return rpcResp.Result, nil
}
