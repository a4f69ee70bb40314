package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/quantex-io/depositwatch/internal/config"
	"github.com/quantex-io/depositwatch/internal/models"
)

// Esplora API page size (Blockstream/Mempool return 25 txs per page) and the
// backfill bound: a deposit watch only needs recent history.
const (
	esploraPageSize = 25
	esploraMaxPages = 4
)

// esploraTx represents a transaction from an Esplora-style explorer API.
type esploraTx struct {
	TxID   string        `json:"txid"`
	Fee    int64         `json:"fee"`
	Status esploraStatus `json:"status"`
	Vout   []esploraVout `json:"vout"`
}

type esploraStatus struct {
	Confirmed   bool  `json:"confirmed"`
	BlockHeight int64 `json:"block_height"`
	BlockTime   int64 `json:"block_time"`
}

type esploraVout struct {
	ScriptPubKeyAddr string `json:"scriptpubkey_address"`
	Value            int64  `json:"value"` // satoshis
}

// EsploraGateway detects UTXO-chain transactions via an Esplora-style
// explorer API (Blockstream, Mempool.space and compatible hosts).
type EsploraGateway struct {
	client  *http.Client
	chain   models.Chain
	name    string
	baseURL string
}

// NewEsploraGateway creates an explorer gateway for a UTXO chain.
func NewEsploraGateway(client *http.Client, chain models.Chain, name, baseURL string) *EsploraGateway {
	slog.Info("esplora gateway created",
		"chain", chain,
		"provider", name,
		"baseURL", baseURL,
	)
	return &EsploraGateway{
		client:  client,
		chain:   chain,
		name:    name,
		baseURL: baseURL,
	}
}

func (g *EsploraGateway) Name() string        { return g.name }
func (g *EsploraGateway) Chain() models.Chain { return g.chain }

// FetchAddressTransactions returns incoming transactions for an address with
// confirmation counts computed against the current tip height. Results come
// 25 per page, newest first; older pages are fetched until a short page,
// bounded at esploraMaxPages.
func (g *EsploraGateway) FetchAddressTransactions(ctx context.Context, address string) ([]RawTransaction, error) {
	tip, err := g.CurrentBlock(ctx)
	if err != nil {
		return nil, fmt.Errorf("esplora tip height: %w", err)
	}

	var txs []esploraTx
	lastSeen := ""
	for page := 0; page < esploraMaxPages; page++ {
		batch, err := g.fetchPage(ctx, address, lastSeen)
		if err != nil {
			return nil, fmt.Errorf("esplora fetch page: %w", err)
		}
		txs = append(txs, batch...)
		if len(batch) < esploraPageSize {
			break
		}
		lastSeen = batch[len(batch)-1].TxID
	}

	var result []RawTransaction
	for _, tx := range txs {
		// Sum outputs that pay to our address.
		totalSats := int64(0)
		for _, vout := range tx.Vout {
			if strings.EqualFold(vout.ScriptPubKeyAddr, address) {
				totalSats += vout.Value
			}
		}

		// Skip if no outputs to our address (outgoing or unrelated tx).
		if totalSats == 0 {
			continue
		}

		result = append(result, RawTransaction{
			TxHash:        tx.TxID,
			AmountRaw:     strconv.FormatInt(totalSats, 10),
			Confirmations: confirmationsFromHeight(tx.Status, tip),
			BlockTime:     tx.Status.BlockTime,
			BlockNumber:   tx.Status.BlockHeight,
		})
	}

	slog.Debug("esplora address transactions fetched",
		"provider", g.name,
		"chain", g.chain,
		"address", address,
		"count", len(result),
	)
	return result, nil
}

// FetchTransactionDetail fetches a single transaction and computes the amount
// credited to the given address plus the network fee.
func (g *EsploraGateway) FetchTransactionDetail(ctx context.Context, txHash, address string) (*TxDetail, error) {
	body, err := g.doGet(ctx, fmt.Sprintf("%s/tx/%s", g.baseURL, txHash))
	if err != nil {
		return nil, fmt.Errorf("esplora fetch tx %s: %w", txHash, err)
	}

	var tx esploraTx
	if err := json.Unmarshal(body, &tx); err != nil {
		return nil, fmt.Errorf("esplora parse tx %s: %w", txHash, err)
	}

	tip, err := g.CurrentBlock(ctx)
	if err != nil {
		return nil, fmt.Errorf("esplora tip height: %w", err)
	}

	totalSats := int64(0)
	for _, vout := range tx.Vout {
		if strings.EqualFold(vout.ScriptPubKeyAddr, address) {
			totalSats += vout.Value
		}
	}

	return &TxDetail{
		TxHash:        tx.TxID,
		AmountRaw:     strconv.FormatInt(totalSats, 10),
		Fee:           strconv.FormatInt(tx.Fee, 10),
		Confirmations: confirmationsFromHeight(tx.Status, tip),
		Succeeded:     true, // UTXO transactions in a block cannot revert
	}, nil
}

// FetchReceipt is not applicable to UTXO chains.
func (g *EsploraGateway) FetchReceipt(_ context.Context, _ string) (*Receipt, error) {
	return nil, config.ErrReceiptNotFound
}

// CurrentBlock returns the explorer's current tip height.
func (g *EsploraGateway) CurrentBlock(ctx context.Context) (uint64, error) {
	body, err := g.doGet(ctx, g.baseURL+"/blocks/tip/height")
	if err != nil {
		return 0, err
	}
	height, err := strconv.ParseUint(strings.TrimSpace(string(body)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("esplora parse tip height %q: %w", string(body), err)
	}
	return height, nil
}

// CheckHealth probes the tip-height endpoint.
func (g *EsploraGateway) CheckHealth(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, config.HealthCheckTimeout)
	defer cancel()
	_, err := g.CurrentBlock(ctx)
	return err
}

// fetchPage fetches a page of transactions from the explorer API.
func (g *EsploraGateway) fetchPage(ctx context.Context, address, afterTxID string) ([]esploraTx, error) {
	url := fmt.Sprintf("%s/address/%s/txs", g.baseURL, address)
	if afterTxID != "" {
		url += "/chain/" + afterTxID
	}

	body, err := g.doGet(ctx, url)
	if err != nil {
		return nil, err
	}

	var txs []esploraTx
	if err := json.Unmarshal(body, &txs); err != nil {
		return nil, fmt.Errorf("esplora parse response: %w", err)
	}

	return txs, nil
}

// doGet performs a GET request and returns the response body.
func (g *EsploraGateway) doGet(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, config.NewTransientError(fmt.Errorf("http request failed: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, config.NewTransientErrorWithRetry(
			fmt.Errorf("%w: HTTP 429 from %s", config.ErrProviderRateLimit, url),
			retryAfterHint(resp.Header),
		)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s: %s", resp.StatusCode, url, string(body))
	}

	return body, nil
}

// confirmationsFromHeight computes the confirmation count for a transaction
// given the current tip height. Unconfirmed mempool transactions count 0.
func confirmationsFromHeight(status esploraStatus, tip uint64) int {
	if !status.Confirmed || status.BlockHeight <= 0 {
		return 0
	}
	confs := int64(tip) - status.BlockHeight + 1
	if confs < 0 {
		return 0
	}
	return int(confs)
}
