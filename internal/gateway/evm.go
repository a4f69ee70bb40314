package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/quantex-io/depositwatch/internal/config"
	"github.com/quantex-io/depositwatch/internal/models"
)

// scanResponse is the Etherscan-family API response envelope.
type scanResponse struct {
	Status  string          `json:"status"` // "1" = success, "0" = error
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// scanTx represents a transaction from the txlist action.
type scanTx struct {
	Hash          string `json:"hash"`
	From          string `json:"from"`
	To            string `json:"to"`
	Value         string `json:"value"` // wei
	GasUsed       string `json:"gasUsed"`
	GasPrice      string `json:"gasPrice"`
	IsError       string `json:"isError"`
	TimeStamp     string `json:"timeStamp"`
	BlockNumber   string `json:"blockNumber"`
	Confirmations string `json:"confirmations"`
}

// EVMGateway detects EVM-chain deposits via an Etherscan-family scan API for
// address transaction listing and a JSON-RPC client for receipts and block
// height. The RPC client is supplied by the provider pool (WebSocket endpoint
// preferred, HTTP fallback).
type EVMGateway struct {
	client  *http.Client
	rpc     *ethclient.Client
	chain   models.Chain
	name    string
	scanURL string
	apiKey  string
}

// NewEVMGateway creates an EVM gateway backed by the given RPC client.
func NewEVMGateway(client *http.Client, rpc *ethclient.Client, chain models.Chain, name, scanURL, apiKey string) *EVMGateway {
	slog.Info("evm gateway created",
		"chain", chain,
		"provider", name,
		"scanURL", scanURL,
		"hasAPIKey", apiKey != "",
	)
	return &EVMGateway{
		client:  client,
		rpc:     rpc,
		chain:   chain,
		name:    name,
		scanURL: scanURL,
		apiKey:  apiKey,
	}
}

func (g *EVMGateway) Name() string        { return g.name }
func (g *EVMGateway) Chain() models.Chain { return g.chain }

// FetchAddressTransactions returns incoming native-coin transactions for an
// address. Failed and outgoing transactions are skipped.
func (g *EVMGateway) FetchAddressTransactions(ctx context.Context, address string) ([]RawTransaction, error) {
	url := fmt.Sprintf("%s?module=account&action=txlist&address=%s&sort=desc&apikey=%s",
		g.scanURL, address, g.apiKey)

	body, err := g.doGet(ctx, url)
	if err != nil {
		return nil, err
	}

	var resp scanResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("scan parse response: %w", err)
	}

	// The scan API returns status "0" with "No transactions found" when empty.
	if resp.Status == "0" && strings.Contains(resp.Message, "No transactions found") {
		return nil, nil
	}
	if resp.Status == "0" {
		return nil, config.NewTransientError(fmt.Errorf("scan API error: %s", resp.Message))
	}

	var txs []scanTx
	if err := json.Unmarshal(resp.Result, &txs); err != nil {
		return nil, fmt.Errorf("scan parse txlist: %w", err)
	}

	var result []RawTransaction
	for _, tx := range txs {
		// Skip outgoing transactions.
		if !strings.EqualFold(tx.To, address) {
			continue
		}
		// Skip failed transactions.
		if tx.IsError == "1" {
			continue
		}
		// Skip zero-value transactions.
		if tx.Value == "0" || tx.Value == "" {
			continue
		}

		ts, _ := strconv.ParseInt(tx.TimeStamp, 10, 64)
		blockNum, _ := strconv.ParseInt(tx.BlockNumber, 10, 64)
		confs, _ := strconv.Atoi(tx.Confirmations)

		result = append(result, RawTransaction{
			TxHash:        tx.Hash,
			AmountRaw:     tx.Value,
			Confirmations: confs,
			BlockTime:     ts,
			BlockNumber:   blockNum,
		})
	}

	slog.Debug("evm address transactions fetched",
		"provider", g.name,
		"chain", g.chain,
		"address", address,
		"count", len(result),
	)
	return result, nil
}

// FetchTransactionDetail resolves the credited amount and fee from the RPC
// node: the transaction body for value and the receipt for gas usage and
// terminal status.
func (g *EVMGateway) FetchTransactionDetail(ctx context.Context, txHash, address string) (*TxDetail, error) {
	hash := common.HexToHash(txHash)

	tx, _, err := g.rpc.TransactionByHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, config.ErrTxNotFound
		}
		return nil, config.NewTransientError(fmt.Errorf("evm fetch tx %s: %w", txHash, err))
	}

	receipt, err := g.rpc.TransactionReceipt(ctx, hash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, config.ErrReceiptNotFound
		}
		return nil, config.NewTransientError(fmt.Errorf("evm fetch receipt %s: %w", txHash, err))
	}

	amount := "0"
	if tx.To() != nil && strings.EqualFold(tx.To().Hex(), address) && tx.Value() != nil {
		amount = tx.Value().String()
	}

	fee := "0"
	if receipt.EffectiveGasPrice != nil {
		gas := new(big.Int).SetUint64(receipt.GasUsed)
		fee = new(big.Int).Mul(receipt.EffectiveGasPrice, gas).String()
	}

	tip, err := g.rpc.BlockNumber(ctx)
	if err != nil {
		return nil, config.NewTransientError(fmt.Errorf("evm block number: %w", err))
	}

	confs := 0
	if receipt.BlockNumber != nil {
		c := int64(tip) - receipt.BlockNumber.Int64() + 1
		if c > 0 {
			confs = int(c)
		}
	}

	return &TxDetail{
		TxHash:        txHash,
		AmountRaw:     amount,
		Fee:           fee,
		Confirmations: confs,
		Succeeded:     receipt.Status == 1,
	}, nil
}

// FetchReceipt returns the transaction receipt, or config.ErrReceiptNotFound
// while the transaction is still pending.
func (g *EVMGateway) FetchReceipt(ctx context.Context, txHash string) (*Receipt, error) {
	receipt, err := g.rpc.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, config.ErrReceiptNotFound
		}
		return nil, config.NewTransientError(fmt.Errorf("evm fetch receipt %s: %w", txHash, err))
	}

	blockNum := uint64(0)
	if receipt.BlockNumber != nil {
		blockNum = receipt.BlockNumber.Uint64()
	}

	return &Receipt{
		TxHash:      txHash,
		BlockNumber: blockNum,
		Status:      receipt.Status,
	}, nil
}

// CurrentBlock returns the latest block number from the RPC node.
func (g *EVMGateway) CurrentBlock(ctx context.Context) (uint64, error) {
	n, err := g.rpc.BlockNumber(ctx)
	if err != nil {
		return 0, config.NewTransientError(fmt.Errorf("evm block number: %w", err))
	}
	return n, nil
}

// CheckHealth probes the RPC node with eth_blockNumber.
func (g *EVMGateway) CheckHealth(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, config.HealthCheckTimeout)
	defer cancel()
	_, err := g.rpc.BlockNumber(ctx)
	return err
}

// Close releases the underlying RPC connection.
func (g *EVMGateway) Close() {
	if g.rpc != nil {
		g.rpc.Close()
	}
}

// doGet performs a GET request against the scan API.
func (g *EVMGateway) doGet(ctx context.Context, url string) ([]byte, error) {
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
			fmt.Errorf("%w: HTTP 429 from scan API", config.ErrProviderRateLimit),
			retryAfterHint(resp.Header),
		)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s: %s", resp.StatusCode, url, string(body))
	}

	return body, nil
}
