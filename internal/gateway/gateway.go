package gateway

import (
	"context"
	"net/http"

	"github.com/quantex-io/depositwatch/internal/config"
	"github.com/quantex-io/depositwatch/internal/models"
)

// RawTransaction is a transaction sighting returned from an address listing.
type RawTransaction struct {
	TxHash        string
	AmountRaw     string // smallest unit, outputs addressed to the watched address
	Confirmations int
	BlockTime     int64
	BlockNumber   int64
}

// TxDetail is the full detail of a single transaction, fetched once a
// sighting crosses the confirmation threshold.
type TxDetail struct {
	TxHash        string
	AmountRaw     string
	Fee           string
	Confirmations int
	Succeeded     bool
}

// Receipt is an EVM transaction receipt. A present receipt is terminal:
// Status 1 means the transaction succeeded, anything else means it failed.
type Receipt struct {
	TxHash      string
	BlockNumber uint64
	Status      uint64
}

// Gateway wraps an external blockchain data provider for one chain.
type Gateway interface {
	// Name returns the provider identifier (e.g. "blockstream", "etherscan").
	Name() string
	// Chain returns the blockchain this gateway serves.
	Chain() models.Chain
	// FetchAddressTransactions returns incoming transactions for an address.
	FetchAddressTransactions(ctx context.Context, address string) ([]RawTransaction, error)
	// FetchTransactionDetail returns the full detail of a transaction as it
	// pertains to the given address (credited amount, fee, confirmations).
	FetchTransactionDetail(ctx context.Context, txHash, address string) (*TxDetail, error)
	// FetchReceipt returns the transaction receipt. Non-EVM gateways return
	// config.ErrReceiptNotFound.
	FetchReceipt(ctx context.Context, txHash string) (*Receipt, error)
	// CurrentBlock returns the latest block number (used for confirmation counting).
	CurrentBlock(ctx context.Context) (uint64, error)
	// CheckHealth probes the upstream provider with a cheap call.
	CheckHealth(ctx context.Context) error
}

// NewHTTPClient creates a configured HTTP client for gateway use.
func NewHTTPClient() *http.Client {
	transport := &http.Transport{
		MaxConnsPerHost:     config.HTTPMaxConnsPerHost,
		MaxIdleConnsPerHost: config.HTTPMaxIdleConnsPerHost,
		MaxIdleConns:        config.HTTPMaxIdleConns,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   config.ProviderRequestTimeout,
	}
}
