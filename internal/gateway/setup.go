package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/quantex-io/depositwatch/internal/config"
	"github.com/quantex-io/depositwatch/internal/models"
)

// Explorer hosts per UTXO chain and network.
var esploraHosts = map[string]map[models.Chain][]struct{ name, url string }{
	"mainnet": {
		models.ChainBTC: {
			{"blockstream", "https://blockstream.info/api"},
			{"mempool", "https://mempool.space/api"},
		},
		models.ChainLTC: {
			{"litecoinspace", "https://litecoinspace.org/api"},
		},
		models.ChainDOGE: {
			{"dogeblocks", "https://dogeblocks.com/api"},
		},
	},
	"testnet": {
		models.ChainBTC: {
			{"blockstream-testnet", "https://blockstream.info/testnet/api"},
			{"mempool-testnet", "https://mempool.space/testnet/api"},
		},
	},
}

// Scan API hosts per EVM chain and network.
var scanHosts = map[string]map[models.Chain]string{
	"mainnet": {
		models.ChainETH: "https://api.etherscan.io/api",
		models.ChainBSC: "https://api.bscscan.com/api",
	},
	"testnet": {
		models.ChainETH: "https://api-sepolia.etherscan.io/api",
		models.ChainBSC: "https://api-testnet.bscscan.com/api",
	},
}

// SetupPool builds the provider pool from configuration: explorer factories
// for UTXO chains, WebSocket-then-HTTP RPC factories for EVM chains, and a
// JSON-RPC factory for Solana.
func SetupPool(cfg *config.Config) *Pool {
	pool := NewPool()
	client := NewHTTPClient()

	// UTXO chains: one factory per explorer host, tried in order.
	for chain, hosts := range esploraHosts[cfg.Network] {
		var factories []Factory
		for _, h := range hosts {
			name, url := h.name, h.url
			factories = append(factories, Factory{
				Name: name,
				Build: func(_ context.Context) (Gateway, error) {
					return NewEsploraGateway(client, chain, name, url), nil
				},
			})
		}
		pool.Register(chain, factories...)
	}

	// EVM chains: WebSocket endpoint first, HTTP fallback.
	registerEVM(pool, client, models.ChainETH, "etherscan",
		scanHosts[cfg.Network][models.ChainETH], cfg.EtherscanAPIKey,
		cfg.EthRPCWSURL, cfg.EthRPCHTTPURL)
	registerEVM(pool, client, models.ChainBSC, "bscscan",
		scanHosts[cfg.Network][models.ChainBSC], cfg.BscScanAPIKey,
		cfg.BscRPCWSURL, cfg.BscRPCHTTPURL)

	// Solana.
	if cfg.SolanaRPCURL != "" {
		rpcURL := cfg.SolanaRPCURL
		pool.Register(models.ChainSOL, Factory{
			Name: "solana-rpc",
			Build: func(_ context.Context) (Gateway, error) {
				return NewSolanaGateway(client, rpcURL), nil
			},
		})
	}

	slog.Info("provider pool configured",
		"network", cfg.Network,
		"chains", len(pool.Chains()),
	)
	return pool
}

// registerEVM registers RPC factories for an EVM chain. The WebSocket dial is
// preferred when configured; a failed dial or probe falls through to HTTP.
func registerEVM(pool *Pool, client *http.Client, chain models.Chain, name, scanURL, apiKey, wsURL, httpURL string) {
	var factories []Factory

	if wsURL != "" {
		url := wsURL
		factories = append(factories, Factory{
			Name: name + "-ws",
			Build: func(ctx context.Context) (Gateway, error) {
				rpc, err := ethclient.DialContext(ctx, url)
				if err != nil {
					return nil, fmt.Errorf("dial websocket rpc: %w", err)
				}
				return NewEVMGateway(client, rpc, chain, name+"-ws", scanURL, apiKey), nil
			},
		})
	}

	if httpURL != "" {
		url := httpURL
		factories = append(factories, Factory{
			Name: name + "-http",
			Build: func(ctx context.Context) (Gateway, error) {
				rpc, err := ethclient.DialContext(ctx, url)
				if err != nil {
					return nil, fmt.Errorf("dial http rpc: %w", err)
				}
				return NewEVMGateway(client, rpc, chain, name+"-http", scanURL, apiKey), nil
			},
		})
	}

	if len(factories) == 0 {
		slog.Warn("no RPC endpoints configured for chain", "chain", chain)
		return
	}

	pool.Register(chain, factories...)
}
