package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Port     int    `envconfig:"DEPOSITWATCH_PORT" default:"8080"`
	LogLevel string `envconfig:"DEPOSITWATCH_LOG_LEVEL" default:"info"`
	LogDir   string `envconfig:"DEPOSITWATCH_LOG_DIR" default:"./logs"`
	Network  string `envconfig:"DEPOSITWATCH_NETWORK" default:"testnet"`

	RedisURL      string `envconfig:"DEPOSITWATCH_REDIS_URL" default:"redis://localhost:6379/0"`
	RedisPassword string `envconfig:"DEPOSITWATCH_REDIS_PASSWORD"`

	WalletDBPath string `envconfig:"DEPOSITWATCH_WALLET_DB_PATH" default:"./data/wallets.sqlite"`

	// EVM endpoints. WebSocket is preferred; HTTP is the fallback.
	EthRPCWSURL     string `envconfig:"DEPOSITWATCH_ETH_RPC_WS_URL"`
	EthRPCHTTPURL   string `envconfig:"DEPOSITWATCH_ETH_RPC_HTTP_URL" default:"https://ethereum-rpc.publicnode.com"`
	BscRPCWSURL     string `envconfig:"DEPOSITWATCH_BSC_RPC_WS_URL"`
	BscRPCHTTPURL   string `envconfig:"DEPOSITWATCH_BSC_RPC_HTTP_URL" default:"https://bsc-dataseed.binance.org"`
	EtherscanAPIKey string `envconfig:"DEPOSITWATCH_ETHERSCAN_API_KEY"`
	BscScanAPIKey   string `envconfig:"DEPOSITWATCH_BSCSCAN_API_KEY"`

	SolanaRPCURL string `envconfig:"DEPOSITWATCH_SOLANA_RPC_URL" default:"https://api.mainnet-beta.solana.com"`
}

// Load reads configuration from .env file (if present) then from environment variables.
// Environment variables override .env values.
func Load() (*Config, error) {
	// godotenv does NOT override already-set env vars, so real environment
	// variables take precedence over .env values.
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			slog.Warn("failed to load .env file", "error", err)
		} else {
			slog.Info("loaded .env file")
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks configuration values for correctness.
func (c *Config) Validate() error {
	if c.Network != "mainnet" && c.Network != "testnet" {
		return fmt.Errorf("%w: network must be \"mainnet\" or \"testnet\", got %q", ErrInvalidConfig, c.Network)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: port must be 1-65535, got %d", ErrInvalidConfig, c.Port)
	}
	if c.RedisURL == "" {
		return fmt.Errorf("%w: redis URL is required", ErrInvalidConfig)
	}
	return nil
}
