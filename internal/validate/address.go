package validate

import (
	"fmt"
	"log/slog"
	"regexp"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/mr-tron/base58"

	"github.com/quantex-io/depositwatch/internal/models"
)

// evmAddressRegex matches a valid EVM hex address (0x + 40 hex chars).
var evmAddressRegex = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// Address validates that addr is a well-formed deposit address for the given
// chain and network. Network must be "mainnet" or "testnet".
func Address(chain models.Chain, addr, network string) error {
	slog.Debug("validating address",
		"chain", chain,
		"address", addr,
		"network", network,
	)

	switch chain.Family() {
	case models.FamilyUTXO:
		return validateUTXO(chain, addr, network)
	case models.FamilyEVM:
		return validateEVM(addr)
	case models.FamilySolana:
		return validateSolana(addr)
	default:
		return fmt.Errorf("unsupported chain %q", chain)
	}
}

// validateUTXO uses btcutil.DecodeAddress to fully validate a Bitcoin-family
// address including checksum verification for bech32 addresses, and verifies
// the address belongs to the specified network. Litecoin and Dogecoin reuse
// the Bitcoin address envelope with different version bytes, so only BTC
// addresses get the full network check.
func validateUTXO(chain models.Chain, addr, network string) error {
	if chain != models.ChainBTC {
		// Base58Check / bech32 envelope validation only.
		if len(addr) < 26 || len(addr) > 90 {
			return fmt.Errorf("invalid %s address %q: unexpected length %d", chain, addr, len(addr))
		}
		return nil
	}

	var params *chaincfg.Params
	switch network {
	case "mainnet":
		params = &chaincfg.MainNetParams
	case "testnet":
		params = &chaincfg.TestNet3Params
	default:
		return fmt.Errorf("unsupported BTC network %q", network)
	}

	decoded, err := btcutil.DecodeAddress(addr, params)
	if err != nil {
		return fmt.Errorf("invalid BTC address %q: %w", addr, err)
	}

	if !decoded.IsForNet(params) {
		return fmt.Errorf("invalid BTC address %q: address is not for %s network", addr, network)
	}

	return nil
}

// validateEVM checks that addr matches the 0x + 40 hex chars format.
// Same format for mainnet and testnet.
func validateEVM(addr string) error {
	if !evmAddressRegex.MatchString(addr) {
		return fmt.Errorf("invalid EVM address %q: must match 0x + 40 hex characters", addr)
	}
	return nil
}

// validateSolana decodes a base58 address and verifies it is exactly 32 bytes
// (ed25519 public key).
func validateSolana(addr string) error {
	decoded, err := base58.Decode(addr)
	if err != nil {
		return fmt.Errorf("invalid SOL address %q: base58 decode failed: %w", addr, err)
	}
	if len(decoded) != 32 {
		return fmt.Errorf("invalid SOL address %q: decoded to %d bytes, expected 32", addr, len(decoded))
	}
	return nil
}
