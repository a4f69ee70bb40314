package models

import "time"

// Chain identifies a supported blockchain.
type Chain string

const (
	ChainBTC  Chain = "BTC"
	ChainLTC  Chain = "LTC"
	ChainDOGE Chain = "DOGE"
	ChainETH  Chain = "ETH"
	ChainBSC  Chain = "BSC"
	ChainSOL  Chain = "SOL"
)

// ChainFamily groups chains by how deposits are detected.
type ChainFamily string

const (
	FamilyUTXO   ChainFamily = "UTXO"   // explorer-API address tx listing
	FamilyEVM    ChainFamily = "EVM"    // scan API + JSON-RPC receipts
	FamilySolana ChainFamily = "SOLANA" // signature listing via JSON-RPC
)

// Family returns the detection family for a chain, or "" if unsupported.
func (c Chain) Family() ChainFamily {
	switch c {
	case ChainBTC, ChainLTC, ChainDOGE:
		return FamilyUTXO
	case ChainETH, ChainBSC:
		return FamilyEVM
	case ChainSOL:
		return FamilySolana
	default:
		return ""
	}
}

// ContractType describes how a deposit address is allocated.
type ContractType string

const (
	// ContractPermit locks the deposit address exclusively to one depositor
	// for the duration of the deposit.
	ContractPermit ContractType = "PERMIT"
	// ContractNoPermit is a shared deposit address (dedup by wallet+hash).
	ContractNoPermit ContractType = "NO_PERMIT"
	// ContractNative is a native-coin deposit to a per-user address.
	ContractNative ContractType = "NATIVE"
)

// Exclusive reports whether this contract type holds an exclusive address lock
// that must be released promptly when the deposit completes or the client leaves.
func (c ContractType) Exclusive() bool { return c == ContractPermit }

// DepositStatus is the lifecycle state of a tracked deposit.
type DepositStatus string

const (
	DepositStatusPending   DepositStatus = "PENDING"
	DepositStatusCompleted DepositStatus = "COMPLETED"
	DepositStatusFailed    DepositStatus = "FAILED"
)

// PendingDeposit is a transaction observed on-chain but not yet confirmed
// and credited. Persisted externally, keyed by transaction hash, so it
// survives process restarts.
type PendingDeposit struct {
	TxHash        string        `json:"tx_hash"`
	Chain         Chain         `json:"chain"`
	Currency      string        `json:"currency"`
	UserID        string        `json:"user_id"`
	WalletID      string        `json:"wallet_id"`
	Address       string        `json:"address"`
	AmountRaw     string        `json:"amount_raw"` // smallest unit (satoshis, wei, lamports)
	Fee           string        `json:"fee,omitempty"`
	Confirmations int           `json:"confirmations"`
	Required      int           `json:"required_confirmations"`
	Status        DepositStatus `json:"status"`
	ContractType  ContractType  `json:"contract_type"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// MonitorParams is what a client session asks the registry to watch.
type MonitorParams struct {
	Chain        Chain        `json:"chain"`
	Currency     string       `json:"currency"`
	Address      string       `json:"address"`
	ContractType ContractType `json:"contract_type"`
}

// Equal reports whether two parameter sets describe the same watch target.
func (p MonitorParams) Equal(o MonitorParams) bool {
	return p.Chain == o.Chain && p.Currency == o.Currency && p.Address == o.Address
}

// ConnectionRecord tracks the latest subscription request for a session,
// used for staleness detection and disconnect grace-period selection.
type ConnectionRecord struct {
	SessionKey  string        `json:"session_key"`
	Params      MonitorParams `json:"params"`
	ConnectedAt time.Time     `json:"connected_at"`
}

// Wallet is the destination of a credited deposit. Owned by the wallet store;
// the monitoring core only reads the identity fields and the updated balance.
type Wallet struct {
	ID       string `json:"id"`
	UserID   string `json:"user_id"`
	Currency string `json:"currency"`
	Type     string `json:"type"` // "ECO" for ecosystem deposits
	Balance  string `json:"balance"`
}

// Transaction is a wallet-ledger record produced by the credit handoff.
type Transaction struct {
	ID        string    `json:"id"`
	WalletID  string    `json:"wallet_id"`
	UserID    string    `json:"user_id"`
	Type      string    `json:"type"`   // "DEPOSIT"
	Status    string    `json:"status"` // "COMPLETED"
	Amount    string    `json:"amount"`
	Fee       string    `json:"fee"`
	Currency  string    `json:"currency"`
	Chain     Chain     `json:"chain"`
	TrxID     string    `json:"trx_id"` // on-chain transaction hash
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"created_at"`
}

// DepositEvent is broadcast to subscribed clients as a deposit progresses.
type DepositEvent struct {
	Type          string        `json:"type"` // "deposit_pending", "deposit_completed", "deposit_failed"
	UserID        string        `json:"user_id"`
	Chain         Chain         `json:"chain"`
	Currency      string        `json:"currency"`
	Address       string        `json:"address"`
	TxHash        string        `json:"tx_hash"`
	Confirmations int           `json:"confirmations"`
	Required      int           `json:"required_confirmations"`
	Status        DepositStatus `json:"status"`
	AmountRaw     string        `json:"amount_raw,omitempty"`
}
