package config

import (
	"time"

	"github.com/quantex-io/depositwatch/internal/models"
)

// Polling Intervals (base interval per chain family)
const (
	PollIntervalUTXO   = 30 * time.Second
	PollIntervalEVM    = 15 * time.Second
	PollIntervalSolana = 10 * time.Second
)

// Backoff
const (
	// On consecutive poll errors the interval grows base * 2^(n-1), capped here.
	BackoffMax = 5 * time.Minute
)

// Monitor lifecycle
const (
	// MonitorErrorBudget is the number of consecutive poll errors a monitor
	// tolerates before stopping with error-exhausted.
	MonitorErrorBudget = 5

	// Disconnect grace periods before a monitor is torn down. Exclusive
	// contract types release their address lock promptly; shared addresses
	// tolerate brief reconnects.
	GracePeriodExclusive = 30 * time.Second
	GracePeriodShared    = 5 * time.Minute
)

// Confirmation thresholds per chain.
var requiredConfirmations = map[models.Chain]int{
	models.ChainBTC:  3,
	models.ChainLTC:  6,
	models.ChainDOGE: 10,
	models.ChainETH:  12,
	models.ChainBSC:  15,
	models.ChainSOL:  1, // finalized commitment counts as confirmed
}

// RequiredConfirmations returns the confirmation threshold for a chain.
// Unknown chains get a conservative default.
func RequiredConfirmations(chain models.Chain) int {
	if n, ok := requiredConfirmations[chain]; ok {
		return n
	}
	return 12
}

// PollInterval returns the base poll interval for a chain's family.
func PollInterval(chain models.Chain) time.Duration {
	switch chain.Family() {
	case models.FamilyEVM:
		return PollIntervalEVM
	case models.FamilySolana:
		return PollIntervalSolana
	default:
		return PollIntervalUTXO
	}
}

// Verification Sweeper
const (
	SweepInterval           = 10 * time.Second
	SweepBatchSize          = 5
	MaxVerificationAttempts = 10
	AttemptTrackingWindow   = 30 * time.Minute
)

// Dedup Ledger
const (
	DedupEntryTTL      = 30 * time.Minute
	DedupPurgeInterval = 5 * time.Minute
)

// Pending Store / Address Locks (Redis)
const (
	PendingSnapshotKey = "deposits:pending"
	AddressLockPrefix  = "deposits:lock:"
	AddressLockTTL     = 24 * time.Hour
)

// Circuit Breaker
const (
	CircuitBreakerThreshold   = 5
	CircuitBreakerCooldown    = 60 * time.Second
	CircuitBreakerHalfOpenMax = 1
)

// Circuit breaker states.
const (
	CircuitClosed   = "closed"
	CircuitOpen     = "open"
	CircuitHalfOpen = "half-open"
)

// Provider rate limits (requests per second).
const (
	RateLimitEsplora = 4
	RateLimitScanAPI = 5
	RateLimitRPC     = 10
)

// HTTP client connection pool
const (
	HTTPMaxConnsPerHost     = 10
	HTTPMaxIdleConnsPerHost = 5
	HTTPMaxIdleConns        = 20
	ProviderRequestTimeout  = 20 * time.Second
	HealthCheckTimeout      = 5 * time.Second
)

// Wallet database
const (
	WalletDBBusyTimeout = 5000 // ms
)

// Decimals per native asset.
const (
	BTCDecimals = 8
	ETHDecimals = 18
	SOLDecimals = 9
)

// Server
const (
	ServerReadTimeout  = 30 * time.Second
	ServerWriteTimeout = 60 * time.Second
	ShutdownTimeout    = 10 * time.Second
)

// WebSocket hub
const (
	WSWriteWait      = 10 * time.Second
	WSPongWait       = 60 * time.Second
	WSPingPeriod     = 54 * time.Second
	WSSendBuffer     = 32
	WSMaxMessageSize = 4096
)

// Logging
const (
	LogMaxAgeDays = 14
)
