package config

import (
	"errors"
	"time"
)

// Sentinel errors for internal use.
var (
	ErrInvalidConfig       = errors.New("invalid configuration")
	ErrInvalidChain        = errors.New("unsupported chain")
	ErrInvalidAddress      = errors.New("invalid address")
	ErrMissingCurrency     = errors.New("currency is required")
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrProviderRateLimit   = errors.New("provider rate limit exceeded")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrCircuitOpen         = errors.New("circuit breaker is open")
	ErrAllProvidersFailed  = errors.New("all providers failed")
	ErrTxNotFound          = errors.New("transaction not found")
	ErrReceiptNotFound     = errors.New("receipt not available")
	ErrMonitorStopped      = errors.New("monitor already stopped")
	ErrAlreadyProcessed    = errors.New("deposit already processed")
	ErrLockNotHeld         = errors.New("address lock not held")
)

// TransientError wraps an error that should be retried.
type TransientError struct {
	Err        error
	RetryAfter time.Duration // 0 = use default backoff
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// NewTransientError wraps an error as transient (retriable).
func NewTransientError(err error) error {
	return &TransientError{Err: err}
}

// NewTransientErrorWithRetry wraps with explicit retry delay.
func NewTransientErrorWithRetry(err error, retryAfter time.Duration) error {
	return &TransientError{Err: err, RetryAfter: retryAfter}
}

// IsTransient returns true if the error is transient (retriable).
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// GetRetryAfter returns the retry delay if set, or 0.
func GetRetryAfter(err error) time.Duration {
	var te *TransientError
	if errors.As(err, &te) {
		return te.RetryAfter
	}
	return 0
}

// Error codes — shared with clients via API and websocket responses.
const (
	ErrorInvalidChain        = "ERROR_INVALID_CHAIN"
	ErrorInvalidAddress      = "ERROR_INVALID_ADDRESS"
	ErrorMissingCurrency     = "ERROR_MISSING_CURRENCY"
	ErrorWalletNotFound      = "ERROR_WALLET_NOT_FOUND"
	ErrorProviderUnavailable = "ERROR_PROVIDER_UNAVAILABLE"
	ErrorProviderRateLimit   = "ERROR_PROVIDER_RATE_LIMIT"
	ErrorMonitorFailed       = "ERROR_MONITOR_FAILED"
	ErrorDatabase            = "ERROR_DATABASE"
)
