package apperrors

import "errors"

// Standardized trading errors
var (
	ErrBelowMinNotional  = errors.New("order below minimum notional")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrOrderRejected     = errors.New("order rejected")
	ErrOrderTimeout      = errors.New("order confirmation timed out")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrNetwork           = errors.New("network error")
	ErrOrderNotFound     = errors.New("order not found")
	ErrDuplicateOrder    = errors.New("duplicate order")
	ErrInvalidSymbol     = errors.New("invalid symbol")
	ErrFeedExhausted     = errors.New("market feed reconnect attempts exhausted")
	ErrEngineFatal       = errors.New("engine fatal error")
)

// IsTransient reports whether err is worth retrying
func IsTransient(err error) bool {
	return errors.Is(err, ErrNetwork) || errors.Is(err, ErrRateLimitExceeded)
}

// IsValidation reports whether err was raised by pre-submission validation.
// Validation failures are never retried.
func IsValidation(err error) bool {
	return errors.Is(err, ErrBelowMinNotional) || errors.Is(err, ErrInsufficientFunds)
}
