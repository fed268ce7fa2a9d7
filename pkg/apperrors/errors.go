package apperrors

import "errors"

// Standardized Exchange Errors
var (
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrOrderRejected         = errors.New("order rejected")
	ErrRateLimitExceeded     = errors.New("rate limit exceeded")
	ErrNetwork               = errors.New("network error")
	ErrInvalidSymbol         = errors.New("invalid symbol")
	ErrAuthenticationFailed  = errors.New("authentication failed")
	ErrExchangeMaintenance   = errors.New("exchange maintenance")
	ErrOrderNotFound         = errors.New("order not found")
	ErrDuplicateOrder        = errors.New("duplicate order")
	ErrInvalidOrderParameter = errors.New("invalid order parameter")
	ErrSystemOverload        = errors.New("system overload")
	ErrTimestampOutOfBounds  = errors.New("timestamp out of bounds")
)

// Slot Runtime Errors
//
// These never travel through the reducer: an event naming an unknown
// local_id or recovery_id is a no-op at the core.Transition level. The
// runtime raises these only for its own bookkeeping (metrics, logs) when
// an exchange callback references an id it has already forgotten.
var (
	ErrUnknownLocalID    = errors.New("unknown local id")
	ErrUnknownRecoveryID = errors.New("unknown recovery id")
)
