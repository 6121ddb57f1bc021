package pool

import "errors"

// Operation errors, grouped by the failure class they report. Every
// precondition is checked before any mutation, so returning one of these
// always means the call left the ledger untouched.
var (
	// Lifecycle
	ErrAlreadyInitialized = errors.New("pool already initialized")
	ErrNotInitialized     = errors.New("pool not initialized")

	// Authorization
	ErrNotAuthorized = errors.New("caller not authorized")

	// Validation
	ErrInvalidAmount            = errors.New("amount must be positive")
	ErrInsufficientFunds        = errors.New("insufficient available funds")
	ErrGameAlreadyReserved      = errors.New("game already has an active reservation")
	ErrReservationNotFound      = errors.New("no active reservation for game")
	ErrPayoutExceedsReservation = errors.New("amount exceeds remaining reservation")

	// Arithmetic
	ErrOverflow = errors.New("counter overflow")
)
