package engine

import "errors"

// Failure taxonomy. Validation and authorization errors abort before any
// state change; state-conflict errors signal a race or a stale client
// view and are safe to retry with fresh state; ErrTransferFailed wraps a
// collateral gateway failure. Every failure is total-rollback.
var (
	// Validation
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrPairNotSupported = errors.New("pair not supported")
	ErrBelowMinimumSize = errors.New("below minimum order size")
	ErrPriceRejected    = errors.New("price rejected")
	ErrBothMarketOrders = errors.New("cannot match two market orders")
	ErrPairMismatch     = errors.New("orders are for different pairs")
	ErrSideMismatch     = errors.New("orders are not opposite sides")
	ErrPaused           = errors.New("engine is paused")

	// Authorization
	ErrNotOwner     = errors.New("caller is not the order owner")
	ErrSelfFill     = errors.New("cannot fill own order")
	ErrUnauthorized = errors.New("caller is not the admin")
	ErrFeeTooHigh   = errors.New("fee exceeds cap")

	// State conflict
	ErrOrderNotFound = errors.New("order not found")
	ErrAlreadyFilled = errors.New("order already filled or cancelled")
	ErrExpired       = errors.New("order expired")
	ErrOrderInactive = errors.New("order inactive")

	// Dependency
	ErrTransferFailed = errors.New("collateral transfer failed")
)
