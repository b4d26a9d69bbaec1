package domain

import "errors"

// Engine error taxonomy. All are recoverable at the caller level except
// ErrBookCrossed, which indicates an engine bug and stops the affected
// instrument's processing.
var (
	ErrInvalidOrder      = errors.New("invalid order")
	ErrOrderNotFound     = errors.New("order not found")
	ErrAlreadyFilled     = errors.New("order already filled")
	ErrNoLiquidity       = errors.New("no liquidity")
	ErrEngineUnavailable = errors.New("engine unavailable")
	ErrBookCrossed       = errors.New("order book crossed")
)
