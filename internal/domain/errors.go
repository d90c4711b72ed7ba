package domain

import (
	"errors"
	"fmt"
)

var (
	ErrPairNotFound        = errors.New("trading pair not registered")
	ErrPairExists          = errors.New("trading pair already registered")
	ErrInvalidPair         = errors.New("invalid trading pair")
	ErrOrderNotFound       = errors.New("order not found")
	ErrOrderNotOpen        = errors.New("order is not open")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidAmount       = errors.New("amount must be > 0")
)

// ValidationError rejects an order before any state is touched.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// MarketHaltedError rejects an order for a symbol under a circuit breaker.
type MarketHaltedError struct {
	Symbol string
	Reason string
}

func (e *MarketHaltedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("market %s is halted", e.Symbol)
	}
	return fmt.Sprintf("market %s is halted: %s", e.Symbol, e.Reason)
}

// ExecutionError wraps a failure to turn a strategy signal into an executed order.
type ExecutionError struct {
	StrategyID string
	Err        error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execute signal from %s: %v", e.StrategyID, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
