package resilience

import (
	"errors"
	"fmt"
)

// Sentinel errors for resilience operations.
var (
	// ErrCircuitOpen is returned when the circuit breaker is open and no
	// fallback was provided.
	ErrCircuitOpen = errors.New("resilience: circuit breaker is open")

	// ErrMaxRetriesExceeded is returned when max retry attempts are exhausted.
	ErrMaxRetriesExceeded = errors.New("resilience: max retries exceeded")

	// ErrNilBreaker is returned when a nil circuit breaker is provided.
	ErrNilBreaker = errors.New("resilience: nil circuit breaker")
)

// FallbackError reports that both the primary operation and its fallback
// failed. Callers can branch on it with errors.As and inspect both causes.
type FallbackError struct {
	// Operation is the logical operation name passed to Execute.
	Operation string

	// Primary is the operation's error (or ErrCircuitOpen when the
	// breaker refused to execute).
	Primary error

	// Fallback is the fallback's error.
	Fallback error
}

func (e *FallbackError) Error() string {
	return fmt.Sprintf("resilience: %s failed and fallback failed: %v (fallback: %v)", e.Operation, e.Primary, e.Fallback)
}

// Unwrap exposes both causes to errors.Is/errors.As.
func (e *FallbackError) Unwrap() []error {
	return []error{e.Primary, e.Fallback}
}
