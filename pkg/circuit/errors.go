package circuit

import "errors"

var (
	// ErrCircuitOpen is returned when a call is rejected because the
	// breaker is open or a half-open trial is already in flight.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrTimeout is returned when the wrapped operation exceeds the
	// configured timeout. Timeouts count as failures.
	ErrTimeout = errors.New("circuit breaker operation timed out")
)
