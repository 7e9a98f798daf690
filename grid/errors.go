package grid

import "errors"

var (
	// ErrInvalidConfig marks a configuration the engine refuses to start
	// with. Never retried.
	ErrInvalidConfig = errors.New("invalid grid config")

	// ErrLevelAlreadyBound is returned by BindOrder when the level already
	// carries a live order. Duplicate-order prevention depends on it.
	ErrLevelAlreadyBound = errors.New("level already bound to a live order")

	// ErrLevelNotFound is returned for an index outside the active generation.
	ErrLevelNotFound = errors.New("level not found in active generation")

	// ErrCapitalExceeded is returned when binding another order would push
	// the total bound notional past the configured capital allocation.
	ErrCapitalExceeded = errors.New("capital allocation exceeded")

	// ErrHalted is returned by operations refused because the risk guard
	// has halted the instance.
	ErrHalted = errors.New("instance halted by risk guard")
)

// IsInvariantViolation reports whether err indicates a ledger invariant
// breach, which is a programming bug and fatal to the instance.
func IsInvariantViolation(err error) bool {
	return errors.Is(err, ErrLevelAlreadyBound)
}
