package lifecycle

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition is returned when a lifecycle event is not legal
	// from the current status
	ErrInvalidTransition = errors.New("invalid lifecycle transition")

	// ErrInvalidStatus is the panic value when the event table is configured
	// with a status outside the known lifecycle statuses
	ErrInvalidStatus = errors.New("invalid status")

	// ErrGuardFailed is returned when the event row exists but its guard
	// rejects the transition. It wraps ErrInvalidTransition so callers
	// matching on the broader error still catch it.
	ErrGuardFailed = fmt.Errorf("%w: guard failed", ErrInvalidTransition)
)
