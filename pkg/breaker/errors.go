package breaker

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidThreshold        = errors.New("breaker: failure threshold must be positive")
	ErrInvalidCooldown         = errors.New("breaker: cooldown must be positive")
	ErrInvalidSuccessThreshold = errors.New("breaker: success threshold must be positive")
)

// ErrNoTransition is returned by the internal transition table when an event
// has no valid target from the current state.
type ErrNoTransition struct {
	From  State
	Event string
}

func (e ErrNoTransition) Error() string {
	return fmt.Sprintf("breaker: no transition from %s on %s", e.From, e.Event)
}
