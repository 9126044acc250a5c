package breaker

import "time"

// State of a single service circuit.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

func (s State) String() string { return string(s) }

type event string

const (
	eventSuccess         event = "success"
	eventFailure         event = "failure"
	eventCooldownElapsed event = "cooldown_elapsed"
)

// guard decides whether a transition applies to the circuit at time now.
type guard func(c *circuit, now time.Time) bool

type transition struct {
	to    State
	guard guard
}

// transitions is indexed [from][event]; the first transition whose guard
// passes wins, so order within a slice matters.
var transitions = map[State]map[event][]transition{
	StateClosed: {
		eventSuccess: {{to: StateClosed}},
		eventFailure: {
			{to: StateOpen, guard: thresholdReached},
			{to: StateClosed},
		},
	},
	StateOpen: {
		eventSuccess:         {{to: StateOpen}},
		eventFailure:         {{to: StateOpen}},
		eventCooldownElapsed: {{to: StateHalfOpen, guard: cooldownElapsed}},
	},
	StateHalfOpen: {
		eventSuccess: {
			{to: StateClosed, guard: recovered},
			{to: StateHalfOpen},
		},
		eventFailure: {{to: StateOpen}},
	},
}

func thresholdReached(c *circuit, _ time.Time) bool {
	return c.failures >= c.threshold
}

func recovered(c *circuit, _ time.Time) bool {
	return c.successes >= c.successThreshold
}

func cooldownElapsed(c *circuit, now time.Time) bool {
	return !now.Before(c.openUntil)
}

// next resolves the target state for ev, or ErrNoTransition.
func next(c *circuit, ev event, now time.Time) (State, error) {
	for _, t := range transitions[c.state][ev] {
		if t.guard == nil || t.guard(c, now) {
			return t.to, nil
		}
	}
	return c.state, ErrNoTransition{From: c.state, Event: string(ev)}
}
