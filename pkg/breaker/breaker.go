package breaker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dmitrymomot/jobgate/pkg/logger"
)

type circuit struct {
	state            State
	failures         int
	threshold        int
	successes        int // consecutive successes while half-open
	successThreshold int
	openUntil        time.Time
}

// Breaker tracks one circuit per service key. Safe for concurrent use.
type Breaker struct {
	cfg      Config
	now      func() time.Time
	logger   *slog.Logger
	onChange func(key string, from, to State)

	mu       sync.Mutex
	circuits map[string]*circuit
}

// Option configures a Breaker.
type Option func(*Breaker)

// WithConfig replaces the default thresholds.
func WithConfig(cfg Config) Option {
	return func(b *Breaker) {
		b.cfg = cfg
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		if now != nil {
			b.now = now
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(b *Breaker) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithStateChangeHook is called after every state change, outside the lock.
func WithStateChangeHook(fn func(key string, from, to State)) Option {
	return func(b *Breaker) {
		b.onChange = fn
	}
}

// New creates a breaker. Invalid configuration is rejected.
func New(opts ...Option) (*Breaker, error) {
	b := &Breaker{
		cfg:      DefaultConfig(),
		now:      time.Now,
		logger:   slog.Default(),
		circuits: make(map[string]*circuit),
	}
	for _, opt := range opts {
		opt(b)
	}
	if err := b.cfg.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// IsOpen reports whether calls to key must be held back. An open circuit whose
// cooldown has elapsed moves to half-open and lets a trial call through.
func (b *Breaker) IsOpen(key string) bool {
	b.mu.Lock()
	c := b.circuit(key)
	from := c.state
	if from == StateOpen {
		if to, err := next(c, eventCooldownElapsed, b.now()); err == nil {
			c.state = to
		}
	}
	open := c.state == StateOpen
	to := c.state
	b.mu.Unlock()

	b.changed(key, from, to)
	return open
}

// RecordSuccess clears the failure count of a closed circuit. A half-open
// circuit closes after SuccessThreshold consecutive successes.
func (b *Breaker) RecordSuccess(key string) {
	b.mu.Lock()
	c := b.circuit(key)
	from := c.state
	switch from {
	case StateClosed:
		c.failures = 0
	case StateHalfOpen:
		c.successes++
	}
	to, _ := next(c, eventSuccess, b.now())
	c.state = to
	if from == StateHalfOpen && to == StateClosed {
		c.failures = 0
		c.successes = 0
		c.openUntil = time.Time{}
	}
	b.mu.Unlock()

	b.changed(key, from, to)
}

// RecordFailure counts a failed call and reports whether the circuit just opened.
func (b *Breaker) RecordFailure(key string) bool {
	now := b.now()

	b.mu.Lock()
	c := b.circuit(key)
	from := c.state
	c.failures++
	to, _ := next(c, eventFailure, now)
	c.state = to
	justOpened := from != StateOpen && to == StateOpen
	if justOpened {
		c.openUntil = now.Add(b.cfg.Cooldown)
		c.successes = 0
	}
	b.mu.Unlock()

	b.changed(key, from, to)
	return justOpened
}

// Remaining returns the cooldown left on an open circuit, or zero.
func (b *Breaker) Remaining(key string) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok || c.state != StateOpen {
		return 0
	}
	return max(c.openUntil.Sub(b.now()), 0)
}

// State returns the current state of key without advancing it.
func (b *Breaker) State(key string) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if c, ok := b.circuits[key]; ok {
		return c.state
	}
	return StateClosed
}

// Reset forgets everything recorded for key.
func (b *Breaker) Reset(key string) {
	b.mu.Lock()
	c, ok := b.circuits[key]
	delete(b.circuits, key)
	b.mu.Unlock()

	if ok {
		b.changed(key, c.state, StateClosed)
	}
}

func (b *Breaker) circuit(key string) *circuit {
	c, ok := b.circuits[key]
	if !ok {
		c = &circuit{
			state:            StateClosed,
			threshold:        b.cfg.FailureThreshold,
			successThreshold: b.cfg.SuccessThreshold,
		}
		b.circuits[key] = c
	}
	return c
}

func (b *Breaker) changed(key string, from, to State) {
	if from == to {
		return
	}

	level := slog.LevelInfo
	if to == StateOpen {
		level = slog.LevelWarn
	}
	b.logger.Log(context.Background(), level, "circuit state changed",
		logger.Component("breaker"),
		logger.ServiceKey(key),
		slog.String("from", from.String()),
		slog.String("to", to.String()))

	if b.onChange != nil {
		b.onChange(key, from, to)
	}
}
