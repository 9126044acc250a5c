package jobqueue

import (
	"context"
	"time"
)

// KeyValueStore persists the queue snapshot. Get returns nil, nil for a
// missing key. Every kvstore backend satisfies it.
type KeyValueStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

// CircuitBreaker guards the remote service, keyed by service name.
type CircuitBreaker interface {
	IsOpen(serviceKey string) bool
	RecordSuccess(serviceKey string)
	// RecordFailure reports whether this failure just opened the circuit.
	RecordFailure(serviceKey string) bool
}

// CooldownReporter is optionally implemented by a CircuitBreaker that knows
// how long an open circuit stays open.
type CooldownReporter interface {
	Remaining(serviceKey string) time.Duration
}

// ConnectivityProbe reports whether the remote service is reachable.
type ConnectivityProbe interface {
	IsOnline(ctx context.Context) bool
}

// RestoreNotifier is optionally implemented by a ConnectivityProbe that can
// announce recoveries. Each receive wakes the dispatcher.
type RestoreNotifier interface {
	Restored(ctx context.Context) <-chan struct{}
}

// RateLimitOracle reports the provider-wide rate-limit window.
type RateLimitOracle interface {
	IsLimited() bool
	Remaining() time.Duration
}

// RateLimitRecorder is optionally implemented by a RateLimitOracle that wants
// to hear about rate-limit errors returned by handlers.
type RateLimitRecorder interface {
	RecordRateLimit(retryAfter time.Duration)
}

// ResourceGate charges job admissions against a quota. Refund returns a
// charge for an admission that did not go through.
type ResourceGate interface {
	TryConsume(ctx context.Context, jobType string) (int64, error)
	Refund(ctx context.Context, jobType string, amount int64) error
	Grant(tokens int)
	HasBypass() bool
}

type closedBreaker struct{}

func (closedBreaker) IsOpen(string) bool        { return false }
func (closedBreaker) RecordSuccess(string)      {}
func (closedBreaker) RecordFailure(string) bool { return false }

type alwaysOnline struct{}

func (alwaysOnline) IsOnline(context.Context) bool { return true }

type neverLimited struct{}

func (neverLimited) IsLimited() bool          { return false }
func (neverLimited) Remaining() time.Duration { return 0 }

type freeGate struct{}

func (freeGate) TryConsume(context.Context, string) (int64, error) { return 0, nil }
func (freeGate) Refund(context.Context, string, int64) error       { return nil }
func (freeGate) Grant(int)                                         {}
func (freeGate) HasBypass() bool                                   { return false }
