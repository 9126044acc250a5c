package jobqueue

import (
	"log/slog"
	"time"

	"github.com/dmitrymomot/jobgate/pkg/blob"
)

// Option configures a Queue.
type Option func(*options)

type options struct {
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
	breaker  CircuitBreaker
	probe    ConnectivityProbe
	oracle   RateLimitOracle
	gate     ResourceGate
	registry *Registry
	blobs    blob.Storage
	detector RateLimitDetector
}

// WithConfig replaces the default configuration.
func WithConfig(cfg Config) Option {
	return func(o *options) {
		o.cfg = cfg
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock overrides time.Now. Timers still run on wall time.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func WithCircuitBreaker(b CircuitBreaker) Option {
	return func(o *options) {
		if b != nil {
			o.breaker = b
		}
	}
}

func WithConnectivity(p ConnectivityProbe) Option {
	return func(o *options) {
		if p != nil {
			o.probe = p
		}
	}
}

func WithRateLimitOracle(r RateLimitOracle) Option {
	return func(o *options) {
		if r != nil {
			o.oracle = r
		}
	}
}

// WithResourceGate charges admissions. Without it every job is free.
func WithResourceGate(g ResourceGate) Option {
	return func(o *options) {
		if g != nil {
			o.gate = g
		}
	}
}

func WithHandlers(r *Registry) Option {
	return func(o *options) {
		if r != nil {
			o.registry = r
		}
	}
}

// WithBlobStorage enables payload externalization.
func WithBlobStorage(b blob.Storage) Option {
	return func(o *options) {
		o.blobs = b
	}
}

// WithRateLimitDetector replaces ratelimit.IsRateLimitError for raw errors.
func WithRateLimitDetector(d RateLimitDetector) Option {
	return func(o *options) {
		if d != nil {
			o.detector = d
		}
	}
}
