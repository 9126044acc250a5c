package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dmitrymomot/jobgate/pkg/logger"
)

// DefaultCooldown is applied when a rate limit is recorded without a known window.
const DefaultCooldown = 60 * time.Second

// Tracker remembers the provider's current rate-limit window.
// Safe for concurrent use.
type Tracker struct {
	cooldown time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu     sync.RWMutex
	endsAt time.Time
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithDefaultCooldown sets the window used when RecordRateLimit gets no duration.
func WithDefaultCooldown(d time.Duration) TrackerOption {
	return func(t *Tracker) {
		if d > 0 {
			t.cooldown = d
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

func WithLogger(l *slog.Logger) TrackerOption {
	return func(t *Tracker) {
		if l != nil {
			t.logger = l
		}
	}
}

// NewTracker creates a tracker with no active limit.
func NewTracker(opts ...TrackerOption) *Tracker {
	t := &Tracker{
		cooldown: DefaultCooldown,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// IsLimited reports whether a rate-limit window is active.
func (t *Tracker) IsLimited() bool {
	return t.Remaining() > 0
}

// Remaining returns the time left in the active window, or zero.
func (t *Tracker) Remaining() time.Duration {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.endsAt.IsZero() {
		return 0
	}
	return max(t.endsAt.Sub(t.now()), 0)
}

// EndsAt returns the end of the active window, or the zero time.
func (t *Tracker) EndsAt() time.Time {
	if !t.IsLimited() {
		return time.Time{}
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.endsAt
}

// RecordRateLimit opens (or extends) the window by retryAfter, falling back to
// the default cooldown for non-positive values. A shorter window never
// truncates a longer one already in effect.
func (t *Tracker) RecordRateLimit(retryAfter time.Duration) {
	if retryAfter <= 0 {
		retryAfter = t.cooldown
	}

	t.mu.Lock()
	end := t.now().Add(retryAfter)
	if end.After(t.endsAt) {
		t.endsAt = end
	}
	end = t.endsAt
	t.mu.Unlock()

	t.logger.WarnContext(context.Background(), "provider rate limit recorded",
		logger.Component("ratelimit"),
		logger.Duration(retryAfter),
		logger.Until(end))
}

// Reset clears the window.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.endsAt = time.Time{}
}
