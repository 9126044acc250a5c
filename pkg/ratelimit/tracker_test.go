package ratelimit_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/jobgate/pkg/ratelimit"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestTracker(t *testing.T) {
	t.Parallel()

	t.Run("starts unlimited", func(t *testing.T) {
		t.Parallel()
		tr := ratelimit.NewTracker()
		assert.False(t, tr.IsLimited())
		assert.Zero(t, tr.Remaining())
		assert.True(t, tr.EndsAt().IsZero())
	})

	t.Run("window expires", func(t *testing.T) {
		t.Parallel()
		c := &clock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
		tr := ratelimit.NewTracker(ratelimit.WithClock(c.Now))

		tr.RecordRateLimit(5 * time.Second)
		assert.True(t, tr.IsLimited())
		assert.Equal(t, 5*time.Second, tr.Remaining())
		assert.Equal(t, c.now.Add(5*time.Second), tr.EndsAt())

		c.Advance(5 * time.Second)
		assert.False(t, tr.IsLimited())
		assert.Zero(t, tr.Remaining())
	})

	t.Run("default cooldown", func(t *testing.T) {
		t.Parallel()
		c := &clock{now: time.Now()}
		tr := ratelimit.NewTracker(ratelimit.WithClock(c.Now), ratelimit.WithDefaultCooldown(10*time.Second))

		tr.RecordRateLimit(0)
		assert.Equal(t, 10*time.Second, tr.Remaining())
	})

	t.Run("shorter window does not truncate", func(t *testing.T) {
		t.Parallel()
		c := &clock{now: time.Now()}
		tr := ratelimit.NewTracker(ratelimit.WithClock(c.Now))

		tr.RecordRateLimit(time.Minute)
		tr.RecordRateLimit(time.Second)
		assert.Equal(t, time.Minute, tr.Remaining())
	})

	t.Run("reset", func(t *testing.T) {
		t.Parallel()
		tr := ratelimit.NewTracker()
		tr.RecordRateLimit(time.Hour)
		tr.Reset()
		assert.False(t, tr.IsLimited())
	})
}
