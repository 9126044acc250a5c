package logger_test

import (
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobgate/pkg/logger"
)

func TestGroup(t *testing.T) {
	attr := logger.Group("job", slog.String("id", "1"), slog.Int("n", 2))
	require.Equal(t, "job", attr.Key)
	require.Equal(t, slog.KindGroup, attr.Value.Kind())
	g := attr.Value.Group()
	require.Len(t, g, 2)
	assert.Equal(t, "id", g[0].Key)
	assert.Equal(t, "n", g[1].Key)
}

func TestErrors(t *testing.T) {
	err1 := errors.New("first")
	err2 := errors.New("second")

	attr := logger.Errors(err1, nil, err2)
	require.Equal(t, "errors", attr.Key)
	require.Equal(t, slog.KindGroup, attr.Value.Kind())
	g := attr.Value.Group()
	require.Len(t, g, 2)
	assert.Equal(t, err1, g[0].Value.Any())
	assert.Equal(t, err2, g[1].Value.Any())

	empty := logger.Errors(nil)
	assert.True(t, empty.Equal(slog.Attr{}))
}

func TestError(t *testing.T) {
	err := errors.New("boom")
	attr := logger.Error(err)
	require.Equal(t, "error", attr.Key)
	assert.Equal(t, err, attr.Value.Any())

	empty := logger.Error(nil)
	assert.True(t, empty.Equal(slog.Attr{}))
}

func TestJobAttrs(t *testing.T) {
	t.Run("job id", func(t *testing.T) {
		attr := logger.JobID("abc")
		assert.Equal(t, "job_id", attr.Key)
		assert.Equal(t, "abc", attr.Value.String())
		assert.True(t, logger.JobID("").Equal(slog.Attr{}))
	})

	t.Run("job type", func(t *testing.T) {
		attr := logger.JobType("summarize")
		assert.Equal(t, "job_type", attr.Key)
		assert.Equal(t, "summarize", attr.Value.String())
		assert.True(t, logger.JobType("").Equal(slog.Attr{}))
	})

	t.Run("retry count", func(t *testing.T) {
		attr := logger.RetryCount(3)
		assert.Equal(t, "retry_count", attr.Key)
		assert.Equal(t, int64(3), attr.Value.Int64())
	})

	t.Run("until", func(t *testing.T) {
		ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		attr := logger.Until(ts)
		assert.Equal(t, "until", attr.Key)
		assert.Equal(t, ts, attr.Value.Time())
		assert.True(t, logger.Until(time.Time{}).Equal(slog.Attr{}))
	})
}
