package jobqueue_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobgate/pkg/broadcast"
	"github.com/dmitrymomot/jobgate/pkg/jobqueue"
	"github.com/dmitrymomot/jobgate/pkg/kvstore"
	"github.com/dmitrymomot/jobgate/pkg/logger"
)

var errBackendDown = errors.New("backend down")

func discardLogger() *slog.Logger {
	return logger.New(logger.WithOutput(io.Discard))
}

// testConfig keeps every delay short enough for tests to run on wall time.
func testConfig() jobqueue.Config {
	cfg := jobqueue.DefaultConfig()
	cfg.BaseDelay = time.Millisecond
	cfg.MaxDelay = 10 * time.Millisecond
	cfg.WakeBuffer = time.Millisecond
	cfg.OfflineRetry = 20 * time.Millisecond
	cfg.CircuitCooldown = 20 * time.Millisecond
	cfg.RateLimitCooldown = 20 * time.Millisecond
	cfg.HandlerTimeout = 5 * time.Second
	return cfg
}

// flakyKV is a memory store whose reads and writes can be made to fail.
type flakyKV struct {
	*kvstore.Memory
	failGet atomic.Bool
	failSet atomic.Bool
	sets    atomic.Int64
}

func newFlakyKV() *flakyKV {
	return &flakyKV{Memory: kvstore.NewMemory()}
}

func (f *flakyKV) Get(ctx context.Context, key string) ([]byte, error) {
	if f.failGet.Load() {
		return nil, errBackendDown
	}
	return f.Memory.Get(ctx, key)
}

func (f *flakyKV) Set(ctx context.Context, key string, value []byte) error {
	f.sets.Add(1)
	if f.failSet.Load() {
		return errBackendDown
	}
	return f.Memory.Set(ctx, key, value)
}

// MockCircuitBreaker is a mock implementation of jobqueue.CircuitBreaker.
type MockCircuitBreaker struct {
	mock.Mock
}

func (m *MockCircuitBreaker) IsOpen(key string) bool {
	return m.Called(key).Bool(0)
}

func (m *MockCircuitBreaker) RecordSuccess(key string) {
	m.Called(key)
}

func (m *MockCircuitBreaker) RecordFailure(key string) bool {
	return m.Called(key).Bool(0)
}

// fakeOracle is a switchable rate-limit oracle that also records reports.
type fakeOracle struct {
	mu        sync.Mutex
	limited   bool
	remaining time.Duration
	recorded  []time.Duration
}

func (o *fakeOracle) set(limited bool, remaining time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.limited = limited
	o.remaining = remaining
}

func (o *fakeOracle) IsLimited() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.limited
}

func (o *fakeOracle) Remaining() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.limited {
		return 0
	}
	return o.remaining
}

func (o *fakeOracle) RecordRateLimit(d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.recorded = append(o.recorded, d)
}

func (o *fakeOracle) reports() []time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]time.Duration(nil), o.recorded...)
}

// fakeProbe is a switchable connectivity probe with a restored signal.
type fakeProbe struct {
	online   atomic.Bool
	restored chan struct{}
}

func newFakeProbe(online bool) *fakeProbe {
	p := &fakeProbe{restored: make(chan struct{}, 1)}
	p.online.Store(online)
	return p
}

func (p *fakeProbe) IsOnline(context.Context) bool { return p.online.Load() }

func (p *fakeProbe) Restored(context.Context) <-chan struct{} { return p.restored }

func (p *fakeProbe) restore() {
	p.online.Store(true)
	select {
	case p.restored <- struct{}{}:
	default:
	}
}

// startQueue builds and starts a queue, stopping it when the test ends.
func startQueue(t *testing.T, kv jobqueue.KeyValueStore, opts ...jobqueue.Option) *jobqueue.Queue {
	t.Helper()

	q := newQueue(t, kv, opts...)
	require.NoError(t, q.Start(context.Background()))
	t.Cleanup(func() { _ = q.Stop() })
	return q
}

func newQueue(t *testing.T, kv jobqueue.KeyValueStore, opts ...jobqueue.Option) *jobqueue.Queue {
	t.Helper()

	base := []jobqueue.Option{
		jobqueue.WithConfig(testConfig()),
		jobqueue.WithLogger(discardLogger()),
	}
	q, err := jobqueue.New(kv, append(base, opts...)...)
	require.NoError(t, err)
	return q
}

func echoRegistry(t *testing.T, jobTypes ...jobqueue.JobType) *jobqueue.Registry {
	t.Helper()

	reg := jobqueue.NewRegistry()
	for _, jt := range jobTypes {
		require.NoError(t, reg.Register(jt, func(_ context.Context, exec *jobqueue.ExecContext) (any, error) {
			return string(exec.Job.Type), nil
		}))
	}
	return reg
}

func nextCompletion(t *testing.T, sub broadcast.Subscriber[jobqueue.Completion]) jobqueue.Completion {
	t.Helper()

	select {
	case msg, ok := <-sub.Receive(context.Background()):
		require.True(t, ok, "completion stream closed")
		return msg.Data
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a completion")
	}
	return jobqueue.Completion{}
}
