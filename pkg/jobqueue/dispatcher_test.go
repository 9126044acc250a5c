package jobqueue_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobgate/pkg/blob"
	"github.com/dmitrymomot/jobgate/pkg/breaker"
	"github.com/dmitrymomot/jobgate/pkg/jobqueue"
	"github.com/dmitrymomot/jobgate/pkg/kvstore"
	"github.com/dmitrymomot/jobgate/pkg/logger"
)

// recorder collects the order in which jobs were handled.
type recorder struct {
	mu    sync.Mutex
	order []string
	times []time.Time
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = append(r.order, s)
	r.times = append(r.times, time.Now())
}

func (r *recorder) snapshot() ([]string, []time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.order...), append([]time.Time(nil), r.times...)
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

// Scenario A: a critical job submitted first and a low job submitted second
// run in priority order, and creation times follow submission order.
func TestDispatch_PriorityOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	rec := &recorder{}
	reg := jobqueue.NewRegistry()
	for _, jt := range []jobqueue.JobType{"X", "Y"} {
		reg.MustRegister(jt, func(_ context.Context, exec *jobqueue.ExecContext) (any, error) {
			rec.add(string(exec.Job.Type))
			return nil, nil
		})
	}

	q := newQueue(t, kvstore.NewMemory(), jobqueue.WithHandlers(reg))

	xID, err := q.Submit(ctx, "X", nil, jobqueue.PriorityCritical)
	require.NoError(t, err)
	yID, err := q.Submit(ctx, "Y", nil, jobqueue.PriorityLow)
	require.NoError(t, err)

	x, _ := q.Job(xID)
	y, _ := q.Job(yID)
	assert.True(t, y.CreatedAt.After(x.CreatedAt))

	require.NoError(t, q.Start(ctx))
	t.Cleanup(func() { _ = q.Stop() })

	require.Eventually(t, func() bool { return rec.len() == 2 }, 2*time.Second, 5*time.Millisecond)
	order, _ := rec.snapshot()
	assert.Equal(t, []string{"X", "Y"}, order)
}

// P2: queued jobs run by tier, then by creation time.
func TestDispatch_TierThenFIFO(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	rec := &recorder{}
	reg := jobqueue.NewRegistry()
	reg.MustRegister("t", jobqueue.NewHandler(func(_ context.Context, p struct{ Name string }, _ *jobqueue.ExecContext) (any, error) {
		rec.add(p.Name)
		return nil, nil
	}))

	q := newQueue(t, kvstore.NewMemory(), jobqueue.WithHandlers(reg))
	submissions := []struct {
		name     string
		priority jobqueue.Priority
	}{
		{"low-1", jobqueue.PriorityLow},
		{"normal-1", jobqueue.PriorityNormal},
		{"high-1", jobqueue.PriorityHigh},
		{"low-2", jobqueue.PriorityLow},
		{"critical-1", jobqueue.PriorityCritical},
		{"normal-2", jobqueue.PriorityNormal},
		{"high-2", jobqueue.PriorityHigh},
	}
	for _, s := range submissions {
		_, err := q.Submit(ctx, "t", jobqueue.Payload{"Name": s.name}, s.priority)
		require.NoError(t, err)
	}

	require.NoError(t, q.Start(ctx))
	t.Cleanup(func() { _ = q.Stop() })

	require.Eventually(t, func() bool { return rec.len() == len(submissions) }, 2*time.Second, 5*time.Millisecond)
	order, _ := rec.snapshot()
	assert.Equal(t, []string{"critical-1", "high-1", "high-2", "normal-1", "normal-2", "low-1", "low-2"}, order)
}

// P1: never more than one job is processing.
func TestDispatch_SingleFlight(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	var (
		q        *jobqueue.Queue
		inFlight atomic.Int32
		maxSeen  atomic.Int32
		done     atomic.Int32
	)

	reg := jobqueue.NewRegistry()
	reg.MustRegister("work", func(context.Context, *jobqueue.ExecContext) (any, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		if n > maxSeen.Load() {
			maxSeen.Store(n)
		}

		processing := 0
		for _, j := range q.Jobs() {
			if j.Status == jobqueue.StatusProcessing {
				processing++
			}
		}
		assert.Equal(t, 1, processing)
		assert.True(t, q.Status().IsProcessing)
		assert.Equal(t, jobqueue.JobType("work"), q.Status().CurrentJobType)

		time.Sleep(time.Millisecond)
		done.Add(1)
		return nil, nil
	})

	q = startQueue(t, kvstore.NewMemory(), jobqueue.WithHandlers(reg))

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p := []jobqueue.Priority{jobqueue.PriorityLow, jobqueue.PriorityHigh}[i%2]
			_, err := q.Submit(ctx, "work", nil, p)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Eventually(t, func() bool { return done.Load() == 20 }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), maxSeen.Load())
	assert.Eventually(t, func() bool {
		s := q.Status()
		return !s.IsProcessing && s.PendingCount == 0
	}, time.Second, 5*time.Millisecond)
}

// P3: a job left processing by a crash is recovered as pending and run.
func TestDispatch_CrashRecovery(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	kv := kvstore.NewMemory()

	store, err := jobqueue.NewStore(kv, testConfig().StoreKey)
	require.NoError(t, err)
	require.NoError(t, store.Persist(ctx, []*jobqueue.Job{
		{ID: "interrupted", Type: "echo", Priority: jobqueue.PriorityNormal, Status: jobqueue.StatusProcessing, CreatedAt: time.Now().Add(-time.Minute)},
		{ID: "waiting", Type: "echo", Priority: jobqueue.PriorityLow, Status: jobqueue.StatusPending, CreatedAt: time.Now().Add(-time.Second)},
	}))

	q := newQueue(t, kv, jobqueue.WithHandlers(echoRegistry(t, "echo")))
	completions := q.Completions(t.Context())
	require.NoError(t, q.Start(ctx))
	t.Cleanup(func() { _ = q.Stop() })

	assert.Equal(t, "interrupted", nextCompletion(t, completions).JobID)
	assert.Equal(t, "waiting", nextCompletion(t, completions).JobID)

	assert.Eventually(t, func() bool {
		reloaded, err := store.Load(ctx)
		return err == nil && len(reloaded) == 0
	}, time.Second, 5*time.Millisecond, "completed jobs leave the store")
}

func TestDispatch_RestartWithExternalizedPayload(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	kv := kvstore.NewMemory()
	blobs, err := blob.NewLocal(t.TempDir())
	require.NoError(t, err)

	audio := []byte("pcm-bytes-that-should-not-live-in-the-kv-store")
	reg := jobqueue.NewRegistry()
	reg.MustRegister("transcribe", func(ctx context.Context, exec *jobqueue.ExecContext) (any, error) {
		data, err := exec.Resolve(ctx, "audio")
		if err != nil {
			return nil, err
		}
		return string(data), nil
	}, jobqueue.WithBinaryField("audio", "audioPath"))

	before := newQueue(t, kv, jobqueue.WithHandlers(reg), jobqueue.WithBlobStorage(blobs))
	id, err := before.Submit(ctx, "transcribe", jobqueue.Payload{"audio": audio}, jobqueue.PriorityNormal)
	require.NoError(t, err)

	exists, err := blobs.Exists(ctx, "jobs/"+id+"/audio")
	require.NoError(t, err)
	require.True(t, exists)

	after := newQueue(t, kv, jobqueue.WithHandlers(reg), jobqueue.WithBlobStorage(blobs))
	completions := after.Completions(t.Context())
	require.NoError(t, after.Start(ctx))
	t.Cleanup(func() { _ = after.Stop() })

	c := nextCompletion(t, completions)
	require.NoError(t, c.Err)
	assert.Equal(t, string(audio), c.Result)

	assert.Eventually(t, func() bool {
		ok, err := blobs.Exists(ctx, "jobs/"+id+"/audio")
		return err == nil && !ok
	}, time.Second, 5*time.Millisecond)
}

func TestDispatch_RestartWithInlineBytes(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	kv := kvstore.NewMemory()
	reg := jobqueue.NewRegistry()
	reg.MustRegister("describe", func(ctx context.Context, exec *jobqueue.ExecContext) (any, error) {
		return exec.Resolve(ctx, "thumb")
	})

	thumb := []byte{0x89, 'P', 'N', 'G'}
	before := newQueue(t, kv, jobqueue.WithHandlers(reg))
	_, err := before.Submit(ctx, "describe", jobqueue.Payload{"thumb": thumb}, jobqueue.PriorityNormal)
	require.NoError(t, err)

	after := newQueue(t, kv, jobqueue.WithHandlers(reg))
	completions := after.Completions(t.Context())
	require.NoError(t, after.Start(ctx))
	t.Cleanup(func() { _ = after.Stop() })

	c := nextCompletion(t, completions)
	require.NoError(t, c.Err)
	assert.Equal(t, thumb, c.Result)
}

// gatedBlobs holds the first Put of a key ending in suffix until release is closed.
type gatedBlobs struct {
	blob.Storage
	suffix  string
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedBlobs) Put(ctx context.Context, key string, data []byte) error {
	if strings.HasSuffix(key, g.suffix) {
		g.once.Do(func() {
			close(g.entered)
			<-g.release
		})
	}
	return g.Storage.Put(ctx, key, data)
}

func TestDispatch_CompletedBlobsStayDeleted(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	local, err := blob.NewLocal(t.TempDir())
	require.NoError(t, err)
	blobs := &gatedBlobs{Storage: local, suffix: "/frame", entered: make(chan struct{}), release: make(chan struct{})}

	running := make(chan struct{})
	finish := make(chan struct{})
	reg := jobqueue.NewRegistry()
	reg.MustRegister("transcribe", func(context.Context, *jobqueue.ExecContext) (any, error) {
		close(running)
		<-finish
		return "done", nil
	}, jobqueue.WithBinaryField("audio", ""))
	reg.MustRegister("snapshot", func(context.Context, *jobqueue.ExecContext) (any, error) {
		return "done", nil
	}, jobqueue.WithBinaryField("frame", ""))

	q := startQueue(t, kvstore.NewMemory(), jobqueue.WithHandlers(reg), jobqueue.WithBlobStorage(blobs))
	completions := q.Completions(t.Context())

	first, err := q.Submit(ctx, "transcribe", jobqueue.Payload{"audio": []byte("pcm")}, jobqueue.PriorityLow)
	require.NoError(t, err)
	<-running

	// This snapshot still lists the running job and stalls mid-write.
	go func() {
		_, _ = q.Submit(ctx, "snapshot", jobqueue.Payload{"frame": []byte("jpeg")}, jobqueue.PriorityCritical)
	}()
	<-blobs.entered

	close(finish)
	time.Sleep(20 * time.Millisecond)
	close(blobs.release)

	assert.Equal(t, first, nextCompletion(t, completions).JobID)
	assert.Equal(t, jobqueue.JobType("snapshot"), nextCompletion(t, completions).JobType)

	exists, err := local.Exists(ctx, "jobs/"+first+"/audio")
	require.NoError(t, err)
	assert.False(t, exists, "a stale snapshot must not re-upload a completed job's payload")
}

func TestDispatch_StrippedPayloadWithoutCopyFails(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	kv := kvstore.NewMemory()
	reg := jobqueue.NewRegistry()
	reg.MustRegister("transcribe", func(ctx context.Context, exec *jobqueue.ExecContext) (any, error) {
		_, err := exec.Resolve(ctx, "audio")
		return nil, err
	}, jobqueue.WithBinaryField("audio", ""))

	before := newQueue(t, kv, jobqueue.WithHandlers(reg))
	id, err := before.Submit(ctx, "transcribe", jobqueue.Payload{"audio": []byte{1, 2}}, jobqueue.PriorityNormal)
	require.NoError(t, err)

	after := startQueue(t, kv, jobqueue.WithHandlers(reg))
	require.Eventually(t, func() bool {
		j, ok := after.Job(id)
		return ok && j.Status == jobqueue.StatusFailed
	}, 2*time.Second, 5*time.Millisecond)

	j, _ := after.Job(id)
	assert.Zero(t, j.RetryCount, "unrecoverable payloads are not retried")
}

// P4: rate-limit failures never consume retries, however many there are.
func TestDispatch_RateLimitNeutral(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.MaxRetries = 2

	var attempts []int
	var mu sync.Mutex
	reg := jobqueue.NewRegistry()
	reg.MustRegister("gen", func(_ context.Context, exec *jobqueue.ExecContext) (any, error) {
		mu.Lock()
		attempts = append(attempts, exec.Attempt)
		n := len(attempts)
		mu.Unlock()
		if n <= 4 {
			return nil, &jobqueue.RateLimitError{RetryAfter: 5 * time.Millisecond}
		}
		return "done", nil
	})

	oracle := &fakeOracle{}
	q := startQueue(t, kvstore.NewMemory(),
		jobqueue.WithConfig(cfg),
		jobqueue.WithHandlers(reg),
		jobqueue.WithRateLimitOracle(oracle))

	res, err := jobqueue.SubmitAndWait[string](context.Background(), q, "gen", nil, jobqueue.PriorityNormal)
	require.NoError(t, err, "rate limits never reject the waiter")
	assert.Equal(t, "done", res)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 1, 1, 1, 1}, attempts)
	assert.Equal(t, []time.Duration{5 * time.Millisecond, 5 * time.Millisecond, 5 * time.Millisecond, 5 * time.Millisecond}, oracle.reports())
}

func TestDispatch_RawRateLimitErrorUsesCooldown(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	reg := jobqueue.NewRegistry()
	reg.MustRegister("gen", func(context.Context, *jobqueue.ExecContext) (any, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("HTTP 429 Too Many Requests")
		}
		return "ok", nil
	})

	q := startQueue(t, kvstore.NewMemory(), jobqueue.WithHandlers(reg))

	id, err := q.Submit(context.Background(), "gen", nil, jobqueue.PriorityNormal)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return calls.Load() >= 1 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		j, ok := q.Job(id)
		return !ok || (j.Status == jobqueue.StatusPending && j.NextRetryAt != nil)
	}, time.Second, time.Millisecond)

	require.Eventually(t, func() bool { _, ok := q.Job(id); return !ok }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(2), calls.Load())
}

// P5: a job that always fails transiently fails after exactly MaxRetries
// attempts, with growing gaps.
func TestDispatch_BoundedRetries(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.MaxRetries = 4
	cfg.BaseDelay = 2 * time.Millisecond
	cfg.MaxDelay = 8 * time.Millisecond

	rec := &recorder{}
	errUpstream := errors.New("upstream reset")
	reg := jobqueue.NewRegistry()
	reg.MustRegister("gen", func(context.Context, *jobqueue.ExecContext) (any, error) {
		rec.add("attempt")
		return nil, errUpstream
	})

	q := startQueue(t, kvstore.NewMemory(), jobqueue.WithConfig(cfg), jobqueue.WithHandlers(reg))

	f, err := q.SubmitAndAwait(context.Background(), "gen", nil, jobqueue.PriorityNormal)
	require.NoError(t, err)

	_, err = f.AwaitWithTimeout(5 * time.Second)
	require.Error(t, err)
	assert.ErrorIs(t, err, errUpstream)

	var failed *jobqueue.JobFailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, 4, failed.RetryCount)
	assert.Equal(t, jobqueue.JobType("gen"), failed.JobType)

	_, times := rec.snapshot()
	require.Len(t, times, 4)
	for i := 1; i < len(times); i++ {
		assert.GreaterOrEqual(t, times[i].Sub(times[i-1]), jobqueue.Backoff(i, cfg.BaseDelay, cfg.MaxDelay))
	}

	job, ok := q.Job(failed.JobID)
	require.True(t, ok)
	assert.Equal(t, jobqueue.StatusFailed, job.Status)
	assert.Equal(t, 4, job.RetryCount)
	assert.Nil(t, job.NextRetryAt)
}

func TestDispatch_TransientRetryKeepsWaiter(t *testing.T) {
	t.Parallel()

	cb := new(MockCircuitBreaker)
	cb.On("IsOpen", "inference").Return(false)
	cb.On("RecordFailure", "inference").Return(false)
	cb.On("RecordSuccess", "inference").Return()

	var calls atomic.Int32
	reg := jobqueue.NewRegistry()
	reg.MustRegister("gen", func(context.Context, *jobqueue.ExecContext) (any, error) {
		if calls.Add(1) == 1 {
			return nil, &jobqueue.TransientServiceError{Err: errors.New("503")}
		}
		return 42, nil
	})

	q := startQueue(t, kvstore.NewMemory(), jobqueue.WithHandlers(reg), jobqueue.WithCircuitBreaker(cb))

	res, err := jobqueue.SubmitAndWait[int](context.Background(), q, "gen", nil, jobqueue.PriorityHigh)
	require.NoError(t, err)
	assert.Equal(t, 42, res)

	require.NoError(t, q.Stop())
	cb.AssertNumberOfCalls(t, "RecordFailure", 1)
	cb.AssertNumberOfCalls(t, "RecordSuccess", 1)
}

// Scenario D: an unrecoverable payload fails on the first attempt, rejects the
// waiter and never penalises the breaker.
func TestDispatch_UnrecoverablePayload(t *testing.T) {
	t.Parallel()

	cb := new(MockCircuitBreaker)
	cb.On("IsOpen", "inference").Return(false)

	var calls atomic.Int32
	reg := jobqueue.NewRegistry()
	reg.MustRegister("gen", func(context.Context, *jobqueue.ExecContext) (any, error) {
		calls.Add(1)
		return nil, &jobqueue.UnrecoverablePayloadError{Field: "file", Err: errors.New("no such file")}
	})

	q := startQueue(t, kvstore.NewMemory(), jobqueue.WithHandlers(reg), jobqueue.WithCircuitBreaker(cb))

	f, err := q.SubmitAndAwait(context.Background(), "gen", nil, jobqueue.PriorityNormal)
	require.NoError(t, err)

	_, err = f.AwaitWithTimeout(2 * time.Second)
	require.ErrorIs(t, err, jobqueue.ErrUnrecoverablePayload)

	var failed *jobqueue.JobFailedError
	require.ErrorAs(t, err, &failed)
	assert.Zero(t, failed.RetryCount)

	job, ok := q.Job(failed.JobID)
	require.True(t, ok)
	assert.Equal(t, jobqueue.StatusFailed, job.Status)
	assert.Equal(t, int32(1), calls.Load())

	require.NoError(t, q.Stop())
	cb.AssertNotCalled(t, "RecordFailure", mock.Anything)
	cb.AssertNotCalled(t, "RecordSuccess", mock.Anything)
}

func TestDispatch_MissingHandler(t *testing.T) {
	t.Parallel()

	q := startQueue(t, kvstore.NewMemory())

	_, err := jobqueue.SubmitAndWait[any](context.Background(), q, "nobody", nil, jobqueue.PriorityNormal)
	assert.ErrorIs(t, err, jobqueue.ErrHandlerNotFound)
}

func TestDispatch_HandlerPanic(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.MaxRetries = 2

	var calls atomic.Int32
	reg := jobqueue.NewRegistry()
	reg.MustRegister("boom", func(context.Context, *jobqueue.ExecContext) (any, error) {
		calls.Add(1)
		panic("nil map write")
	})

	q := startQueue(t, kvstore.NewMemory(), jobqueue.WithConfig(cfg), jobqueue.WithHandlers(reg))

	_, err := jobqueue.SubmitAndWait[any](context.Background(), q, "boom", nil, jobqueue.PriorityNormal)
	assert.ErrorIs(t, err, jobqueue.ErrHandlerPanic)
	assert.Equal(t, int32(2), calls.Load(), "panics are retried as transient failures")
}

func TestDispatch_AutoApply(t *testing.T) {
	t.Parallel()

	applied := make(chan any, 1)
	reg := jobqueue.NewRegistry()
	reg.MustRegister("gen", func(context.Context, *jobqueue.ExecContext) (any, error) {
		return "generated", nil
	}, jobqueue.WithAutoApply(func(_ context.Context, job *jobqueue.Job, result any) error {
		assert.Equal(t, jobqueue.StatusCompleted, job.Status)
		applied <- result
		return nil
	}))

	q := startQueue(t, kvstore.NewMemory(), jobqueue.WithHandlers(reg))

	_, err := q.Submit(context.Background(), "gen", nil, jobqueue.PriorityNormal)
	require.NoError(t, err)

	select {
	case res := <-applied:
		assert.Equal(t, "generated", res)
	case <-time.After(2 * time.Second):
		t.Fatal("auto-apply did not run")
	}

	// Awaited jobs deliver to the caller instead.
	res, err := jobqueue.SubmitAndWait[string](context.Background(), q, "gen", nil, jobqueue.PriorityNormal)
	require.NoError(t, err)
	assert.Equal(t, "generated", res)
	select {
	case <-applied:
		t.Fatal("auto-apply ran for an awaited job")
	case <-time.After(20 * time.Millisecond):
	}
}

// Scenario B: while the oracle reports a limit, a new job stays pending with
// nextRetryAt at the end of the window and runs once the limit lifts.
func TestDispatch_RateLimitOracle(t *testing.T) {
	t.Parallel()

	oracle := &fakeOracle{}
	oracle.set(true, 5*time.Second)

	var calls atomic.Int32
	reg := jobqueue.NewRegistry()
	reg.MustRegister("gen", func(context.Context, *jobqueue.ExecContext) (any, error) {
		calls.Add(1)
		return "ok", nil
	})

	q := startQueue(t, kvstore.NewMemory(), jobqueue.WithHandlers(reg), jobqueue.WithRateLimitOracle(oracle))

	submitted := time.Now()
	f, err := q.SubmitAndAwait(context.Background(), "gen", nil, jobqueue.PriorityNormal)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		jobs := q.Jobs()
		return len(jobs) == 1 && jobs[0].NextRetryAt != nil
	}, time.Second, 5*time.Millisecond)

	job := q.Jobs()[0]
	assert.Equal(t, jobqueue.StatusPending, job.Status)
	assert.WithinDuration(t, submitted.Add(5*time.Second), *job.NextRetryAt, time.Second)

	status := q.Status()
	assert.True(t, status.IsRateLimited)
	require.NotNil(t, status.RateLimitEndsAt)
	assert.WithinDuration(t, submitted.Add(5*time.Second), *status.RateLimitEndsAt, time.Second)
	assert.Zero(t, calls.Load())

	oracle.set(false, 0)
	q.Wake()

	res, err := f.AwaitWithTimeout(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "ok", res)
	assert.Equal(t, int32(1), calls.Load())
	assert.False(t, q.Status().IsRateLimited)
}

func TestDispatch_CircuitOpen(t *testing.T) {
	t.Parallel()

	cb, err := breaker.New(
		breaker.WithConfig(breaker.Config{FailureThreshold: 1, SuccessThreshold: 1, Cooldown: 50 * time.Millisecond}),
		breaker.WithLogger(discardLogger()))
	require.NoError(t, err)

	var calls atomic.Int32
	reg := jobqueue.NewRegistry()
	reg.MustRegister("gen", func(context.Context, *jobqueue.ExecContext) (any, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("connection refused")
		}
		return "ok", nil
	})

	q := startQueue(t, kvstore.NewMemory(), jobqueue.WithHandlers(reg), jobqueue.WithCircuitBreaker(cb))

	var sawOpen atomic.Bool
	unsubscribe := q.SubscribeStatus(func(s jobqueue.QueueStatus) {
		if s.IsCircuitOpen && s.CircuitOpenUntil != nil {
			sawOpen.Store(true)
		}
	})
	defer unsubscribe()

	start := time.Now()
	res, err := jobqueue.SubmitAndWait[string](context.Background(), q, "gen", nil, jobqueue.PriorityNormal)
	require.NoError(t, err)
	assert.Equal(t, "ok", res)

	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond, "dispatch waits for the cooldown")
	assert.True(t, sawOpen.Load())
	assert.Equal(t, breaker.StateClosed, cb.State("inference"))
	assert.Eventually(t, func() bool { return !q.Status().IsCircuitOpen }, time.Second, 5*time.Millisecond)
}

func TestDispatch_Offline(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.OfflineRetry = time.Hour

	probe := newFakeProbe(false)
	q := startQueue(t, kvstore.NewMemory(),
		jobqueue.WithConfig(cfg),
		jobqueue.WithHandlers(echoRegistry(t, "echo")),
		jobqueue.WithConnectivity(probe))

	f, err := q.SubmitAndAwait(context.Background(), "echo", nil, jobqueue.PriorityNormal)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return q.Status().IsOffline }, time.Second, 5*time.Millisecond)
	assert.False(t, f.IsComplete())

	probe.restore()

	res, err := f.AwaitWithTimeout(2 * time.Second)
	require.NoError(t, err, "the restored signal wakes the dispatcher")
	assert.Equal(t, "echo", res)
	assert.Eventually(t, func() bool { return !q.Status().IsOffline }, time.Second, 5*time.Millisecond)
}

func TestDispatch_HandlerLogsCarryJob(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	handlerLog := logger.New(logger.WithOutput(&buf), logger.WithJobContext())

	reg := jobqueue.NewRegistry()
	reg.MustRegister("describe", func(ctx context.Context, _ *jobqueue.ExecContext) (any, error) {
		handlerLog.InfoContext(ctx, "calling provider")
		return "ok", nil
	})
	q := startQueue(t, kvstore.NewMemory(), jobqueue.WithHandlers(reg))
	completions := q.Completions(t.Context())

	id, err := q.Submit(context.Background(), "describe", nil, jobqueue.PriorityNormal)
	require.NoError(t, err)
	require.Equal(t, id, nextCompletion(t, completions).JobID)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "calling provider", entry["msg"])
	job, ok := entry["job"].(map[string]any)
	require.True(t, ok, "record carries a job group")
	assert.Equal(t, id, job["id"])
	assert.Equal(t, "describe", job["type"])
}

func TestDispatch_StopWaitsForHandler(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	var finished atomic.Bool
	reg := jobqueue.NewRegistry()
	reg.MustRegister("slow", func(ctx context.Context, _ *jobqueue.ExecContext) (any, error) {
		close(started)
		time.Sleep(30 * time.Millisecond)
		finished.Store(true)
		return nil, ctx.Err()
	})

	q := newQueue(t, kvstore.NewMemory(), jobqueue.WithHandlers(reg))
	require.NoError(t, q.Start(context.Background()))

	_, err := q.Submit(context.Background(), "slow", nil, jobqueue.PriorityNormal)
	require.NoError(t, err)
	<-started

	require.NoError(t, q.Stop())
	assert.True(t, finished.Load())
	assert.Empty(t, q.Jobs(), "the handler context is not cancelled by Stop")
}
