package jobqueue

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/jobgate/pkg/async"
	"github.com/dmitrymomot/jobgate/pkg/blob"
	"github.com/dmitrymomot/jobgate/pkg/broadcast"
	"github.com/dmitrymomot/jobgate/pkg/logger"
	"github.com/dmitrymomot/jobgate/pkg/ratelimit"
)

// Queue is a durable, single-flight priority job queue.
type Queue struct {
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
	store    *Store
	registry *Registry
	breaker  CircuitBreaker
	probe    ConnectivityProbe
	oracle   RateLimitOracle
	gate     ResourceGate
	blobs    blob.Storage
	detector RateLimitDetector

	status      *broadcast.MemoryBroadcaster[QueueStatus]
	completions *broadcast.MemoryBroadcaster[Completion]

	wake chan struct{}

	admitMu   sync.Mutex // serializes admissions
	persistMu sync.Mutex // orders snapshots written to the store
	publishMu sync.Mutex // orders status snapshots

	mu          sync.Mutex
	jobs        []*Job
	waiters     map[string]*async.Promise[any]
	current     *Job
	lastCreated time.Time
	loaded      bool
	loadFailed  bool // running from memory until the store is readable
	gates       gateState

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// gateState is what the dispatcher last observed from its collaborators.
type gateState struct {
	circuitOpen      bool
	circuitOpenUntil time.Time
	offline          bool

	// oracleUntil is the window last reported by the oracle; rateLimitUntil
	// is the one learned from handler errors.
	oracleUntil    time.Time
	rateLimitUntil time.Time

	// deferredUntil is the nextRetryAt stamped on jobs held back by a rate
	// limit, so they can be released if the limit lifts early.
	deferredUntil time.Time
}

// New creates a queue persisting to kv. Collaborators default to permissive
// no-ops: a breaker that never opens, an always-online probe, no rate limit
// and free admission.
func New(kv KeyValueStore, opts ...Option) (*Queue, error) {
	if kv == nil {
		return nil, ErrKVStoreNil
	}

	o := &options{
		cfg:      DefaultConfig(),
		logger:   slog.Default(),
		now:      time.Now,
		breaker:  closedBreaker{},
		probe:    alwaysOnline{},
		oracle:   neverLimited{},
		gate:     freeGate{},
		registry: NewRegistry(),
		detector: ratelimit.IsRateLimitError,
	}
	for _, opt := range opts {
		opt(o)
	}
	if err := o.cfg.Validate(); err != nil {
		return nil, err
	}

	log := o.logger.With(logger.Component("jobqueue"))

	storeOpts := []StoreOption{
		WithStoreLogger(log),
		WithStoreBinaryFields(o.registry.binaryFields),
	}
	if o.blobs != nil {
		storeOpts = append(storeOpts, WithStoreBlobs(o.blobs, o.cfg.InlinePayloadLimit))
	}
	store, err := NewStore(kv, o.cfg.StoreKey, storeOpts...)
	if err != nil {
		return nil, err
	}

	q := &Queue{
		cfg:         o.cfg,
		logger:      log,
		now:         o.now,
		store:       store,
		registry:    o.registry,
		breaker:     o.breaker,
		probe:       o.probe,
		oracle:      o.oracle,
		gate:        o.gate,
		blobs:       o.blobs,
		detector:    o.detector,
		status:      broadcast.NewMemoryBroadcaster[QueueStatus](1, broadcast.WithSlowPolicy(broadcast.KeepLatest), broadcast.WithReplayLatest()),
		completions: broadcast.NewMemoryBroadcaster[Completion](64, broadcast.WithSlowPolicy(broadcast.KeepLatest)),
		wake:        make(chan struct{}, 1),
		waiters:     make(map[string]*async.Promise[any]),
	}
	q.publish(context.Background())
	return q, nil
}

// Start loads persisted jobs and launches the dispatcher goroutine.
func (q *Queue) Start(ctx context.Context) error {
	q.runMu.Lock()
	defer q.runMu.Unlock()

	if q.cancel != nil {
		return ErrAlreadyStarted
	}
	q.ensureLoaded(ctx)

	loopCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.done = make(chan struct{})

	var restored <-chan struct{}
	if n, ok := q.probe.(RestoreNotifier); ok {
		restored = n.Restored(loopCtx)
	}

	go q.loop(loopCtx, restored, q.done)
	q.Wake()

	q.logger.InfoContext(ctx, "job queue started",
		logger.ServiceKey(q.cfg.ServiceKey),
		slog.Int("max_size", q.cfg.MaxSize),
		slog.Int("max_retries", q.cfg.MaxRetries))
	return nil
}

// Stop halts the dispatcher after the in-flight handler, if any, returns.
func (q *Queue) Stop() error {
	q.runMu.Lock()
	defer q.runMu.Unlock()

	if q.cancel == nil {
		return ErrNotStarted
	}
	q.cancel()
	<-q.done
	q.cancel = nil

	q.logger.Info("job queue stopped")
	return nil
}

// Run starts the queue and stops it when ctx is done. Suitable for errgroup.
func (q *Queue) Run(ctx context.Context) func() error {
	return func() error {
		if err := q.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()
		return q.Stop()
	}
}

// Wake asks the dispatcher to run a cycle now, e.g. when the app returns to
// the foreground. It never blocks.
func (q *Queue) Wake() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Submit admits a fire-and-forget job and returns its id. On success the
// handler's auto-apply step receives the result.
func (q *Queue) Submit(ctx context.Context, jobType JobType, payload Payload, priority Priority) (string, error) {
	return q.admit(ctx, jobType, payload, priority, nil)
}

// SubmitAndAwait admits a job and returns a future that resolves with the
// handler result, or rejects on a terminal failure or eviction. Rate-limit
// and transient retries leave it pending.
func (q *Queue) SubmitAndAwait(ctx context.Context, jobType JobType, payload Payload, priority Priority) (*async.Future[any], error) {
	p := async.NewPromise[any]()
	if _, err := q.admit(ctx, jobType, payload, priority, p); err != nil {
		return nil, err
	}
	return p.Future(), nil
}

// Await waits for a future returned by SubmitAndAwait and asserts the result type.
func Await[T any](ctx context.Context, f *async.Future[any]) (T, error) {
	var zero T
	res, err := f.AwaitContext(ctx)
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, fmt.Errorf("%w: got %T, want %T", ErrResultType, res, zero)
	}
	return v, nil
}

// SubmitAndWait submits a job and blocks until its typed result is available.
// Giving up through ctx does not cancel the job.
func SubmitAndWait[T any](ctx context.Context, q *Queue, jobType JobType, payload Payload, priority Priority) (T, error) {
	f, err := q.SubmitAndAwait(ctx, jobType, payload, priority)
	if err != nil {
		var zero T
		return zero, err
	}
	return Await[T](ctx, f)
}

func (q *Queue) admit(ctx context.Context, jobType JobType, payload Payload, priority Priority, waiter *async.Promise[any]) (string, error) {
	if jobType == "" {
		return "", ErrInvalidJobType
	}
	if !priority.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidPriority, priority)
	}
	q.ensureLoaded(ctx)

	q.admitMu.Lock()
	defer q.admitMu.Unlock()

	// Capacity first so a rejected submission never burns quota.
	q.mu.Lock()
	_, err := q.evictionCandidate(priority)
	q.mu.Unlock()
	if err != nil {
		q.logger.WarnContext(ctx, "submission rejected, queue full",
			logger.JobType(string(jobType)), logger.Priority(string(priority)))
		return "", err
	}

	charged, err := q.gate.TryConsume(ctx, string(jobType))
	if err != nil {
		q.logger.WarnContext(ctx, "submission rejected by resource gate",
			logger.JobType(string(jobType)), logger.Error(err))
		return "", err
	}

	q.mu.Lock()
	// The dispatcher may have moved things since the first check.
	victim, err := q.evictionCandidate(priority)
	if err != nil {
		q.mu.Unlock()
		q.logger.WarnContext(ctx, "submission rejected, queue full",
			logger.JobType(string(jobType)), logger.Priority(string(priority)))
		if rerr := q.gate.Refund(ctx, string(jobType), charged); rerr != nil {
			q.logger.ErrorContext(ctx, "failed to refund rejected submission",
				logger.JobType(string(jobType)),
				slog.Int64("amount", charged),
				logger.Error(rerr))
		}
		return "", err
	}
	if victim != nil {
		q.removeLocked(victim.ID)
	}

	job := &Job{
		ID:        uuid.NewString(),
		Type:      jobType,
		Payload:   maps.Clone(payload),
		Priority:  priority,
		Status:    StatusPending,
		CreatedAt: q.nextCreatedAt(),
	}
	if job.Payload == nil {
		job.Payload = Payload{}
	}
	if waiter != nil {
		q.waiters[job.ID] = waiter
	}
	q.jobs = append(q.jobs, job)
	SortJobs(q.jobs)

	var victimWaiter *async.Promise[any]
	if victim != nil {
		victimWaiter = q.takeWaiterLocked(victim.ID)
	}
	q.mu.Unlock()

	if victim != nil {
		q.logger.WarnContext(ctx, "job evicted to make room",
			logger.JobID(victim.ID),
			logger.JobType(string(victim.Type)),
			logger.Priority(string(victim.Priority)),
			slog.String("evicted_for", job.ID))
		q.forget(ctx, victim.ID)
		if victimWaiter != nil {
			_ = victimWaiter.Reject(ErrJobEvicted)
		}
		q.notify(ctx, Completion{JobID: victim.ID, JobType: victim.Type, Status: StatusFailed, Err: ErrJobEvicted})
	}

	q.logger.DebugContext(ctx, "job admitted",
		logger.JobID(job.ID),
		logger.JobType(string(jobType)),
		logger.Priority(string(priority)),
		slog.Int64("charged", charged),
		slog.Bool("awaited", waiter != nil))

	q.persist(ctx)
	q.publish(ctx)
	q.Wake()
	return job.ID, nil
}

// evictionCandidate returns nil when there is room, the job to evict when the
// pending set is full, or *QueueFullError. Must be called with q.mu held.
func (q *Queue) evictionCandidate(incoming Priority) (*Job, error) {
	pending := 0
	for _, j := range q.jobs {
		if j.Status == StatusPending {
			pending++
		}
	}
	if pending < q.cfg.MaxSize {
		return nil, nil
	}

	// Lowest tier first; only tiers strictly below the incoming one qualify.
	for _, tier := range slices.Backward(priorityTiers) {
		if tier.Rank() <= incoming.Rank() {
			break
		}
		var oldest *Job
		for _, j := range q.jobs {
			if j.Status != StatusPending || j.Priority != tier {
				continue
			}
			if oldest == nil || compareJobs(j, oldest) < 0 {
				oldest = j
			}
		}
		if oldest != nil {
			return oldest, nil
		}
	}
	return nil, &QueueFullError{MaxSize: q.cfg.MaxSize, Priority: incoming}
}

// nextCreatedAt keeps creation times strictly increasing so FIFO order is
// total even when the clock does not advance between admissions.
// Must be called with q.mu held.
func (q *Queue) nextCreatedAt() time.Time {
	t := q.now().Round(0)
	if !t.After(q.lastCreated) {
		t = q.lastCreated.Add(time.Nanosecond)
	}
	q.lastCreated = t
	return t
}

// ensureLoaded merges the persisted snapshot into memory once. While the
// store cannot be read the queue keeps working from memory and does not write,
// so the unreadable snapshot is not overwritten; a later call merges it.
func (q *Queue) ensureLoaded(ctx context.Context) {
	q.mu.Lock()
	loaded := q.loaded
	q.mu.Unlock()
	if loaded {
		return
	}

	q.persistMu.Lock()
	defer q.persistMu.Unlock()

	q.mu.Lock()
	if q.loaded {
		q.mu.Unlock()
		return
	}
	q.mu.Unlock()

	jobs, err := q.store.Load(ctx)
	if err != nil {
		q.mu.Lock()
		first := !q.loadFailed
		q.loadFailed = true
		q.mu.Unlock()

		if first {
			q.logger.ErrorContext(ctx, "failed to load persisted jobs, running from memory", logger.Error(err))
		}
		return
	}

	q.mu.Lock()
	recovered := q.loadFailed
	known := make(map[string]struct{}, len(q.jobs))
	for _, j := range q.jobs {
		known[j.ID] = struct{}{}
	}
	merged := 0
	for _, j := range jobs {
		if _, ok := known[j.ID]; ok {
			continue
		}
		q.jobs = append(q.jobs, j)
		merged++
		if j.CreatedAt.After(q.lastCreated) {
			q.lastCreated = j.CreatedAt
		}
	}
	SortJobs(q.jobs)
	q.loaded = true
	q.loadFailed = false
	q.mu.Unlock()

	if merged > 0 {
		q.logger.InfoContext(ctx, "recovered persisted jobs", slog.Int("count", merged))
	}
	if recovered {
		q.logger.InfoContext(ctx, "job store readable again, snapshot merged")
		q.persistLocked(ctx)
	}
	if merged > 0 || recovered {
		q.publish(ctx)
	}
}

// persist writes the current snapshot. Failures are logged by the store and
// never abort the in-memory operation.
func (q *Queue) persist(ctx context.Context) {
	q.persistMu.Lock()
	defer q.persistMu.Unlock()

	q.persistLocked(ctx)
}

// persistLocked must be called with q.persistMu held.
func (q *Queue) persistLocked(ctx context.Context) {
	q.mu.Lock()
	if !q.loaded {
		q.mu.Unlock()
		return
	}
	snapshot := make([]*Job, len(q.jobs))
	for i, j := range q.jobs {
		snapshot[i] = j.clone()
	}
	q.mu.Unlock()

	_ = q.store.Persist(context.WithoutCancel(ctx), snapshot)
}

// loadPending reports whether the persisted snapshot still has to be merged.
func (q *Queue) loadPending() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return !q.loaded
}

// forget deletes the blobs of a job that already left q.jobs. Holding
// persistMu keeps an older snapshot from re-uploading them afterwards.
func (q *Queue) forget(ctx context.Context, id string) {
	q.persistMu.Lock()
	defer q.persistMu.Unlock()

	q.store.Forget(context.WithoutCancel(ctx), id)
}

// removeLocked drops a job from the in-memory set. Must be called with q.mu held.
func (q *Queue) removeLocked(id string) *Job {
	for i, j := range q.jobs {
		if j.ID == id {
			q.jobs = slices.Delete(q.jobs, i, i+1)
			return j
		}
	}
	return nil
}

func (q *Queue) takeWaiterLocked(id string) *async.Promise[any] {
	w, ok := q.waiters[id]
	if !ok {
		return nil
	}
	delete(q.waiters, id)
	return w
}

// Jobs returns copies of all jobs in dispatch order.
func (q *Queue) Jobs() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Job, len(q.jobs))
	for i, j := range q.jobs {
		out[i] = *j.clone()
	}
	return out
}

// Job returns a copy of the job with id.
func (q *Queue) Job(id string) (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, j := range q.jobs {
		if j.ID == id {
			return *j.clone(), true
		}
	}
	return Job{}, false
}

// FailedJobs returns copies of the terminally failed jobs.
func (q *Queue) FailedJobs() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []Job
	for _, j := range q.jobs {
		if j.Status == StatusFailed {
			out = append(out, *j.clone())
		}
	}
	return out
}

// ClearFailed removes failed jobs; with no ids it removes all of them.
// It returns the number of jobs removed.
func (q *Queue) ClearFailed(ctx context.Context, ids ...string) int {
	q.mu.Lock()
	var removed []string
	q.jobs = slices.DeleteFunc(q.jobs, func(j *Job) bool {
		if j.Status != StatusFailed || (len(ids) > 0 && !slices.Contains(ids, j.ID)) {
			return false
		}
		removed = append(removed, j.ID)
		return true
	})
	q.mu.Unlock()

	if len(removed) == 0 {
		return 0
	}
	for _, id := range removed {
		q.forget(ctx, id)
	}
	q.logger.InfoContext(ctx, "failed jobs cleared", slog.Int("count", len(removed)))
	q.persist(ctx)
	q.publish(ctx)
	return len(removed)
}

// RetryFailed puts a failed job back to pending with a fresh retry budget.
func (q *Queue) RetryFailed(ctx context.Context, id string) error {
	q.mu.Lock()
	var job *Job
	for _, j := range q.jobs {
		if j.ID == id {
			job = j
			break
		}
	}
	if job == nil {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if job.Status != StatusFailed {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrJobNotFailed, id, job.Status)
	}
	job.Status = StatusPending
	job.RetryCount = 0
	job.NextRetryAt = nil
	q.mu.Unlock()

	q.logger.InfoContext(ctx, "failed job requeued", logger.JobID(id))
	q.persist(ctx)
	q.publish(ctx)
	q.Wake()
	return nil
}

// GrantResourceBypass adds bypass tokens to the resource gate.
func (q *Queue) GrantResourceBypass(tokens int) {
	q.gate.Grant(tokens)
}

// HasResourceBypass reports whether a bypass token is available.
func (q *Queue) HasResourceBypass() bool {
	return q.gate.HasBypass()
}

// StoreDegraded reports whether the store could not be read at startup or
// the last persist failed.
func (q *Queue) StoreDegraded() bool {
	q.mu.Lock()
	loadFailed := q.loadFailed
	q.mu.Unlock()
	return loadFailed || q.store.Degraded()
}
