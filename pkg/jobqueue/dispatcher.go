package jobqueue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmitrymomot/jobgate/pkg/async"
	"github.com/dmitrymomot/jobgate/pkg/logger"
)

// loop is the only goroutine that runs handlers. It runs cycles until the
// queue is drained or gated, then sleeps until a wake, a restored
// connectivity signal or the earliest requested timer.
func (q *Queue) loop(ctx context.Context, restored <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	var deadline time.Time
	for {
		wakeAt := q.cycle(ctx)
		if ctx.Err() != nil {
			return
		}
		if q.loadPending() {
			retry := q.now().Add(q.cfg.OfflineRetry)
			if wakeAt.IsZero() || retry.Before(wakeAt) {
				wakeAt = retry
			}
		}

		if !wakeAt.IsZero() {
			now := q.now()
			if deadline.IsZero() || !deadline.After(now) || wakeAt.Before(deadline) {
				deadline = wakeAt
				timer.Reset(max(wakeAt.Sub(now), 0))
				q.logger.DebugContext(ctx, "dispatcher sleeping", logger.Until(wakeAt))
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-q.wake:
		case <-timer.C:
			deadline = time.Time{}
		case _, ok := <-restored:
			if !ok {
				restored = nil
				continue
			}
			q.logger.InfoContext(ctx, "connectivity restored, resuming dispatch")
		}
	}
}

// cycle dispatches jobs until one of the gates closes or nothing is ready.
// It returns when the dispatcher should look again, or zero to wait for a wake.
func (q *Queue) cycle(ctx context.Context) time.Time {
	svc := q.cfg.ServiceKey
	q.ensureLoaded(ctx)

	for ctx.Err() == nil {
		now := q.now()

		if q.breaker.IsOpen(svc) {
			remaining := q.cfg.CircuitCooldown
			if r, ok := q.breaker.(CooldownReporter); ok {
				remaining = r.Remaining(svc)
			}
			until := now.Add(remaining)

			q.mu.Lock()
			q.gates.circuitOpen = true
			q.gates.circuitOpenUntil = until
			q.mu.Unlock()

			q.logger.WarnContext(ctx, "circuit open, pausing dispatch",
				logger.ServiceKey(svc), logger.Until(until))
			q.publish(ctx)
			return until.Add(q.cfg.WakeBuffer)
		}

		if !q.probe.IsOnline(ctx) {
			q.mu.Lock()
			q.gates.circuitOpen = false
			q.gates.offline = true
			q.mu.Unlock()

			q.logger.WarnContext(ctx, "service unreachable, pausing dispatch",
				logger.ServiceKey(svc), logger.Duration(q.cfg.OfflineRetry))
			q.publish(ctx)
			return now.Add(q.cfg.OfflineRetry)
		}

		if until, limited := q.rateLimitWindow(now); limited {
			q.deferEligible(ctx, now, until)
			return until.Add(q.cfg.WakeBuffer)
		}

		q.mu.Lock()
		changed := q.clearGatesLocked(now)
		job, nextAt := SelectNext(q.jobs, now)
		if job == nil {
			q.mu.Unlock()
			if changed {
				q.persist(ctx)
				q.publish(ctx)
			}
			if nextAt != nil {
				return *nextAt
			}
			return time.Time{}
		}
		job.Status = StatusProcessing
		job.NextRetryAt = nil
		q.current = job
		running := job.clone()
		q.mu.Unlock()

		q.logger.DebugContext(ctx, "dispatching job",
			logger.JobID(running.ID),
			logger.JobType(string(running.Type)),
			logger.Priority(string(running.Priority)),
			logger.RetryCount(running.RetryCount))
		q.persist(ctx)
		q.publish(ctx)

		start := time.Now()
		result, err := q.execute(ctx, running)
		if err == nil {
			q.complete(ctx, job, result, time.Since(start))
			continue
		}
		if wakeAt, idle := q.fail(ctx, job, err); idle {
			return wakeAt
		}
	}
	return time.Time{}
}

// rateLimitWindow reports whether dispatch is rate limited and until when.
func (q *Queue) rateLimitWindow(now time.Time) (time.Time, bool) {
	var oracleUntil time.Time
	if q.oracle.IsLimited() {
		remaining := q.oracle.Remaining()
		if remaining <= 0 {
			remaining = q.cfg.RateLimitCooldown
		}
		oracleUntil = now.Add(remaining)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.gates.oracleUntil = oracleUntil
	until := oracleUntil
	if q.gates.rateLimitUntil.After(until) {
		until = q.gates.rateLimitUntil
	}
	return until, until.After(now)
}

// deferEligible stamps every ready job with the end of the rate-limit window
// so observers see when it will run, then persists and publishes.
func (q *Queue) deferEligible(ctx context.Context, now, until time.Time) {
	q.mu.Lock()
	q.gates.circuitOpen = false
	q.gates.offline = false
	deferred := 0
	for _, j := range q.jobs {
		if j.Status != StatusPending {
			continue
		}
		if j.eligible(now) || (j.NextRetryAt != nil && j.NextRetryAt.Equal(q.gates.deferredUntil)) {
			j.NextRetryAt = ptr(until)
			deferred++
		}
	}
	q.gates.deferredUntil = until
	q.mu.Unlock()

	q.logger.InfoContext(ctx, "rate limited, deferring jobs",
		logger.Until(until), slog.Int("deferred", deferred))
	if deferred > 0 {
		q.persist(ctx)
	}
	q.publish(ctx)
}

// clearGatesLocked resets gate state once every gate is open again and
// releases jobs deferred by a rate limit that lifted early. It reports
// whether anything changed.
func (q *Queue) clearGatesLocked(now time.Time) bool {
	changed := q.gates.circuitOpen || q.gates.offline
	q.gates.circuitOpen = false
	q.gates.offline = false

	if q.gates.deferredUntil.IsZero() {
		return changed
	}
	for _, j := range q.jobs {
		if j.Status == StatusPending && j.NextRetryAt != nil && j.NextRetryAt.Equal(q.gates.deferredUntil) {
			j.NextRetryAt = nil
		}
	}
	q.gates.deferredUntil = time.Time{}
	return true
}

// execute runs the job's handler on its own goroutine and waits for it.
// The handler context survives Stop so an in-flight job can finish.
func (q *Queue) execute(ctx context.Context, job *Job) (any, error) {
	reg, ok := q.registry.lookup(job.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrHandlerNotFound, job.Type)
	}

	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), q.cfg.HandlerTimeout)
	defer cancel()
	hctx = logger.ContextWithJob(hctx, job.ID, string(job.Type))

	exec := &ExecContext{
		Job:     *job,
		Payload: job.Payload,
		Attempt: job.RetryCount + 1,
		blobs:   q.blobs,
	}

	fut := async.Async(hctx, exec, func(ctx context.Context, e *ExecContext) (res any, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
			}
		}()
		return reg.handler(ctx, e)
	})
	return fut.Await()
}

func (q *Queue) complete(ctx context.Context, job *Job, result any, took time.Duration) {
	q.breaker.RecordSuccess(q.cfg.ServiceKey)

	q.mu.Lock()
	job.Status = StatusCompleted
	job.Result = result
	job.LastError = nil
	q.removeLocked(job.ID)
	q.current = nil
	waiter := q.takeWaiterLocked(job.ID)
	done := job.clone()
	q.mu.Unlock()

	q.logger.InfoContext(ctx, "job completed",
		logger.JobID(done.ID),
		logger.JobType(string(done.Type)),
		logger.Duration(took))

	if waiter != nil {
		_ = waiter.Resolve(result)
	} else if reg, ok := q.registry.lookup(done.Type); ok && reg.autoApply != nil {
		if err := reg.autoApply(context.WithoutCancel(ctx), done, result); err != nil {
			q.logger.ErrorContext(ctx, "auto-apply failed",
				logger.JobID(done.ID),
				logger.JobType(string(done.Type)),
				logger.Error(err))
		}
	}

	q.forget(ctx, done.ID)
	q.persist(ctx)
	q.notify(ctx, Completion{JobID: done.ID, JobType: done.Type, Status: StatusCompleted, Result: result})
	q.publish(ctx)
}

// fail applies the classifier's verdict. It returns true with a wake time
// when the dispatcher must go idle.
func (q *Queue) fail(ctx context.Context, job *Job, err error) (time.Time, bool) {
	verdict := Classify(err, q.detector)
	now := q.now()
	msg := err.Error()

	attrs := []any{
		logger.JobID(job.ID),
		logger.JobType(string(job.Type)),
		slog.String("verdict", verdict.String()),
		logger.Error(err),
	}

	switch {
	case verdict.Terminal():
		q.mu.Lock()
		retries := job.RetryCount
		q.mu.Unlock()
		q.logger.ErrorContext(ctx, "job failed permanently", attrs...)
		q.terminate(ctx, job, err, retries)
		return time.Time{}, false

	case verdict == VerdictRateLimited:
		wait := retryAfter(err)
		if wait <= 0 {
			wait = q.oracle.Remaining()
		}
		if wait <= 0 {
			wait = q.cfg.RateLimitCooldown
		}
		until := now.Add(wait)
		if rec, ok := q.oracle.(RateLimitRecorder); ok {
			rec.RecordRateLimit(wait)
		}

		q.mu.Lock()
		job.Status = StatusPending
		job.LastError = &msg
		job.NextRetryAt = ptr(until)
		q.current = nil
		if until.After(q.gates.rateLimitUntil) {
			q.gates.rateLimitUntil = until
		}
		q.mu.Unlock()

		q.logger.WarnContext(ctx, "job rate limited, retrying later", append(attrs, logger.Until(until))...)
		q.persist(ctx)
		q.publish(ctx)
		return until.Add(q.cfg.WakeBuffer), true

	default:
		if q.breaker.RecordFailure(q.cfg.ServiceKey) {
			q.logger.WarnContext(ctx, "circuit opened", logger.ServiceKey(q.cfg.ServiceKey))
		}

		q.mu.Lock()
		job.RetryCount++
		retries := job.RetryCount
		exhausted := retries >= q.cfg.MaxRetries
		var at time.Time
		if !exhausted {
			at = now.Add(Backoff(retries, q.cfg.BaseDelay, q.cfg.MaxDelay))
			job.Status = StatusPending
			job.LastError = &msg
			job.NextRetryAt = ptr(at)
			q.current = nil
		}
		q.mu.Unlock()

		if exhausted {
			q.logger.ErrorContext(ctx, "job failed after exhausting retries", append(attrs, logger.RetryCount(retries))...)
			q.terminate(ctx, job, err, retries)
			return time.Time{}, false
		}

		q.logger.WarnContext(ctx, "job failed, retrying with backoff",
			append(attrs, logger.RetryCount(retries), logger.Until(at))...)
		q.persist(ctx)
		q.publish(ctx)
		return time.Time{}, false
	}
}

// terminate marks job failed and rejects its waiter.
func (q *Queue) terminate(ctx context.Context, job *Job, err error, retries int) {
	msg := err.Error()

	q.mu.Lock()
	job.Status = StatusFailed
	job.LastError = &msg
	job.NextRetryAt = nil
	q.current = nil
	waiter := q.takeWaiterLocked(job.ID)
	failed := job.clone()
	q.mu.Unlock()

	jobErr := &JobFailedError{JobID: failed.ID, JobType: failed.Type, RetryCount: retries, Err: err}
	if waiter != nil {
		_ = waiter.Reject(jobErr)
	}

	q.persist(ctx)
	q.notify(ctx, Completion{JobID: failed.ID, JobType: failed.Type, Status: StatusFailed, Err: jobErr})
	q.publish(ctx)
}
