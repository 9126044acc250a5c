// Package jobqueue is a durable, single-flight priority queue for work sent to
// a costly, rate-limited remote service.
//
// Jobs are admitted through Submit (fire-and-forget) or SubmitAndAwait (a
// future resolved with the handler result). Admission checks queue capacity,
// evicting the oldest pending job of a lower tier when full, then charges the
// ResourceGate. Every change is persisted as one JSON snapshot through a
// KeyValueStore, so jobs survive restarts: anything found processing on load
// is reset to pending.
//
// # Dispatch
//
// A single goroutine runs at most one handler at a time. Each cycle checks,
// in order:
//
//  1. the CircuitBreaker for the configured service key;
//  2. the ConnectivityProbe;
//  3. the RateLimitOracle and any window learned from handler errors;
//  4. the scheduler, which picks the ready job with the best priority, then
//     the oldest.
//
// A closed gate or a future nextRetryAt puts the dispatcher to sleep on one
// timer. Submissions, Wake and connectivity restored signals wake it early.
//
// # Failures
//
// Handler errors are sorted by Classify:
//
//   - configuration and unrecoverable payload errors fail the job at once;
//   - rate-limit errors reschedule it without using up a retry;
//   - anything else counts against the breaker and is retried with
//     exponential backoff until MaxRetries.
//
// Awaiting callers are only rejected on terminal failure or eviction.
//
// # Payloads
//
// Handlers declare binary fields with WithBinaryField. These are never
// persisted inline: they are uploaded to blob storage when one is configured,
// otherwise replaced by a Marker. Handlers call ExecContext.Resolve to get the
// bytes back.
//
//	reg := jobqueue.NewRegistry()
//	reg.MustRegister("summarize", jobqueue.NewHandler(summarize),
//		jobqueue.WithBinaryField("audio", "audioPath"))
//
//	q, err := jobqueue.New(kvstore.NewMemory(),
//		jobqueue.WithHandlers(reg),
//		jobqueue.WithResourceGate(gate),
//		jobqueue.WithCircuitBreaker(cb),
//	)
//	if err != nil {
//		return err
//	}
//	if err := q.Start(ctx); err != nil {
//		return err
//	}
//	defer q.Stop()
//
//	summary, err := jobqueue.SubmitAndWait[string](ctx, q, "summarize",
//		jobqueue.Payload{"audioPath": path}, jobqueue.PriorityHigh)
package jobqueue
