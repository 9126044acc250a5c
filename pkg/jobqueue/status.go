package jobqueue

import (
	"context"

	"github.com/dmitrymomot/jobgate/pkg/broadcast"
)

// Status returns the current queue snapshot.
func (q *Queue) Status() QueueStatus {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshotLocked()
}

func (q *Queue) snapshotLocked() QueueStatus {
	now := q.now()
	var s QueueStatus

	for _, j := range q.jobs {
		switch j.Status {
		case StatusPending:
			s.PendingCount++
		case StatusFailed:
			s.FailedCount++
		}
	}

	if q.current != nil {
		s.IsProcessing = true
		s.CurrentJobID = q.current.ID
		s.CurrentJobType = q.current.Type
	}

	limitEnd := q.gates.oracleUntil
	if q.gates.rateLimitUntil.After(limitEnd) {
		limitEnd = q.gates.rateLimitUntil
	}
	if limitEnd.After(now) {
		s.IsRateLimited = true
		s.RateLimitEndsAt = ptr(limitEnd)
	}

	s.IsOffline = q.gates.offline
	if q.gates.circuitOpen {
		s.IsCircuitOpen = true
		s.CircuitOpenUntil = ptr(q.gates.circuitOpenUntil)
	}
	return s
}

// publish pushes the current snapshot to status subscribers.
func (q *Queue) publish(ctx context.Context) {
	q.publishMu.Lock()
	defer q.publishMu.Unlock()

	_ = q.status.Broadcast(context.WithoutCancel(ctx), broadcast.Message[QueueStatus]{Data: q.Status()})
}

// SubscribeStatus calls listener with the current snapshot and then with
// every change, on a dedicated goroutine. Intermediate snapshots may be
// skipped when the listener is slow. The returned func unsubscribes.
func (q *Queue) SubscribeStatus(listener func(QueueStatus)) func() {
	ctx, cancel := context.WithCancel(context.Background())
	sub := q.status.Subscribe(ctx)

	go func() {
		for msg := range sub.Receive(ctx) {
			if ctx.Err() != nil {
				return
			}
			listener(msg.Data)
		}
	}()

	return func() {
		cancel()
		_ = sub.Close()
	}
}

// Completions subscribes to terminal outcomes: success, terminal failure and
// eviction. The subscription ends when ctx is cancelled.
func (q *Queue) Completions(ctx context.Context) broadcast.Subscriber[Completion] {
	return q.completions.Subscribe(ctx)
}

func (q *Queue) notify(ctx context.Context, c Completion) {
	_ = q.completions.Broadcast(context.WithoutCancel(ctx), broadcast.Message[Completion]{Data: c})
}
