package async

import (
	"context"
	"sync"
	"time"
)

// Future is a read-only handle to a value that becomes available later.
// A Future completes exactly once, either with a result or with an error.
type Future[U any] struct {
	result U
	err    error
	once   sync.Once
	done   chan struct{}
}

func newFuture[U any]() *Future[U] {
	return &Future[U]{done: make(chan struct{})}
}

// Await blocks until the future completes and returns its result and error.
func (f *Future[U]) Await() (U, error) {
	<-f.done
	return f.result, f.err
}

// AwaitContext waits for completion or for ctx to be done, whichever comes first.
// Giving up on a future does not cancel the work behind it.
func (f *Future[U]) AwaitContext(ctx context.Context) (U, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		var zero U
		return zero, ctx.Err()
	}
}

// AwaitWithTimeout waits for completion for at most timeout and returns
// ErrTimeout when the deadline passes first.
func (f *Future[U]) AwaitWithTimeout(timeout time.Duration) (U, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-f.done:
		return f.result, f.err
	case <-timer.C:
		var zero U
		return zero, ErrTimeout
	}
}

// Done returns a channel that is closed once the future completes.
func (f *Future[U]) Done() <-chan struct{} {
	return f.done
}

// IsComplete reports whether the future has completed, without blocking.
func (f *Future[U]) IsComplete() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

func (f *Future[U]) complete(res U, err error) bool {
	completed := false
	f.once.Do(func() {
		f.result = res
		f.err = err
		close(f.done)
		completed = true
	})
	return completed
}

// Promise is the writable side of a Future. It is resolved or rejected by
// the producer exactly once; every later attempt returns ErrAlreadyCompleted.
type Promise[U any] struct {
	future *Future[U]
}

// NewPromise returns an unresolved promise.
func NewPromise[U any]() *Promise[U] {
	return &Promise[U]{future: newFuture[U]()}
}

// Future returns the read side handed to the consumer.
func (p *Promise[U]) Future() *Future[U] {
	return p.future
}

// Resolve completes the promise with a result.
func (p *Promise[U]) Resolve(result U) error {
	if !p.future.complete(result, nil) {
		return ErrAlreadyCompleted
	}
	return nil
}

// Reject completes the promise with an error. A nil error is replaced with ErrRejected
// so consumers can always tell rejection from resolution.
func (p *Promise[U]) Reject(err error) error {
	if err == nil {
		err = ErrRejected
	}
	var zero U
	if !p.future.complete(zero, err) {
		return ErrAlreadyCompleted
	}
	return nil
}

// Async executes fn in its own goroutine and returns a Future for its result.
// If ctx is already done the function is not started.
func Async[T any, U any](ctx context.Context, param T, fn func(context.Context, T) (U, error)) *Future[U] {
	p := NewPromise[U]()

	go func() {
		select {
		case <-ctx.Done():
			_ = p.Reject(ctx.Err())
			return
		default:
		}

		res, err := fn(ctx, param)
		if err != nil {
			_ = p.Reject(err)
			return
		}
		_ = p.Resolve(res)
	}()

	return p.Future()
}
