package broadcast

import (
	"context"
	"sync"
)

// Message wraps data of type T for type-safe broadcasting.
type Message[T any] struct {
	Data T
}

// Subscriber receives messages from a Broadcaster.
// Implementations must be safe for concurrent use.
type Subscriber[T any] interface {
	// Receive returns a channel for receiving broadcast messages.
	// The channel is closed when the subscriber is closed.
	Receive(ctx context.Context) <-chan Message[T]

	// Close closes the subscriber and releases resources. Idempotent.
	Close() error
}

// Broadcaster sends messages to multiple subscribers without blocking on slow ones.
type Broadcaster[T any] interface {
	// Subscribe creates a new subscriber. Cancelling ctx removes it.
	Subscribe(ctx context.Context) Subscriber[T]

	// Broadcast sends a message to all active subscribers.
	Broadcast(ctx context.Context, msg Message[T]) error

	// Close shuts down the broadcaster and closes all subscribers.
	Close() error
}

// SlowPolicy decides what happens when a subscriber's buffer is full.
type SlowPolicy int

const (
	// DropSubscriber removes a subscriber that cannot keep up.
	DropSubscriber SlowPolicy = iota
	// KeepLatest discards the oldest buffered message so the newest one fits.
	// Suited for state snapshots where only the latest value matters.
	KeepLatest
)

type subscriber[T any] struct {
	ch     chan Message[T]
	closed bool
	mu     sync.Mutex
}

func newSubscriber[T any](bufferSize int) *subscriber[T] {
	return &subscriber[T]{
		ch: make(chan Message[T], bufferSize),
	}
}

func (s *subscriber[T]) Receive(ctx context.Context) <-chan Message[T] {
	return s.ch
}

func (s *subscriber[T]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		close(s.ch)
		s.closed = true
	}
	return nil
}

// send delivers msg without blocking. It returns false when the subscriber is
// closed, or full under DropSubscriber.
func (s *subscriber[T]) send(msg Message[T], policy SlowPolicy) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	for {
		select {
		case s.ch <- msg:
			return true
		default:
		}

		if policy != KeepLatest {
			return false
		}

		// Make room by discarding the oldest message; the reader may race us
		// and free a slot first, in which case the retry succeeds.
		select {
		case <-s.ch:
		default:
		}
	}
}
