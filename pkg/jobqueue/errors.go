package jobqueue

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrymomot/jobgate/pkg/quota"
)

var (
	// ErrConfiguration marks permanent failures caused by missing credentials
	// or other setup problems. Matches *ConfigurationError.
	ErrConfiguration = errors.New("jobqueue: configuration error")

	// ErrUnrecoverablePayload marks permanent failures caused by the job input,
	// e.g. a referenced file that no longer exists. Matches *UnrecoverablePayloadError.
	ErrUnrecoverablePayload = errors.New("jobqueue: unrecoverable payload")

	// ErrRateLimited marks provider rate-limit refusals. Matches *RateLimitError.
	ErrRateLimited = errors.New("jobqueue: rate limited")

	// ErrTransient marks retryable service failures. Matches *TransientServiceError.
	ErrTransient = errors.New("jobqueue: transient service error")

	// ErrQueueFull is returned when admission finds no room. Matches *QueueFullError.
	ErrQueueFull = errors.New("jobqueue: queue is full")

	// ErrInsufficientResource is returned when the resource gate refuses admission.
	ErrInsufficientResource = quota.ErrInsufficientResource

	// ErrJobEvicted rejects the waiter of a job dropped to make room for a
	// higher-priority one.
	ErrJobEvicted = errors.New("jobqueue: job evicted to make room")

	ErrKVStoreNil               = errors.New("jobqueue: key-value store cannot be nil")
	ErrInvalidPriority          = errors.New("jobqueue: invalid priority")
	ErrInvalidJobType           = errors.New("jobqueue: job type cannot be empty")
	ErrHandlerNil               = errors.New("jobqueue: handler cannot be nil")
	ErrHandlerNotFound          = errors.New("jobqueue: no handler registered for job type")
	ErrHandlerAlreadyRegistered = errors.New("jobqueue: handler already registered for job type")
	ErrHandlerPanic             = errors.New("jobqueue: handler panicked")
	ErrJobNotFound              = errors.New("jobqueue: job not found")
	ErrJobNotFailed             = errors.New("jobqueue: job is not in failed state")
	ErrAlreadyStarted           = errors.New("jobqueue: queue already started")
	ErrNotStarted               = errors.New("jobqueue: queue not started")
	ErrInvalidConfig            = errors.New("jobqueue: invalid configuration")
	ErrLoadFailed               = errors.New("jobqueue: failed to load persisted jobs")
	ErrPersistFailed            = errors.New("jobqueue: failed to persist jobs")
	ErrResultType               = errors.New("jobqueue: unexpected result type")
)

// InsufficientResourceError is returned by Submit when the job type costs
// more than the ledger holds and no bypass token is left.
type InsufficientResourceError = quota.InsufficientResourceError

// ConfigurationError is a permanent failure that no retry can fix.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string {
	if e.Err == nil {
		return ErrConfiguration.Error()
	}
	return "configuration error: " + e.Err.Error()
}

func (e *ConfigurationError) Unwrap() error        { return e.Err }
func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// UnrecoverablePayloadError is a permanent failure caused by the job input.
// It never counts against the circuit breaker.
type UnrecoverablePayloadError struct {
	Field string
	Err   error
}

func (e *UnrecoverablePayloadError) Error() string {
	msg := "unrecoverable payload"
	if e.Field != "" {
		msg += " field " + e.Field
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *UnrecoverablePayloadError) Unwrap() error        { return e.Err }
func (e *UnrecoverablePayloadError) Is(target error) bool { return target == ErrUnrecoverablePayload }

// RateLimitError is a provider refusal. RetryAfter is zero when unknown.
type RateLimitError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	msg := "rate limited"
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(" (retry after %s)", e.RetryAfter)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RateLimitError) Unwrap() error        { return e.Err }
func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

// TransientServiceError is a retryable failure of the remote service.
type TransientServiceError struct {
	Err error
}

func (e *TransientServiceError) Error() string {
	if e.Err == nil {
		return ErrTransient.Error()
	}
	return "transient service error: " + e.Err.Error()
}

func (e *TransientServiceError) Unwrap() error        { return e.Err }
func (e *TransientServiceError) Is(target error) bool { return target == ErrTransient }

// QueueFullError rejects a submission when the pending set is at capacity
// and no lower-priority job can be evicted.
type QueueFullError struct {
	MaxSize  int
	Priority Priority
}

func (e *QueueFullError) Error() string {
	return fmt.Sprintf("jobqueue: queue is full (%d pending), nothing below %s priority to evict", e.MaxSize, e.Priority)
}

func (e *QueueFullError) Is(target error) bool { return target == ErrQueueFull }

// JobFailedError rejects an awaiting caller once a job reaches a terminal
// failure. Err is the handler error that caused it.
type JobFailedError struct {
	JobID      string
	JobType    JobType
	RetryCount int
	Err        error
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("jobqueue: job %s (%s) failed after %d retries: %v", e.JobID, e.JobType, e.RetryCount, e.Err)
}

func (e *JobFailedError) Unwrap() error { return e.Err }
