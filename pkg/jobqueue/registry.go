package jobqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// HandlerFunc executes one job and returns its result.
type HandlerFunc func(ctx context.Context, exec *ExecContext) (any, error)

// AutoApplyFunc applies a successful result when no caller is awaiting it.
// It runs on the dispatcher goroutine after the job has completed.
type AutoApplyFunc func(ctx context.Context, job *Job, result any) error

// BinaryField declares a payload field holding large opaque data. RefField
// names a sibling field with a stable reference (e.g. a file path) the handler
// can reload the data from; it may be empty.
type BinaryField struct {
	Name     string
	RefField string
}

// HandlerOption configures a handler registration.
type HandlerOption func(*registration)

// WithBinaryField marks name as binary so it is never persisted inline.
func WithBinaryField(name, refField string) HandlerOption {
	return func(r *registration) {
		r.binary = append(r.binary, BinaryField{Name: name, RefField: refField})
	}
}

// WithAutoApply sets the step run on success for fire-and-forget jobs.
func WithAutoApply(fn AutoApplyFunc) HandlerOption {
	return func(r *registration) {
		r.autoApply = fn
	}
}

type registration struct {
	handler   HandlerFunc
	binary    []BinaryField
	autoApply AutoApplyFunc
}

// Registry maps job types to handlers. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[JobType]*registration
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[JobType]*registration)}
}

// Register adds a handler for jobType.
func (r *Registry) Register(jobType JobType, h HandlerFunc, opts ...HandlerOption) error {
	if jobType == "" {
		return ErrInvalidJobType
	}
	if h == nil {
		return ErrHandlerNil
	}

	reg := &registration{handler: h}
	for _, opt := range opts {
		opt(reg)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[jobType]; exists {
		return fmt.Errorf("%w: %s", ErrHandlerAlreadyRegistered, jobType)
	}
	r.entries[jobType] = reg
	return nil
}

// MustRegister is Register that panics on error, for wiring at startup.
func (r *Registry) MustRegister(jobType JobType, h HandlerFunc, opts ...HandlerOption) {
	if err := r.Register(jobType, h, opts...); err != nil {
		panic(err)
	}
}

// Has reports whether jobType has a handler.
func (r *Registry) Has(jobType JobType) bool {
	_, ok := r.lookup(jobType)
	return ok
}

// Types returns the registered job types.
func (r *Registry) Types() []JobType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]JobType, 0, len(r.entries))
	for t := range r.entries {
		types = append(types, t)
	}
	return types
}

func (r *Registry) lookup(jobType JobType) (*registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.entries[jobType]
	return reg, ok
}

// binaryFields satisfies the store's field lookup.
func (r *Registry) binaryFields(jobType JobType) []BinaryField {
	if reg, ok := r.lookup(jobType); ok {
		return reg.binary
	}
	return nil
}

// NewHandler adapts a typed function into a HandlerFunc. The payload is
// decoded into P through JSON; a payload that does not decode is an
// unrecoverable payload error.
func NewHandler[P any, R any](fn func(ctx context.Context, payload P, exec *ExecContext) (R, error)) HandlerFunc {
	return func(ctx context.Context, exec *ExecContext) (any, error) {
		var p P
		raw, err := json.Marshal(exec.Payload)
		if err != nil {
			return nil, &UnrecoverablePayloadError{Err: err}
		}
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, &UnrecoverablePayloadError{Err: err}
		}
		return fn(ctx, p, exec)
	}
}
