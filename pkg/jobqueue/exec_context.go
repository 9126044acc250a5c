package jobqueue

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrymomot/jobgate/pkg/blob"
)

// ExecContext is handed to a handler for one attempt.
type ExecContext struct {
	Job     Job
	Payload Payload
	Attempt int

	blobs blob.Storage
}

// Stripped reports whether field was replaced by a marker when the job was
// persisted, which happens when the job was reloaded after a restart.
func (e *ExecContext) Stripped(field string) (Marker, bool) {
	return asMarker(e.Payload[field])
}

// Ref returns the string value of a reference field, if any.
func (e *ExecContext) Ref(field string) (string, bool) {
	s, ok := e.Payload[field].(string)
	return s, ok && s != ""
}

// Resolve returns the bytes of a binary field, downloading externalized data
// when needed. A field that cannot be recovered yields *UnrecoverablePayloadError;
// the handler should fall back to its reference field when marker.CanReloadFromRef
// is set without a blob ref.
func (e *ExecContext) Resolve(ctx context.Context, field string) ([]byte, error) {
	v, ok := e.Payload[field]
	if !ok || v == nil {
		return nil, &UnrecoverablePayloadError{Field: field, Err: errors.New("field is missing")}
	}

	switch val := v.(type) {
	case []byte:
		return val, nil
	case string:
		return []byte(val), nil
	}

	m, ok := asMarker(v)
	if !ok {
		return nil, &UnrecoverablePayloadError{Field: field, Err: fmt.Errorf("unsupported value type %T", v)}
	}
	if m.Ref == "" {
		return nil, &UnrecoverablePayloadError{Field: field, Err: errors.New("data was stripped and has no stored copy")}
	}
	if e.blobs == nil {
		return nil, &ConfigurationError{Err: fmt.Errorf("field %s is externalized but no blob storage is configured", field)}
	}

	data, err := e.blobs.Get(ctx, m.Ref)
	if errors.Is(err, blob.ErrNotFound) {
		return nil, &UnrecoverablePayloadError{Field: field, Err: err}
	}
	if err != nil {
		return nil, &TransientServiceError{Err: err}
	}
	return data, nil
}
