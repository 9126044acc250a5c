package jobqueue

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"

	"github.com/dmitrymomot/jobgate/pkg/blob"
	"github.com/dmitrymomot/jobgate/pkg/logger"
)

// Marker replaces a binary payload field in the persisted snapshot.
type Marker struct {
	Flagged          bool   `json:"flagged"`
	CanReloadFromRef bool   `json:"canReloadFromRef"`
	Ref              string `json:"ref,omitempty"`
}

// asMarker recognises a marker in memory or as decoded from JSON.
func asMarker(v any) (Marker, bool) {
	switch m := v.(type) {
	case Marker:
		return m, m.Flagged
	case *Marker:
		if m == nil {
			return Marker{}, false
		}
		return *m, m.Flagged
	case map[string]any:
		flagged, _ := m["flagged"].(bool)
		if !flagged {
			return Marker{}, false
		}
		reload, _ := m["canReloadFromRef"].(bool)
		ref, _ := m["ref"].(string)
		return Marker{Flagged: true, CanReloadFromRef: reload, Ref: ref}, true
	}
	return Marker{}, false
}

const inlineBytesKey = "$bytes"

// inlineBytes wraps a []byte field persisted inline. Plain JSON would turn it
// into a base64 string indistinguishable from a string field.
type inlineBytes struct {
	Bytes []byte `json:"$bytes"`
}

// asInlineBytes decodes a field written as inlineBytes.
func asInlineBytes(v any) ([]byte, bool) {
	m, ok := v.(map[string]any)
	if !ok || len(m) != 1 {
		return nil, false
	}
	enc, ok := m[inlineBytesKey].(string)
	if !ok {
		return nil, false
	}
	b, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		return nil, false
	}
	return b, true
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithStoreLogger sets the store logger.
func WithStoreLogger(l *slog.Logger) StoreOption {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithStoreBlobs enables externalization: string or []byte fields larger than
// inlineLimit bytes, and declared binary fields without a reference, are
// uploaded to storage and persisted as a marker carrying the blob ref.
func WithStoreBlobs(storage blob.Storage, inlineLimit int) StoreOption {
	return func(s *Store) {
		s.blobs = storage
		if inlineLimit > 0 {
			s.inlineLimit = inlineLimit
		}
	}
}

// WithStoreBinaryFields sets the per-type lookup of declared binary fields.
func WithStoreBinaryFields(lookup func(JobType) []BinaryField) StoreOption {
	return func(s *Store) {
		s.binaryFields = lookup
	}
}

// Store persists the queue as one JSON array under a fixed key.
//
// Persistence is best-effort: a failed write is logged and the encoded
// snapshot is kept in memory, so a later Load in the same process still sees
// it even when the backend cannot be read.
type Store struct {
	kv           KeyValueStore
	key          string
	blobs        blob.Storage
	inlineLimit  int
	binaryFields func(JobType) []BinaryField
	logger       *slog.Logger

	mu       sync.Mutex
	fallback []byte
	degraded bool
	uploaded map[string]map[string]string // job id → field → blob ref
}

// NewStore returns a store writing under key.
func NewStore(kv KeyValueStore, key string, opts ...StoreOption) (*Store, error) {
	if kv == nil {
		return nil, ErrKVStoreNil
	}
	if key == "" {
		return nil, fmt.Errorf("%w: store key is required", ErrInvalidConfig)
	}

	s := &Store{
		kv:           kv,
		key:          key,
		inlineLimit:  DefaultConfig().InlinePayloadLimit,
		binaryFields: func(JobType) []BinaryField { return nil },
		logger:       slog.Default(),
		uploaded:     make(map[string]map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Degraded reports whether the last write failed and the in-memory fallback
// is the only copy of the current snapshot.
func (s *Store) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// Load reads the snapshot. Jobs found processing are reset to pending and
// completed jobs are dropped.
func (s *Store) Load(ctx context.Context) ([]*Job, error) {
	data, err := s.kv.Get(ctx, s.key)
	if err != nil {
		s.mu.Lock()
		fallback := s.fallback
		s.mu.Unlock()

		if fallback == nil {
			return nil, errors.Join(ErrLoadFailed, err)
		}
		s.logger.WarnContext(ctx, "job store unreadable, using in-memory fallback",
			logger.Component("jobqueue.store"), logger.Error(err))
		data = fallback
	}
	if len(data) == 0 {
		return nil, nil
	}

	var raw []*Job
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Join(ErrLoadFailed, err)
	}

	jobs := make([]*Job, 0, len(raw))
	s.mu.Lock()
	for _, j := range raw {
		if j == nil || j.Status == StatusCompleted {
			continue
		}
		if j.Status == StatusProcessing {
			j.Status = StatusPending
		}
		for field, v := range j.Payload {
			if b, ok := asInlineBytes(v); ok {
				j.Payload[field] = b
				continue
			}
			if m, ok := asMarker(v); ok && m.Ref != "" {
				s.trackUpload(j.ID, field, m.Ref)
			}
		}
		jobs = append(jobs, j)
	}
	s.mu.Unlock()

	SortJobs(jobs)
	return jobs, nil
}

// Persist writes every non-completed job. The returned error is informational:
// callers carry on with their in-memory state either way.
func (s *Store) Persist(ctx context.Context, jobs []*Job) error {
	out := make([]*Job, 0, len(jobs))
	for _, j := range jobs {
		if j.Status == StatusCompleted {
			continue
		}
		c := *j
		c.Payload = s.strip(ctx, j)
		out = append(out, &c)
	}

	data, err := json.Marshal(out)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to encode job snapshot",
			logger.Component("jobqueue.store"), logger.Error(err))
		return errors.Join(ErrPersistFailed, err)
	}

	s.mu.Lock()
	s.fallback = data
	s.mu.Unlock()

	if err := s.kv.Set(ctx, s.key, data); err != nil {
		s.mu.Lock()
		s.degraded = true
		s.mu.Unlock()

		s.logger.ErrorContext(ctx, "failed to persist jobs, keeping in-memory fallback",
			logger.Component("jobqueue.store"),
			slog.Int("jobs", len(out)),
			logger.Error(err))
		return errors.Join(ErrPersistFailed, err)
	}

	s.mu.Lock()
	s.degraded = false
	s.mu.Unlock()
	return nil
}

// Forget deletes blobs uploaded for a job that has left the queue.
func (s *Store) Forget(ctx context.Context, jobID string) {
	s.mu.Lock()
	refs := s.uploaded[jobID]
	delete(s.uploaded, jobID)
	s.mu.Unlock()

	if s.blobs == nil {
		return
	}
	for field, ref := range refs {
		if err := s.blobs.Delete(ctx, ref); err != nil {
			s.logger.WarnContext(ctx, "failed to delete externalized payload",
				logger.Component("jobqueue.store"),
				logger.JobID(jobID),
				slog.String("field", field),
				logger.Error(err))
		}
	}
}

// strip returns the payload as it should be persisted.
func (s *Store) strip(ctx context.Context, j *Job) Payload {
	if len(j.Payload) == 0 {
		return j.Payload
	}

	declared := make(map[string]string)
	for _, f := range s.binaryFields(j.Type) {
		declared[f.Name] = f.RefField
	}

	out := maps.Clone(j.Payload)
	for field, v := range j.Payload {
		if _, ok := asMarker(v); ok {
			continue
		}

		refField, isDeclared := declared[field]
		size, isBlob := blobSize(v)

		switch {
		case isDeclared:
			hasRef := false
			if refField != "" {
				ref, _ := j.Payload[refField].(string)
				hasRef = ref != ""
			}
			if !hasRef && isBlob && s.blobs != nil {
				if ref, ok := s.upload(ctx, j.ID, field, v); ok {
					out[field] = Marker{Flagged: true, CanReloadFromRef: true, Ref: ref}
					continue
				}
			}
			out[field] = Marker{Flagged: true, CanReloadFromRef: hasRef}
			continue

		case isBlob && s.blobs != nil && size > s.inlineLimit:
			if ref, ok := s.upload(ctx, j.ID, field, v); ok {
				out[field] = Marker{Flagged: true, CanReloadFromRef: true, Ref: ref}
				continue
			}
		}

		if b, ok := v.([]byte); ok {
			out[field] = inlineBytes{Bytes: b}
		}
	}
	return out
}

// upload stores the field once per job and returns its ref. On failure the
// caller keeps the value inline.
func (s *Store) upload(ctx context.Context, jobID, field string, v any) (string, bool) {
	s.mu.Lock()
	ref, done := s.uploaded[jobID][field]
	s.mu.Unlock()
	if done {
		return ref, true
	}

	ref = blobKey(jobID, field)
	if err := s.blobs.Put(ctx, ref, blobBytes(v)); err != nil {
		s.logger.WarnContext(ctx, "failed to externalize payload field, persisting inline",
			logger.Component("jobqueue.store"),
			logger.JobID(jobID),
			slog.String("field", field),
			logger.Error(err))
		return "", false
	}

	s.mu.Lock()
	s.trackUpload(jobID, field, ref)
	s.mu.Unlock()
	return ref, true
}

// trackUpload must be called with s.mu held.
func (s *Store) trackUpload(jobID, field, ref string) {
	if s.uploaded[jobID] == nil {
		s.uploaded[jobID] = make(map[string]string)
	}
	s.uploaded[jobID][field] = ref
}

func blobKey(jobID, field string) string {
	return "jobs/" + jobID + "/" + field
}

func blobSize(v any) (int, bool) {
	switch b := v.(type) {
	case []byte:
		return len(b), true
	case string:
		return len(b), true
	}
	return 0, false
}

func blobBytes(v any) []byte {
	switch b := v.(type) {
	case []byte:
		return b
	case string:
		return []byte(b)
	}
	return nil
}
