package kvstore

import (
	"context"
	"errors"
)

// Store is a minimal durable key/value store.
//
// Get returns nil, nil for a missing key.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

var (
	ErrEmptyKey    = errors.New("kvstore: key cannot be empty")
	ErrDirRequired = errors.New("kvstore: directory is required")
)
