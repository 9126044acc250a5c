package blob

import (
	"context"
	"fmt"
	"strings"
)

// Storage holds opaque byte blobs addressed by slash-separated keys.
type Storage interface {
	Put(ctx context.Context, key string, data []byte) error
	// Get returns ErrNotFound when the key does not exist.
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	// Delete is a no-op for missing keys.
	Delete(ctx context.Context, key string) error
}

// cleanKey rejects empty keys and path traversal.
func cleanKey(key string) (string, error) {
	key = strings.TrimPrefix(key, "/")
	if key == "" || strings.Contains(key, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return key, nil
}
