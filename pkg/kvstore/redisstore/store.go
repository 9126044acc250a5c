package redisstore

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/jobgate/pkg/kvstore"
)

// Store keeps values as plain redis strings without expiration.
type Store struct {
	db     redis.UniversalClient
	prefix string
}

var _ kvstore.Store = (*Store)(nil)

// New wraps an existing client. prefix is prepended to every key.
func New(client redis.UniversalClient, prefix string) (*Store, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	return &Store{db: client, prefix: prefix}, nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, kvstore.ErrEmptyKey
	}

	val, err := s.db.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return val, err
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return kvstore.ErrEmptyKey
	}
	return s.db.Set(ctx, s.prefix+key, value, 0).Err()
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if key == "" {
		return kvstore.ErrEmptyKey
	}
	return s.db.Del(ctx, s.prefix+key).Err()
}

// Conn returns the underlying client.
func (s *Store) Conn() redis.UniversalClient {
	return s.db
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.db.Close()
}
