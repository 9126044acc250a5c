package redisstore_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobgate/pkg/kvstore"
	"github.com/dmitrymomot/jobgate/pkg/kvstore/redisstore"
)

func connect(t *testing.T) *redisstore.Store {
	t.Helper()

	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}

	client, err := redisstore.Connect(context.Background(), redisstore.Config{
		ConnectionURL:  url,
		RetryAttempts:  1,
		RetryInterval:  time.Second,
		ConnectTimeout: 5 * time.Second,
	})
	require.NoError(t, err)

	s, err := redisstore.New(client, "test:"+uuid.NewString()+":")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNew_NilClient(t *testing.T) {
	t.Parallel()
	_, err := redisstore.New(nil, "")
	assert.ErrorIs(t, err, redisstore.ErrNilClient)
}

func TestConnect_InvalidURL(t *testing.T) {
	t.Parallel()
	_, err := redisstore.Connect(context.Background(), redisstore.Config{
		ConnectionURL:  "://bad",
		ConnectTimeout: time.Second,
	})
	assert.ErrorIs(t, err, redisstore.ErrFailedToParseRedisConnString)
}

func TestStore(t *testing.T) {
	s := connect(t)
	ctx := context.Background()

	v, err := s.Get(ctx, "jobs")
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, s.Set(ctx, "jobs", []byte(`[]`)))
	v, err = s.Get(ctx, "jobs")
	require.NoError(t, err)
	assert.Equal(t, "[]", string(v))

	require.NoError(t, s.Delete(ctx, "jobs"))
	v, err = s.Get(ctx, "jobs")
	require.NoError(t, err)
	assert.Nil(t, v)

	assert.ErrorIs(t, s.Set(ctx, "", nil), kvstore.ErrEmptyKey)
	assert.NoError(t, redisstore.Healthcheck(s.Conn())(ctx))
}
