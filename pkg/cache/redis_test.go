package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("MICROSCORE_TEST_REDIS")
	if addr == "" {
		t.Skip("MICROSCORE_TEST_REDIS not set")
	}
	ctx := context.Background()

	store, err := NewRedisStore(ctx, addr, "", 0)
	require.NoError(t, err)
	defer store.Close()

	key := Key("redis-test-" + time.Now().Format("150405.000"))
	_, err = store.Get(ctx, key)
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, store.Set(ctx, key, []byte(`{"a":1}`), time.Minute))
	b, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(b))
}

func TestNewRedisStore_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := NewRedisStore(ctx, "127.0.0.1:1", "", 0)
	assert.Error(t, err)
}
