package backend

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRedisClient connects to COMPANION_TEST_REDIS_ADDR (default
// localhost:6379) on DB 15 and skips the test when no server answers.
func newTestRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("COMPANION_TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DB: 15})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("Redis not available, skipping: %v", err)
	}
	require.NoError(t, client.FlushDB(ctx).Err())
	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})
	return client
}

func newTestRedis(t *testing.T) *Redis {
	t.Helper()
	return NewRedisFromClient(newTestRedisClient(t), "")
}

func TestRedis_KeysArePrefixed(t *testing.T) {
	ctx := context.Background()
	client := newTestRedisClient(t)
	r := NewRedisFromClient(client, "companion:test:")

	require.NoError(t, r.Set(ctx, "sync", []byte(`{"data":true}`)))

	raw, err := client.Get(ctx, "companion:test:sync").Result()
	require.NoError(t, err)
	assert.Equal(t, `{"data":true}`, raw)

	_, err = client.Get(ctx, "sync").Result()
	require.ErrorIs(t, err, redis.Nil)
}

func TestRedis_DefaultPrefix(t *testing.T) {
	r := NewRedisFromClient(redis.NewClient(&redis.Options{Addr: "localhost:0"}), "")
	defer r.Close()
	assert.Equal(t, DefaultRedisPrefix+"theme", r.key("theme"))
}

func TestRedis_ListIsolatedByPrefix(t *testing.T) {
	ctx := context.Background()
	client := newTestRedisClient(t)
	phone := NewRedisFromClient(client, "companion:phone:")
	laptop := NewRedisFromClient(client, "companion:laptop:")

	require.NoError(t, phone.Set(ctx, "t:1", []byte("1")))
	require.NoError(t, laptop.Set(ctx, "t:2", []byte("2")))
	require.NoError(t, laptop.Set(ctx, "options", []byte("{}")))

	items, err := laptop.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{"t:2": []byte("2"), "options": []byte("{}")}, items)

	items, err = phone.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{"t:1": []byte("1")}, items)
}

func TestRedis_ListSkipsNonStringValues(t *testing.T) {
	ctx := context.Background()
	client := newTestRedisClient(t)
	r := NewRedisFromClient(client, "companion:test:")

	require.NoError(t, r.Set(ctx, "theme", []byte("dark")))
	// MGET yields nil for keys that are not strings, the same as for keys
	// deleted after SCAN saw them.
	require.NoError(t, client.HSet(ctx, "companion:test:stray", "f", "v").Err())

	items, err := r.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{"theme": []byte("dark")}, items)
}

func TestRedis_EmptyList(t *testing.T) {
	items, err := newTestRedis(t).List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, items)
}
