package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-redis/redis/v8"
)

// DefaultRedisPrefix namespaces keys written by the Redis backend.
const DefaultRedisPrefix = "companion:sync:"

// scanBatch is the COUNT hint passed to SCAN.
const scanBatch = 256

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr      string // Redis address (e.g. "localhost:6379")
	Username  string // Redis ACL user, empty for the default user
	Password  string // Redis password
	DB        int    // Redis database number
	KeyPrefix string // Key prefix for namespacing (default: DefaultRedisPrefix)
}

// Redis implements Backend on a Redis server. It backs the synced scope so
// that every device pointed at the same server shares state.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis connects to Redis and verifies connectivity.
func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return NewRedisFromClient(client, cfg.KeyPrefix), nil
}

// NewRedisFromClient creates a Redis backend using an existing client.
func NewRedisFromClient(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) key(k string) string {
	return r.prefix + k
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}

func (r *Redis) List(ctx context.Context) (map[string][]byte, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, r.prefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scanning keys: %w", err)
	}

	out := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("fetching values: %w", err)
	}
	for i, v := range vals {
		// Keys removed between SCAN and MGET come back as nil.
		s, ok := v.(string)
		if !ok {
			continue
		}
		out[strings.TrimPrefix(keys[i], r.prefix)] = []byte(s)
	}
	return out, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	return r.client.Set(ctx, r.key(key), value, 0).Err()
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.key(key)).Err()
}

// DeleteIf watches the key so a write landing between the compare and the
// delete aborts the transaction instead of being lost.
func (r *Redis) DeleteIf(ctx context.Context, key string, expected []byte) (bool, error) {
	k := r.key(key)
	deleted := false
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		val, err := tx.Get(ctx, k).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		if !bytes.Equal(val, expected) {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, k)
			return nil
		})
		if err != nil {
			return err
		}
		deleted = true
		return nil
	}, k)
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("conditional delete %s: %w", key, err)
	}
	return deleted, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

var _ Backend = (*Redis)(nil)
