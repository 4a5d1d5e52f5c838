package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Redis is the primary KV backend. Values are stored as plain JSON strings.
//
// Update serialization is per-key and per-process: the engine is designed to
// run as a single writer per deployment, so an in-process keyed mutex is
// enough to close the read-modify-write race without the cost of WATCH/retry
// loops on every mutation.
type Redis struct {
	rdb   *redis.Client
	locks *keyMutex
}

// NewRedis wraps an existing go-redis client.
func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb, locks: newKeyMutex()}
}

// DialRedis connects to a Redis server and verifies the connection.
func DialRedis(ctx context.Context, addr string) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("store: redis ping %s: %w", addr, err)
	}
	return NewRedis(rdb), nil
}

func (r *Redis) Get(ctx context.Context, keys ...string) (map[string]json.RawMessage, error) {
	if len(keys) == 0 {
		return map[string]json.RawMessage{}, nil
	}
	vals, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("store: redis mget: %w", err)
	}
	out := make(map[string]json.RawMessage, len(keys))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue // nil reply: key absent
		}
		out[keys[i]] = json.RawMessage(s)
	}
	return out, nil
}

func (r *Redis) Set(ctx context.Context, entries map[string]json.RawMessage) error {
	if len(entries) == 0 {
		return nil
	}
	pipe := r.rdb.TxPipeline()
	for k, v := range entries {
		pipe.Set(ctx, k, string(v), 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store: redis set: %w", err)
	}
	return nil
}

func (r *Redis) Remove(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("store: redis del: %w", err)
	}
	return nil
}

func (r *Redis) Update(ctx context.Context, key string, fn UpdateFunc) error {
	lock := r.locks.forKey(key)
	lock.Lock()
	defer lock.Unlock()

	vals, err := r.Get(ctx, key)
	if err != nil {
		return err
	}
	next, err := fn(vals[key])
	if err != nil {
		return err
	}
	if next == nil {
		return r.Remove(ctx, key)
	}
	return r.Set(ctx, map[string]json.RawMessage{key: next})
}

// Close releases the underlying client.
func (r *Redis) Close() error {
	return r.rdb.Close()
}
