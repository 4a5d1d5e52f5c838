package store

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// backends under test; postgres is exercised against a live database only.
func testBackends(t *testing.T) map[string]KV {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	return map[string]KV{
		"memory": NewMemory(),
		"redis":  NewRedis(rdb),
	}
}

func TestGetSetRemove(t *testing.T) {
	ctx := context.Background()
	for name, kv := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			err := kv.Set(ctx, map[string]json.RawMessage{
				"a": json.RawMessage(`{"n":1}`),
				"b": json.RawMessage(`"two"`),
			})
			require.NoError(t, err)

			got, err := kv.Get(ctx, "a", "b", "missing")
			require.NoError(t, err)
			assert.Len(t, got, 2)
			assert.JSONEq(t, `{"n":1}`, string(got["a"]))

			require.NoError(t, kv.Remove(ctx, "a"))
			got, err = kv.Get(ctx, "a")
			require.NoError(t, err)
			assert.Empty(t, got)

			// removing a missing key is not an error
			assert.NoError(t, kv.Remove(ctx, "never-existed"))
		})
	}
}

func TestUpdateCreatesAndMutates(t *testing.T) {
	ctx := context.Background()
	for name, kv := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			err := kv.Update(ctx, "counter", func(cur json.RawMessage) (json.RawMessage, error) {
				assert.Nil(t, cur, "first update sees no existing value")
				return json.RawMessage(`1`), nil
			})
			require.NoError(t, err)

			err = kv.Update(ctx, "counter", func(cur json.RawMessage) (json.RawMessage, error) {
				var n int
				require.NoError(t, json.Unmarshal(cur, &n))
				raw, _ := json.Marshal(n + 1)
				return raw, nil
			})
			require.NoError(t, err)

			var n int
			ok, err := GetJSON(ctx, kv, "counter", &n)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, 2, n)
		})
	}
}

func TestUpdateNilDeletes(t *testing.T) {
	ctx := context.Background()
	for name, kv := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, SetJSON(ctx, kv, "gone", "soon"))
			err := kv.Update(ctx, "gone", func(json.RawMessage) (json.RawMessage, error) {
				return nil, nil
			})
			require.NoError(t, err)

			got, err := kv.Get(ctx, "gone")
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

// Concurrent increments against the same key must never lose an update.
func TestUpdateSerializesWriters(t *testing.T) {
	ctx := context.Background()
	for name, kv := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			const writers = 32
			var wg sync.WaitGroup
			for i := 0; i < writers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					err := kv.Update(ctx, "hits", func(cur json.RawMessage) (json.RawMessage, error) {
						n := 0
						if cur != nil {
							if err := json.Unmarshal(cur, &n); err != nil {
								return nil, err
							}
						}
						raw, _ := json.Marshal(n + 1)
						return raw, nil
					})
					assert.NoError(t, err)
				}()
			}
			wg.Wait()

			var n int
			ok, err := GetJSON(ctx, kv, "hits", &n)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, writers, n)
		})
	}
}

func TestProfileKey(t *testing.T) {
	assert.Equal(t, "wardstone:profile:sess-1", ProfileKey("sess-1"))
}
