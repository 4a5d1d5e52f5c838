package store

import (
	"context"
	"encoding/json"
	"sync"
)

// Memory is an in-process KV backend. It is the default for tests and for
// embedding the engine into another process without external dependencies.
type Memory struct {
	mu    sync.RWMutex
	data  map[string]json.RawMessage
	locks *keyMutex
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		data:  make(map[string]json.RawMessage),
		locks: newKeyMutex(),
	}
}

func (m *Memory) Get(ctx context.Context, keys ...string) (map[string]json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]json.RawMessage, len(keys))
	for _, k := range keys {
		if v, ok := m.data[k]; ok {
			cp := make(json.RawMessage, len(v))
			copy(cp, v)
			out[k] = cp
		}
	}
	return out, nil
}

func (m *Memory) Set(ctx context.Context, entries map[string]json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for k, v := range entries {
		cp := make(json.RawMessage, len(v))
		copy(cp, v)
		m.data[k] = cp
	}
	return nil
}

func (m *Memory) Remove(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *Memory) Update(ctx context.Context, key string, fn UpdateFunc) error {
	lock := m.locks.forKey(key)
	lock.Lock()
	defer lock.Unlock()

	vals, err := m.Get(ctx, key)
	if err != nil {
		return err
	}
	next, err := fn(vals[key])
	if err != nil {
		return err
	}
	if next == nil {
		return m.Remove(ctx, key)
	}
	return m.Set(ctx, map[string]json.RawMessage{key: next})
}
