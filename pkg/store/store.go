// Package store provides the persistent key-value abstraction the detection
// engine runs on. Three backends implement the same contract: Redis (primary),
// Postgres, and an in-memory store for tests and embedded use.
//
// The engine's state lives under a handful of named keys (threat ledger,
// pattern list, per-session profiles, config). Plain Get/Set sequences on the
// same key are racy, so every mutation goes through Update, which serializes
// read-modify-write cycles per key.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Well-known keys. Per-session behavior profiles get their own key each so
// that write serialization is per session rather than global.
const (
	KeyThreats  = "wardstone:threats"
	KeyPatterns = "wardstone:patterns"
	KeyConfig   = "wardstone:config"

	profileKeyPrefix = "wardstone:profile:"
)

// ProfileKey returns the storage key for a session's behavior profile.
func ProfileKey(sessionID string) string {
	return profileKeyPrefix + sessionID
}

// UpdateFunc transforms the current value of a key into its next value.
// cur is nil when the key does not exist. Returning (nil, nil) deletes the key.
type UpdateFunc func(cur json.RawMessage) (json.RawMessage, error)

// KV is the persistent store contract consumed by every component.
type KV interface {
	// Get returns the values for the requested keys. Missing keys are simply
	// absent from the result map.
	Get(ctx context.Context, keys ...string) (map[string]json.RawMessage, error)

	// Set writes all entries. Values must already be valid JSON.
	Set(ctx context.Context, entries map[string]json.RawMessage) error

	// Remove deletes the given keys. Deleting a missing key is not an error.
	Remove(ctx context.Context, keys ...string) error

	// Update atomically applies fn to the value under key. Concurrent Update
	// calls against the same key never interleave.
	Update(ctx context.Context, key string, fn UpdateFunc) error
}

// GetJSON loads a single key and unmarshals it into out.
// Returns false without touching out when the key is absent.
func GetJSON(ctx context.Context, kv KV, key string, out any) (bool, error) {
	vals, err := kv.Get(ctx, key)
	if err != nil {
		return false, err
	}
	raw, ok := vals[key]
	if !ok || raw == nil {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("store: decode %s: %w", key, err)
	}
	return true, nil
}

// SetJSON marshals v and writes it under key.
func SetJSON(ctx context.Context, kv KV, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", key, err)
	}
	return kv.Set(ctx, map[string]json.RawMessage{key: raw})
}

// keyMutex hands out one mutex per key so backends can serialize
// read-modify-write cycles without a global lock.
type keyMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyMutex() *keyMutex {
	return &keyMutex{locks: make(map[string]*sync.Mutex)}
}

func (k *keyMutex) forKey(key string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	return m
}
