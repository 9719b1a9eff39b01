// Package storage persists the daemon's state as JSON values under string keys.
//
// Backends only move bytes. Store layers the locking discipline on top: every
// backend access runs under the "storage" lock, and read-modify-write helpers
// additionally hold a logical lock such as "extensions" for the whole cycle.
package storage

import (
	"context"
	"encoding/json"
	"sync"
)

// Backend is a durable key/value primitive.
type Backend interface {
	// Get returns the stored values for keys. Missing keys are absent from the
	// result. With no keys every stored value is returned.
	Get(ctx context.Context, keys ...string) (map[string]json.RawMessage, error)
	// Set writes all values atomically.
	Set(ctx context.Context, values map[string]json.RawMessage) error
	Close() error
}

// MemoryBackend keeps values in process memory. Used by tests and --ephemeral runs.
type MemoryBackend struct {
	mu     sync.Mutex
	values map[string]json.RawMessage
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{values: make(map[string]json.RawMessage)}
}

func (b *MemoryBackend) Get(_ context.Context, keys ...string) (map[string]json.RawMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string]json.RawMessage)
	if len(keys) == 0 {
		for k, v := range b.values {
			out[k] = cloneRaw(v)
		}
		return out, nil
	}
	for _, k := range keys {
		if v, ok := b.values[k]; ok {
			out[k] = cloneRaw(v)
		}
	}
	return out, nil
}

func (b *MemoryBackend) Set(_ context.Context, values map[string]json.RawMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k, v := range values {
		b.values[k] = cloneRaw(v)
	}
	return nil
}

func (b *MemoryBackend) Close() error { return nil }

func cloneRaw(v json.RawMessage) json.RawMessage {
	if v == nil {
		return nil
	}
	return append(json.RawMessage(nil), v...)
}
