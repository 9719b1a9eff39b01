package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"extwatch/internal/domain"
	appErrors "extwatch/internal/errors"
	"extwatch/internal/locks"
)

// Well-known keys.
const (
	KeyExtensions = "extensions"
	KeyAlarms     = "alarms"
)

// ErrSkipWrite may be returned by an update func to end the cycle without writing.
var ErrSkipWrite = errors.New("storage: skip write")

// ChangeListener receives the keys whose stored bytes changed in one Set.
type ChangeListener func(keys []string)

// Store wraps a Backend with the locking and change-notification contract.
type Store struct {
	backend Backend
	locks   *locks.Manager

	mu        sync.Mutex
	nextID    int
	listeners map[int]ChangeListener
}

// New creates a store over backend. A nil lock manager gets a private one.
func New(backend Backend, lm *locks.Manager) *Store {
	if lm == nil {
		lm = locks.NewManager()
	}
	return &Store{
		backend:   backend,
		locks:     lm,
		listeners: make(map[int]ChangeListener),
	}
}

// Locks exposes the lock manager shared by everything that mutates this store.
func (s *Store) Locks() *locks.Manager {
	return s.locks
}

// Close closes the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

// OnChanged registers fn for change notifications and returns an unsubscribe func.
// Listeners run synchronously after the write completes and must not block.
func (s *Store) OnChanged(fn ChangeListener) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Get reads raw values. With no keys every stored value is returned.
func (s *Store) Get(ctx context.Context, keys ...string) (map[string]json.RawMessage, error) {
	values, err := locks.Request(ctx, s.locks, locks.Storage, func(ctx context.Context) (map[string]json.RawMessage, error) {
		return s.backend.Get(ctx, keys...)
	})
	if err != nil {
		return nil, storageError("read state", err)
	}
	return values, nil
}

// GetInto decodes key into dst. Returns false when the key is absent.
func (s *Store) GetInto(ctx context.Context, key string, dst any) (bool, error) {
	values, err := s.Get(ctx, key)
	if err != nil {
		return false, err
	}
	raw, ok := values[key]
	if !ok || len(raw) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, storageError(fmt.Sprintf("decode %q", key), err)
	}
	return true, nil
}

// Set encodes and writes values in one backend batch.
func (s *Store) Set(ctx context.Context, values map[string]any) error {
	encoded := make(map[string]json.RawMessage, len(values))
	for key, value := range values {
		raw, err := json.Marshal(value)
		if err != nil {
			return storageError(fmt.Sprintf("encode %q", key), err)
		}
		encoded[key] = raw
	}
	return s.SetRaw(ctx, encoded)
}

// SetRaw writes pre-encoded values in one backend batch.
func (s *Store) SetRaw(ctx context.Context, values map[string]json.RawMessage) error {
	if len(values) == 0 {
		return nil
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	changed, err := locks.Request(ctx, s.locks, locks.Storage, func(ctx context.Context) ([]string, error) {
		previous, err := s.backend.Get(ctx, keys...)
		if err != nil {
			return nil, err
		}
		if err := s.backend.Set(ctx, values); err != nil {
			return nil, err
		}
		var changed []string
		for _, k := range keys {
			if old, ok := previous[k]; !ok || !bytes.Equal(old, values[k]) {
				changed = append(changed, k)
			}
		}
		return changed, nil
	})
	if err != nil {
		return storageError("write state", err)
	}
	if len(changed) > 0 {
		s.notify(changed)
	}
	return nil
}

func (s *Store) notify(keys []string) {
	s.mu.Lock()
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	listeners := make([]ChangeListener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, s.listeners[id])
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(append([]string(nil), keys...))
	}
}

// UpdateKey runs a read-modify-write cycle on key while holding lockName.
// fn receives the decoded current value (zero if absent) and mutates it in place.
// Returning an error from fn abandons the write; ErrSkipWrite does so without
// reporting an error.
func UpdateKey[T any](ctx context.Context, s *Store, lockName, key string, fn func(*T) error) (T, error) {
	return locks.Request(ctx, s.locks, lockName, func(ctx context.Context) (T, error) {
		var value T
		if _, err := s.GetInto(ctx, key, &value); err != nil {
			return value, err
		}
		if err := fn(&value); err != nil {
			if errors.Is(err, ErrSkipWrite) {
				return value, nil
			}
			return value, err
		}
		if err := s.Set(ctx, map[string]any{key: value}); err != nil {
			return value, err
		}
		return value, nil
	})
}

// Extensions returns a snapshot of the tracked extensions.
func (s *Store) Extensions(ctx context.Context) (domain.Extensions, error) {
	exts := domain.Extensions{}
	if _, err := s.GetInto(ctx, KeyExtensions, &exts); err != nil {
		return nil, err
	}
	for id, ext := range exts {
		ext.Normalize()
		exts[id] = ext
	}
	return exts, nil
}

// UpdateExtensions runs fn on the tracked extensions under the "extensions" lock and
// persists the result. fn may add, change or delete entries in place.
func (s *Store) UpdateExtensions(ctx context.Context, fn func(domain.Extensions) error) (domain.Extensions, error) {
	return locks.Request(ctx, s.locks, locks.Extensions, func(ctx context.Context) (domain.Extensions, error) {
		exts, err := s.Extensions(ctx)
		if err != nil {
			return nil, err
		}
		if err := fn(exts); err != nil {
			if errors.Is(err, ErrSkipWrite) {
				return exts, nil
			}
			return nil, err
		}
		if err := s.Set(ctx, map[string]any{KeyExtensions: exts}); err != nil {
			return nil, err
		}
		return exts, nil
	})
}

func storageError(msg string, err error) error {
	return appErrors.New(appErrors.CodeStorage, fmt.Sprintf("%s: %v", msg, err), err)
}
