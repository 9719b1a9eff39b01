// Package locks provides named mutual-exclusion scopes.
//
// Each name is an independent FIFO lock: waiters on the same name acquire in the
// order they asked, waiters on different names never block each other. Locks are
// not reentrant; acquiring a name that the caller already holds deadlocks until
// the context is done.
package locks

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Well-known lock names.
const (
	Storage    = "storage"
	Extensions = "extensions"
	Alarms     = "alarms"
)

// Manager hands out named locks.
type Manager struct {
	mu    sync.Mutex
	named map[string]*semaphore.Weighted
}

// NewManager creates an empty lock manager.
func NewManager() *Manager {
	return &Manager{named: make(map[string]*semaphore.Weighted)}
}

func (m *Manager) sem(name string) *semaphore.Weighted {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.named[name]
	if !ok {
		s = semaphore.NewWeighted(1)
		m.named[name] = s
	}
	return s
}

// Acquire blocks until the named lock is held or ctx is done.
// The returned release func must be called exactly once.
func (m *Manager) Acquire(ctx context.Context, name string) (func(), error) {
	s := m.sem(name)
	if err := s.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire lock %q: %w", name, err)
	}
	var once sync.Once
	return func() { once.Do(func() { s.Release(1) }) }, nil
}

// Do runs fn while holding the named lock.
func (m *Manager) Do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	release, err := m.Acquire(ctx, name)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx)
}

// Request runs fn while holding the named lock and returns its result.
func Request[T any](ctx context.Context, m *Manager, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	release, err := m.Acquire(ctx, name)
	if err != nil {
		var zero T
		return zero, err
	}
	defer release()
	return fn(ctx)
}
