package locks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestDoSerializesSameName(t *testing.T) {
	m := NewManager()
	ctx := context.Background()

	var (
		mu      sync.Mutex
		active  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.Do(ctx, Extensions, func(context.Context) error {
				mu.Lock()
				active++
				if active > maxSeen {
					maxSeen = active
				}
				mu.Unlock()
				time.Sleep(time.Millisecond)
				mu.Lock()
				active--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Fatalf("expected at most one holder, saw %d", maxSeen)
	}
}

func TestAcquireIsFIFO(t *testing.T) {
	m := NewManager()
	ctx := context.Background()

	release, err := m.Acquire(ctx, Storage)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_ = m.Do(ctx, Storage, func(context.Context) error {
				mu.Lock()
				order = append(order, n)
				mu.Unlock()
				return nil
			})
		}(i)
		// Give each waiter time to enqueue before starting the next.
		time.Sleep(20 * time.Millisecond)
	}

	release()
	wg.Wait()

	for i, n := range order {
		if n != i {
			t.Fatalf("acquisition order = %v, want ascending", order)
		}
	}
}

func TestDifferentNamesDoNotBlock(t *testing.T) {
	m := NewManager()
	ctx := context.Background()

	release, err := m.Acquire(ctx, Extensions)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer release()

	done := make(chan struct{})
	go func() {
		_ = m.Do(ctx, Storage, func(context.Context) error { return nil })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("storage lock blocked behind extensions lock")
	}
}

func TestAcquireRespectsContext(t *testing.T) {
	m := NewManager()
	release, err := m.Acquire(context.Background(), Alarms)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := m.Acquire(ctx, Alarms); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestRequestReturnsValueAndReleases(t *testing.T) {
	m := NewManager()
	ctx := context.Background()

	got, err := Request(ctx, m, Extensions, func(context.Context) (int, error) { return 42, nil })
	if err != nil || got != 42 {
		t.Fatalf("Request = %d, %v", got, err)
	}

	wantErr := errors.New("boom")
	if _, err := Request(ctx, m, Extensions, func(context.Context) (string, error) { return "", wantErr }); !errors.Is(err, wantErr) {
		t.Fatalf("expected fn error, got %v", err)
	}

	// Lock must be free again.
	release, err := m.Acquire(ctx, Extensions)
	if err != nil {
		t.Fatalf("Acquire after Request: %v", err)
	}
	release()
	release()
}
