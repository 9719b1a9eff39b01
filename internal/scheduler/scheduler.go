// Package scheduler runs named delayed and periodic tasks.
//
// Scheduling a name that already exists replaces it. A task that fires after it
// was replaced or cancelled is dropped.
package scheduler

import (
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Func is invoked with the task name when it fires. It runs on its own goroutine.
type Func func(name string)

// Task describes a scheduled entry.
type Task struct {
	Name   string
	Due    time.Time
	Period time.Duration
}

type entry struct {
	task  Task
	timer clockwork.Timer
	fn    Func
	seq   uint64
}

// Scheduler keeps at most one pending timer per name.
type Scheduler struct {
	clock clockwork.Clock

	mu      sync.Mutex
	seq     uint64
	entries map[string]*entry
	stopped bool
}

// New creates a scheduler on clock. A nil clock uses the real one.
func New(clock clockwork.Clock) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Scheduler{clock: clock, entries: make(map[string]*entry)}
}

// Clock returns the scheduler's clock.
func (s *Scheduler) Clock() clockwork.Clock {
	return s.clock
}

// Schedule runs fn after delay, then every period if period > 0.
func (s *Scheduler) Schedule(name string, delay, period time.Duration, fn Func) Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.entries[name]; ok {
		old.timer.Stop()
		delete(s.entries, name)
	}
	if s.stopped {
		return Task{}
	}
	if delay < 0 {
		delay = 0
	}
	return s.arm(name, delay, period, fn)
}

// arm registers a timer. Caller holds s.mu.
func (s *Scheduler) arm(name string, delay, period time.Duration, fn Func) Task {
	s.seq++
	e := &entry{
		task: Task{Name: name, Due: s.clock.Now().Add(delay), Period: period},
		fn:   fn,
		seq:  s.seq,
	}
	seq := e.seq
	e.timer = s.clock.AfterFunc(delay, func() { s.fire(name, seq) })
	s.entries[name] = e
	return e.task
}

func (s *Scheduler) fire(name string, seq uint64) {
	s.mu.Lock()
	e, ok := s.entries[name]
	if !ok || e.seq != seq || s.stopped {
		s.mu.Unlock()
		return
	}
	delete(s.entries, name)
	if e.task.Period > 0 {
		s.arm(name, e.task.Period, e.task.Period, e.fn)
	}
	fn := e.fn
	s.mu.Unlock()

	fn(name)
}

// Cancel removes a pending task. Returns false if nothing was scheduled under name.
func (s *Scheduler) Cancel(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(s.entries, name)
	return true
}

// Get returns the pending task for name.
func (s *Scheduler) Get(name string) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return Task{}, false
	}
	return e.task, true
}

// Tasks lists pending tasks ordered by name.
func (s *Scheduler) Tasks() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Task, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.task)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Stop cancels everything and rejects new tasks.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, e := range s.entries {
		e.timer.Stop()
		delete(s.entries, name)
	}
	s.stopped = true
}
