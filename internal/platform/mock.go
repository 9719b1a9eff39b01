package platform

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrMockNotImplemented is returned when a mock method lacks an override.
var ErrMockNotImplemented = errors.New("platform mock: method not implemented")

// MockManagement is a test double for Management.
type MockManagement struct {
	GetFn    func(context.Context, string) (ExtensionInfo, error)
	GetAllFn func(context.Context) ([]ExtensionInfo, error)
	Self     string

	mu              sync.Mutex
	GetCallCount    int
	GetAllCallCount int
	GetCallArgs     []string
}

// NewMockManagement returns a MockManagement serving a fixed inventory.
// Get and GetAll read from items unless overridden.
func NewMockManagement(items ...ExtensionInfo) *MockManagement {
	m := &MockManagement{}
	m.SetItems(items...)
	return m
}

// SetItems replaces the fixed inventory returned by Get and GetAll.
func (m *MockManagement) SetItems(items ...ExtensionInfo) {
	copied := append([]ExtensionInfo(nil), items...)
	m.GetAllFn = func(context.Context) ([]ExtensionInfo, error) {
		return append([]ExtensionInfo(nil), copied...), nil
	}
	m.GetFn = func(_ context.Context, id string) (ExtensionInfo, error) {
		for _, item := range copied {
			if item.ID == id {
				return item, nil
			}
		}
		return ExtensionInfo{}, fmt.Errorf("no extension with id %q", id)
	}
}

// Get invokes the configured stub or returns ErrMockNotImplemented.
func (m *MockManagement) Get(ctx context.Context, id string) (ExtensionInfo, error) {
	m.mu.Lock()
	m.GetCallCount++
	m.GetCallArgs = append(m.GetCallArgs, id)
	fn := m.GetFn
	m.mu.Unlock()

	if fn == nil {
		return ExtensionInfo{}, ErrMockNotImplemented
	}
	return fn(ctx, id)
}

// GetAll invokes the configured stub or returns ErrMockNotImplemented.
func (m *MockManagement) GetAll(ctx context.Context) ([]ExtensionInfo, error) {
	m.mu.Lock()
	m.GetAllCallCount++
	fn := m.GetAllFn
	m.mu.Unlock()

	if fn == nil {
		return nil, ErrMockNotImplemented
	}
	return fn(ctx)
}

// SelfID returns Self.
func (m *MockManagement) SelfID() string {
	return m.Self
}

// MockDownloads is a test double for Downloads. Tests drive transfers with Emit.
type MockDownloads struct {
	// DownloadFn overrides Download. The default hands out ids "t1", "t2", ...
	DownloadFn func(context.Context, string) (TransferID, error)
	CancelFn   func(context.Context, TransferID) error

	mu                sync.Mutex
	next              int
	subs              map[int]*mockSub
	nextSub           int
	DownloadCallCount int
	DownloadCallArgs  []string
	CancelCallArgs    []TransferID
	EraseCallArgs     []TransferID
}

type mockSub struct {
	ch   chan TransferDelta
	done chan struct{}
}

// NewMockDownloads returns a MockDownloads with default id allocation.
func NewMockDownloads() *MockDownloads {
	return &MockDownloads{subs: make(map[int]*mockSub)}
}

// Download records the call and returns an id.
func (m *MockDownloads) Download(ctx context.Context, url string) (TransferID, error) {
	m.mu.Lock()
	m.DownloadCallCount++
	m.DownloadCallArgs = append(m.DownloadCallArgs, url)
	m.next++
	id := TransferID(fmt.Sprintf("t%d", m.next))
	fn := m.DownloadFn
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, url)
	}
	return id, nil
}

// Subscribe registers a delta subscriber.
func (m *MockDownloads) Subscribe() (<-chan TransferDelta, func()) {
	m.mu.Lock()
	if m.subs == nil {
		m.subs = make(map[int]*mockSub)
	}
	id := m.nextSub
	m.nextSub++
	sub := &mockSub{ch: make(chan TransferDelta), done: make(chan struct{})}
	m.subs[id] = sub
	m.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
			close(sub.done)
		})
	}
}

// Subscribers reports how many subscriptions are open.
func (m *MockDownloads) Subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

// Emit delivers delta to every subscriber, blocking until each has received it
// or unsubscribed.
func (m *MockDownloads) Emit(delta TransferDelta) {
	m.mu.Lock()
	subs := make([]*mockSub, 0, len(m.subs))
	for _, s := range m.subs {
		subs = append(subs, s)
	}
	m.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- delta:
		case <-s.done:
		}
	}
}

// Cancel records the call and emits an interrupted delta for id unless CancelFn overrides it.
func (m *MockDownloads) Cancel(ctx context.Context, id TransferID) error {
	m.mu.Lock()
	m.CancelCallArgs = append(m.CancelCallArgs, id)
	fn := m.CancelFn
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, id)
	}
	go m.Emit(TransferDelta{ID: id, State: TransferInterrupted, Error: "USER_CANCELED"})
	return nil
}

// Erase records the call.
func (m *MockDownloads) Erase(_ context.Context, id TransferID) error {
	m.mu.Lock()
	m.EraseCallArgs = append(m.EraseCallArgs, id)
	m.mu.Unlock()
	return nil
}

// MockAlarms is an in-memory Alarms that never fires on its own.
type MockAlarms struct {
	CreateErr error

	mu             sync.Mutex
	alarms         map[string]Alarm
	CreateCallArgs []string
	ClearCallArgs  []string
}

// NewMockAlarms returns an empty MockAlarms.
func NewMockAlarms() *MockAlarms {
	return &MockAlarms{alarms: make(map[string]Alarm)}
}

// Create records the alarm.
func (m *MockAlarms) Create(_ context.Context, name string, info AlarmInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CreateCallArgs = append(m.CreateCallArgs, name)
	if m.CreateErr != nil {
		return m.CreateErr
	}
	if m.alarms == nil {
		m.alarms = make(map[string]Alarm)
	}
	m.alarms[name] = Alarm{Name: name, ScheduledTime: time.Now().Add(info.Delay), Period: info.Period}
	return nil
}

// Get returns a recorded alarm.
func (m *MockAlarms) Get(_ context.Context, name string) (Alarm, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alarms[name]
	return a, ok, nil
}

// Clear removes a recorded alarm.
func (m *MockAlarms) Clear(_ context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ClearCallArgs = append(m.ClearCallArgs, name)
	_, ok := m.alarms[name]
	delete(m.alarms, name)
	return ok, nil
}

// Names lists the currently recorded alarms in sorted order.
func (m *MockAlarms) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.alarms))
	for name := range m.alarms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Has reports whether name is currently recorded.
func (m *MockAlarms) Has(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.alarms[name]
	return ok
}

// CreateCount counts Create calls for name.
func (m *MockAlarms) CreateCount(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.CreateCallArgs {
		if c == name {
			n++
		}
	}
	return n
}

// StaticHostInfo returns a fixed product version or error.
type StaticHostInfo struct {
	Version string
	Err     error
}

// ProductVersion implements HostInfo.
func (h StaticHostInfo) ProductVersion(context.Context) (string, error) {
	return h.Version, h.Err
}

// RecordingBadgeSink keeps every badge it was given.
type RecordingBadgeSink struct {
	mu     sync.Mutex
	Badges []Badge
}

// SetBadge implements BadgeSink.
func (r *RecordingBadgeSink) SetBadge(_ context.Context, badge Badge) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Badges = append(r.Badges, badge)
	return nil
}

// Last returns the most recent badge.
func (r *RecordingBadgeSink) Last() (Badge, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Badges) == 0 {
		return Badge{}, false
	}
	return r.Badges[len(r.Badges)-1], true
}

// Count returns how many badges were set.
func (r *RecordingBadgeSink) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Badges)
}
