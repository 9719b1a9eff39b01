package chromium

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jonboulle/clockwork"

	"extwatch/internal/debug"
	"extwatch/internal/platform"
)

const (
	defaultDebounce = 500 * time.Millisecond
	eventBuffer     = 64
	prefsKey        = "\x00prefs"
)

// Watcher turns filesystem changes under a profile into lifecycle events.
//
// A package directory that appears or changes version becomes EventInstalled,
// one that disappears becomes EventUninstalled, and an id flipping to enabled in
// the preferences becomes EventEnabled. Bursts of writes are debounced per id.
type Watcher struct {
	profile  *Profile
	clock    clockwork.Clock
	debounce time.Duration
	events   chan platform.Event

	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	timers  map[string]clockwork.Timer
	known   map[string]string
	enabled map[string]bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets how long a path must be quiet before it is examined.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithWatcherClock sets the clock used for debouncing.
func WithWatcherClock(c clockwork.Clock) WatcherOption {
	return func(w *Watcher) {
		if c != nil {
			w.clock = c
		}
	}
}

// NewWatcher creates a watcher over profile.
func NewWatcher(profile *Profile, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		profile:  profile,
		clock:    clockwork.NewRealClock(),
		debounce: defaultDebounce,
		events:   make(chan platform.Event, eventBuffer),
		timers:   make(map[string]clockwork.Timer),
		known:    make(map[string]string),
		enabled:  make(map[string]bool),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Events is the stream of lifecycle events. It is never closed.
func (w *Watcher) Events() <-chan platform.Event {
	return w.events
}

// Start snapshots the profile, registers the watches and processes changes in
// the background until ctx is done.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(w.profile.ExtensionsDir()); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("watch %s: %w", w.profile.ExtensionsDir(), err)
	}
	if err := fsw.Add(w.profile.Dir()); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("watch %s: %w", w.profile.Dir(), err)
	}

	items, err := w.profile.GetAll(ctx)
	if err != nil {
		_ = fsw.Close()
		return err
	}
	w.mu.Lock()
	w.fsw = fsw
	for _, info := range items {
		w.known[info.ID] = info.Version
		w.addWatchLocked(filepath.Join(w.profile.ExtensionsDir(), info.ID))
	}
	w.enabled = w.profile.enabledStates()
	w.mu.Unlock()

	w.wg.Add(1)
	go w.loop(ctx)
	return nil
}

// Wait blocks until the watcher has stopped.
func (w *Watcher) Wait() {
	w.wg.Wait()
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	defer w.stop()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			debug.Warnf("watcher: %v", err)
		}
	}
}

func (w *Watcher) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	close(w.done)
	for key, t := range w.timers {
		t.Stop()
		delete(w.timers, key)
	}
	_ = w.fsw.Close()
}

func (w *Watcher) handle(ev fsnotify.Event) {
	extDir := w.profile.ExtensionsDir()
	parent := filepath.Dir(ev.Name)
	base := filepath.Base(ev.Name)

	switch {
	case parent == extDir:
		if base == stagingDirName {
			return
		}
		if ev.Has(fsnotify.Create) {
			w.mu.Lock()
			w.addWatchLocked(ev.Name)
			w.mu.Unlock()
		}
		w.schedule(base)
	case filepath.Dir(parent) == extDir:
		if filepath.Base(parent) == stagingDirName {
			return
		}
		if ev.Has(fsnotify.Create) {
			w.mu.Lock()
			w.addDirLocked(ev.Name)
			w.mu.Unlock()
		}
		w.schedule(filepath.Base(parent))
	case filepath.Dir(filepath.Dir(parent)) == extDir:
		if id := filepath.Base(filepath.Dir(parent)); id != stagingDirName {
			w.schedule(id)
		}
	case parent == w.profile.Dir() && isPreferences(base):
		w.schedule(prefsKey)
	}
}

func isPreferences(name string) bool {
	for _, p := range preferenceFiles {
		if name == p {
			return true
		}
	}
	return false
}

// addWatchLocked watches an id directory and the version directories already
// inside it, so manifests written after the directories appear are seen.
func (w *Watcher) addWatchLocked(idDir string) {
	w.addDirLocked(idDir)
	entries, err := os.ReadDir(idDir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() {
			w.addDirLocked(filepath.Join(idDir, entry.Name()))
		}
	}
}

func (w *Watcher) addDirLocked(dir string) {
	if err := w.fsw.Add(dir); err != nil && !errors.Is(err, fsnotify.ErrClosed) {
		debug.Logf("watcher: watch %s: %v", dir, err)
	}
}

func (w *Watcher) schedule(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	select {
	case <-w.done:
		return
	default:
	}
	if t, ok := w.timers[key]; ok {
		t.Stop()
	}
	w.timers[key] = w.clock.AfterFunc(w.debounce, func() { w.settle(key) })
}

func (w *Watcher) settle(key string) {
	w.mu.Lock()
	delete(w.timers, key)
	w.mu.Unlock()

	if key == prefsKey {
		w.settlePreferences()
		return
	}
	w.settleID(key)
}

func (w *Watcher) settleID(id string) {
	info, err := w.profile.Get(context.Background(), id)

	w.mu.Lock()
	prev, had := w.known[id]
	var ev *platform.Event
	switch {
	case err == nil:
		if !had || prev != info.Version {
			w.known[id] = info.Version
			ev = &platform.Event{Kind: platform.EventInstalled, ID: id}
		}
	case errors.Is(err, ErrNotInstalled):
		if had {
			delete(w.known, id)
			delete(w.enabled, id)
			ev = &platform.Event{Kind: platform.EventUninstalled, ID: id}
		}
	default:
		debug.Logf("watcher: %s not readable yet: %v", id, err)
	}
	w.mu.Unlock()

	if ev != nil {
		w.emit(*ev)
	}
}

func (w *Watcher) settlePreferences() {
	states := w.profile.enabledStates()

	w.mu.Lock()
	var flipped []string
	for id, on := range states {
		if _, installed := w.known[id]; !installed {
			continue
		}
		if was, seen := w.enabled[id]; on && seen && !was {
			flipped = append(flipped, id)
		}
	}
	w.enabled = states
	w.mu.Unlock()

	for _, id := range flipped {
		w.emit(platform.Event{Kind: platform.EventEnabled, ID: id})
	}
}

func (w *Watcher) emit(ev platform.Event) {
	debug.Logf("watcher: %s %s", ev.Kind, ev.ID)
	select {
	case w.events <- ev:
	case <-w.done:
	}
}
