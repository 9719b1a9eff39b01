// Package router dispatches host events and inbound messages to the update core.
//
// Every event runs in its own goroutine, so handlers for overlapping events
// interleave and rely on the store locks for consistency. Handler errors and
// panics are logged; they never stop the router.
package router

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"extwatch/internal/debug"
	"extwatch/internal/platform"
	"extwatch/internal/storage"
	"extwatch/internal/update"
)

// Setup reasons.
const (
	SetupOnStartup = "startup"
	SetupOnEnabled = "enabled"
)

// ErrNoEndpoint answers a message with an unknown action.
var ErrNoEndpoint = errors.New("No endpoint.")

// Handlers are the operations the router dispatches to. A nil handler makes the
// matching event a no-op.
type Handlers struct {
	Setup             func(ctx context.Context, reason string) error
	Refresh           func(ctx context.Context, id string, installed bool) error
	Remove            func(ctx context.Context, id string) error
	CheckForUpdates   func(ctx context.Context, manual bool) error
	Update            func(ctx context.Context, id string) error
	Install           func(ctx context.Context, storeURL string) error
	OnDownloadTimeout func(ctx context.Context, tid platform.TransferID) error
	OnPendingTimeout  func(ctx context.Context, id string) error
	RefreshBadge      func(ctx context.Context) error
}

// Router routes events to Handlers.
type Router struct {
	handlers Handlers
	selfID   string
	wg       conc.WaitGroup
}

// New creates a router. selfID identifies the monitor's own package so its
// enable event triggers Setup instead of a refresh.
func New(handlers Handlers, selfID string) *Router {
	return &Router{handlers: handlers, selfID: selfID}
}

// Run dispatches events until ctx is done or events is closed. Each event is
// handled on its own goroutine; call Wait to drain them.
func (r *Router) Run(ctx context.Context, events <-chan platform.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			r.Go(ctx, ev)
		}
	}
}

// Go handles ev in the background.
func (r *Router) Go(ctx context.Context, ev platform.Event) {
	r.wg.Go(func() {
		if err := r.Dispatch(ctx, ev); err != nil {
			debug.Warnf("router: %s %s: %v", ev.Kind, eventTarget(ev), err)
		}
	})
}

// Wait blocks until every in-flight handler has returned.
func (r *Router) Wait() {
	r.wg.Wait()
}

// Dispatch handles ev synchronously. A panicking handler is reported as an error.
func (r *Router) Dispatch(ctx context.Context, ev platform.Event) error {
	return guard(fmt.Sprintf("%s %s", ev.Kind, eventTarget(ev)), func() error {
		return r.dispatch(ctx, ev)
	})
}

func (r *Router) dispatch(ctx context.Context, ev platform.Event) error {
	h := r.handlers
	switch ev.Kind {
	case platform.EventStartup:
		return call(h.Setup != nil, func() error { return h.Setup(ctx, SetupOnStartup) })
	case platform.EventInstalled:
		return call(h.Refresh != nil, func() error { return h.Refresh(ctx, ev.ID, true) })
	case platform.EventUninstalled:
		return call(h.Remove != nil, func() error { return h.Remove(ctx, ev.ID) })
	case platform.EventEnabled:
		if r.selfID != "" && ev.ID == r.selfID {
			return call(h.Setup != nil, func() error { return h.Setup(ctx, SetupOnEnabled) })
		}
		return call(h.Refresh != nil, func() error { return h.Refresh(ctx, ev.ID, true) })
	case platform.EventAlarm:
		return r.alarm(ctx, ev.Name)
	case platform.EventStorageChanged:
		if slices.Contains(ev.Keys, storage.KeyExtensions) {
			return call(h.RefreshBadge != nil, func() error { return h.RefreshBadge(ctx) })
		}
		return nil
	default:
		debug.Logf("router: ignoring event %q", ev.Kind)
		return nil
	}
}

func (r *Router) alarm(ctx context.Context, name string) error {
	h := r.handlers
	kind, target := update.ParseAlarm(name)
	switch kind {
	case update.AlarmCheck:
		return call(h.CheckForUpdates != nil, func() error { return h.CheckForUpdates(ctx, false) })
	case update.AlarmDownloadTimeout:
		return call(h.OnDownloadTimeout != nil, func() error {
			return h.OnDownloadTimeout(ctx, platform.TransferID(target))
		})
	case update.AlarmPendingTimeout:
		return call(h.OnPendingTimeout != nil, func() error { return h.OnPendingTimeout(ctx, target) })
	default:
		debug.Logf("router: ignoring alarm %q", name)
		return nil
	}
}

// HandleMessage answers msg synchronously.
func (r *Router) HandleMessage(ctx context.Context, msg platform.Message) platform.Response {
	h := r.handlers
	var err error
	switch msg.Action {
	case platform.ActionCheckUpdates:
		err = guard(msg.Action, func() error {
			return call(h.CheckForUpdates != nil, func() error { return h.CheckForUpdates(ctx, true) })
		})
	case platform.ActionUpdateExt:
		err = guard(msg.Action, func() error {
			return call(h.Update != nil, func() error { return h.Update(ctx, msg.Args.ID) })
		})
	case platform.ActionInstallExt:
		err = guard(msg.Action, func() error {
			return call(h.Install != nil, func() error { return h.Install(ctx, msg.Args.URL) })
		})
	default:
		err = ErrNoEndpoint
	}
	if err != nil {
		debug.Warnf("router: message %q: %v", msg.Action, err)
		return platform.Fail(err)
	}
	return platform.OK()
}

func call(ok bool, fn func() error) error {
	if !ok {
		return nil
	}
	return fn()
}

// guard runs fn and turns a panic into an error.
func guard(what string, fn func() error) error {
	var err error
	var pc panics.Catcher
	pc.Try(func() { err = fn() })
	if rec := pc.Recovered(); rec != nil {
		debug.Errorf("router: panic in %s: %s", what, rec.String())
		return fmt.Errorf("panic in %s: %v", what, rec.Value)
	}
	return err
}

func eventTarget(ev platform.Event) string {
	switch {
	case ev.ID != "":
		return ev.ID
	case ev.Name != "":
		return ev.Name
	default:
		return ""
	}
}
