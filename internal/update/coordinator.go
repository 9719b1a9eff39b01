package update

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"extwatch/internal/debug"
	"extwatch/internal/domain"
	appErrors "extwatch/internal/errors"
	"extwatch/internal/platform"
	"extwatch/internal/storage"
	"extwatch/internal/version"
)

// Transfer outcomes reported to a TransferRecorder.
const (
	OutcomeComplete    = "complete"
	OutcomeInterrupted = "interrupted"
	OutcomeFailed      = "failed"
)

// TransferRecorder observes finished transfers.
type TransferRecorder interface {
	RecordTransfer(outcome string, elapsed time.Duration)
}

// Coordinator drives the per-extension update state machine:
// idling -> downloading -> updating -> idling.
type Coordinator struct {
	store     *storage.Store
	inventory *Inventory
	mgmt      platform.Management
	downloads platform.Downloads
	alarms    platform.Alarms
	host      platform.HostInfo

	downloadTimeout time.Duration
	confirmTimeout  time.Duration
	recorder        TransferRecorder
	clock           clockwork.Clock
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithDownloadTimeout sets how long a transfer may run before it is cancelled.
func WithDownloadTimeout(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if d > 0 {
			c.downloadTimeout = d
		}
	}
}

// WithConfirmTimeout sets how long to wait for the browser to confirm an install.
func WithConfirmTimeout(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) {
		if d > 0 {
			c.confirmTimeout = d
		}
	}
}

// WithTransferRecorder reports each finished transfer to r.
func WithTransferRecorder(r TransferRecorder) CoordinatorOption {
	return func(c *Coordinator) {
		c.recorder = r
	}
}

// WithCoordinatorClock overrides the clock used to time transfers.
func WithCoordinatorClock(clock clockwork.Clock) CoordinatorOption {
	return func(c *Coordinator) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// NewCoordinator creates a coordinator. inventory is used to reconcile entries
// whose install is observed immediately after download.
func NewCoordinator(store *storage.Store, inventory *Inventory, mgmt platform.Management, downloads platform.Downloads, alarms platform.Alarms, host platform.HostInfo, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		store:           store,
		inventory:       inventory,
		mgmt:            mgmt,
		downloads:       downloads,
		alarms:          alarms,
		host:            host,
		downloadTimeout: DefaultDownloadTimeout,
		confirmTimeout:  DefaultConfirmTimeout,
		clock:           clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Update downloads the discovered update for id and waits for the browser to take it.
//
// The entry is marked downloading and persisted before the transfer starts, so a
// concurrent Update for the same id fails with AlreadyInProgress. Any failure
// returns the entry to idling.
func (c *Coordinator) Update(ctx context.Context, id string) error {
	var target domain.TrackedExtension
	_, err := c.store.UpdateExtensions(ctx, func(exts domain.Extensions) error {
		ext, ok := exts[id]
		if !ok {
			return appErrors.New(appErrors.CodeNotFound, fmt.Sprintf("Id %q not in storage.", id), nil)
		}
		if ext.Pending() {
			return appErrors.New(appErrors.CodeAlreadyInProgress, fmt.Sprintf("Id %q is already %s.", id, ext.State), nil)
		}
		if !ext.HasUpdate() {
			return appErrors.New(appErrors.CodeNoUpdateAvailable, fmt.Sprintf("No update found for %q.", ext.DisplayName()), nil)
		}
		if err := ext.TransitionTo(domain.StateDownloading); err != nil {
			return err
		}
		exts[id] = ext
		target = ext
		return nil
	})
	if err != nil {
		return err
	}
	debug.Infof("update %s: %s -> %s", id, target.Version, target.NewVersion)

	downloadURL := c.resolveURL(ctx, target)
	if err := c.Transfer(ctx, downloadURL); err != nil {
		debug.Warnf("update %s: %v", id, err)
		if _, revertErr := c.transition(context.WithoutCancel(ctx), id, domain.StateDownloading, domain.StateIdling); revertErr != nil {
			debug.Errorf("update %s: revert to idling: %v", id, revertErr)
		}
		return err
	}

	// The package is on disk; finishing the state change must not depend on the caller.
	finishCtx := context.WithoutCancel(ctx)
	moved, err := c.transition(finishCtx, id, domain.StateDownloading, domain.StateUpdating)
	if err != nil {
		debug.Errorf("update %s: mark updating: %v", id, err)
		if _, revertErr := c.transition(finishCtx, id, domain.StateDownloading, domain.StateIdling); revertErr != nil {
			debug.Errorf("update %s: revert to idling: %v", id, revertErr)
		}
		return err
	}
	if !moved {
		// Already reconciled by an install event while the transfer finished.
		return nil
	}

	if c.liveVersionMatches(finishCtx, id, target.NewVersion) {
		return c.inventory.Refresh(finishCtx, id, true)
	}
	if err := c.alarms.Create(finishCtx, PendingTimeoutAlarm(id), platform.AlarmInfo{Delay: c.confirmTimeout}); err != nil {
		debug.Warnf("update %s: schedule confirmation timeout: %v", id, err)
	}
	return nil
}

// Install downloads an extension from its store page URL.
func (c *Coordinator) Install(ctx context.Context, storeURL string) error {
	listing, err := ParseStoreURL(storeURL)
	if err != nil {
		return err
	}
	prodVersion, err := c.host.ProductVersion(ctx)
	if err != nil {
		return appErrors.New(appErrors.CodePlatformUnavailable, fmt.Sprintf("resolve browser version: %v", err), err)
	}
	installURL, err := InstallURL(listing.Hostname, listing.ID, prodVersion)
	if err != nil {
		return err
	}
	debug.Infof("install %s (%s) from %s", listing.Name, listing.ID, listing.Hostname)
	return c.Transfer(ctx, installURL)
}

// Transfer downloads url and waits for the transfer to finish.
//
// A timeout alarm is registered for the transfer; when it fires OnDownloadTimeout
// cancels the transfer, which surfaces here as TransferInterrupted. The alarm
// and the transfer record are cleaned up on every path.
func (c *Coordinator) Transfer(ctx context.Context, url string) error {
	started := c.clock.Now()
	outcome := OutcomeFailed
	defer func() {
		if c.recorder != nil {
			c.recorder.RecordTransfer(outcome, c.clock.Since(started))
		}
	}()

	deltas, unsubscribe := c.downloads.Subscribe()
	defer unsubscribe()

	tid, err := c.downloads.Download(ctx, url)
	if err != nil {
		return appErrors.New(appErrors.CodeNetworkFailure, fmt.Sprintf("start download: %v", err), err)
	}
	if tid == "" {
		return appErrors.New(appErrors.CodeTransferInterrupted, "Download did not return an Id.", nil)
	}

	cleanupCtx := context.WithoutCancel(ctx)
	alarm := DownloadTimeoutAlarm(tid)
	defer func() {
		if _, clearErr := c.alarms.Clear(cleanupCtx, alarm); clearErr != nil {
			debug.Warnf("clear %s: %v", alarm, clearErr)
		}
		if eraseErr := c.downloads.Erase(cleanupCtx, tid); eraseErr != nil {
			debug.Warnf("erase transfer %s: %v", tid, eraseErr)
		}
	}()

	if err := c.alarms.Create(ctx, alarm, platform.AlarmInfo{Delay: c.downloadTimeout}); err != nil {
		_ = c.downloads.Cancel(cleanupCtx, tid)
		return fmt.Errorf("schedule download timeout: %w", err)
	}

	for {
		select {
		case delta, ok := <-deltas:
			if !ok {
				return appErrors.New(appErrors.CodeTransferInterrupted, "Download subscription closed.", nil)
			}
			if delta.ID != tid {
				continue
			}
			switch delta.State {
			case platform.TransferComplete:
				outcome = OutcomeComplete
				debug.Logf("transfer %s complete: %s", tid, delta.Filename)
				return nil
			case platform.TransferInterrupted:
				outcome = OutcomeInterrupted
				msg := "Download interrupted."
				if delta.Error != "" {
					msg = fmt.Sprintf("Download interrupted (%s).", delta.Error)
				}
				return appErrors.New(appErrors.CodeTransferInterrupted, msg, nil)
			}
		case <-ctx.Done():
			outcome = OutcomeInterrupted
			_ = c.downloads.Cancel(cleanupCtx, tid)
			return appErrors.New(appErrors.CodeTransferInterrupted, "Download cancelled.", ctx.Err())
		}
	}
}

// OnDownloadTimeout cancels a transfer that outlived its timeout alarm.
func (c *Coordinator) OnDownloadTimeout(ctx context.Context, tid platform.TransferID) error {
	debug.Warnf("transfer %s timed out", tid)
	if err := c.downloads.Cancel(ctx, tid); err != nil {
		debug.Warnf("cancel transfer %s: %v", tid, err)
	}
	return c.downloads.Erase(ctx, tid)
}

// OnPendingTimeout gives up waiting for the browser to install id.
func (c *Coordinator) OnPendingTimeout(ctx context.Context, id string) error {
	moved, err := c.transition(ctx, id, domain.StateUpdating, domain.StateIdling)
	if err != nil {
		return err
	}
	if moved {
		debug.Infof("update %s: install not confirmed in time, back to idling", id)
	}
	return nil
}

// resolveURL picks the download location for ext. Store-hosted codebase links
// expire, so updates for store extensions are rebuilt as install URLs.
func (c *Coordinator) resolveURL(ctx context.Context, ext domain.TrackedExtension) string {
	gallery, ok := StoreGalleryFor(ext.UpdateURL)
	if !ok {
		return ext.NewURL
	}
	prodVersion, err := c.host.ProductVersion(ctx)
	if err != nil {
		debug.Warnf("update %s: resolve browser version, using manifest codebase: %v", ext.ID, err)
		return ext.NewURL
	}
	installURL, err := InstallURL(gallery, ext.ID, prodVersion)
	if err != nil {
		debug.Warnf("update %s: build install url, using manifest codebase: %v", ext.ID, err)
		return ext.NewURL
	}
	return installURL
}

func (c *Coordinator) liveVersionMatches(ctx context.Context, id, want string) bool {
	info, err := c.mgmt.Get(ctx, id)
	if err != nil {
		debug.Warnf("update %s: read live version: %v", id, err)
		return false
	}
	return version.Matches(info.Version, want)
}

// transition moves id from one state to another under the extensions lock.
// Returns false without writing if the entry is gone or in a different state.
func (c *Coordinator) transition(ctx context.Context, id string, from, to domain.InstallState) (bool, error) {
	moved := false
	_, err := c.store.UpdateExtensions(ctx, func(exts domain.Extensions) error {
		ext, ok := exts[id]
		if !ok || ext.State != from {
			return storage.ErrSkipWrite
		}
		if err := ext.TransitionTo(to); err != nil {
			return err
		}
		exts[id] = ext
		moved = true
		return nil
	})
	return moved, err
}
