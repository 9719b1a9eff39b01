package update

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"extwatch/internal/domain"
	appErrors "extwatch/internal/errors"
	"extwatch/internal/locks"
	"extwatch/internal/platform"
	"extwatch/internal/storage"
)

type coordinatorFixture struct {
	store     *storage.Store
	mgmt      *platform.MockManagement
	downloads *platform.MockDownloads
	alarms    *platform.MockAlarms
	coord     *Coordinator
}

func newCoordinatorFixture(t *testing.T, exts ...domain.TrackedExtension) *coordinatorFixture {
	t.Helper()
	f := &coordinatorFixture{
		store:     seedStore(t, exts...),
		mgmt:      platform.NewMockManagement(),
		downloads: platform.NewMockDownloads(),
		alarms:    platform.NewMockAlarms(),
	}
	inv := NewInventory(f.store, f.mgmt, f.alarms)
	f.coord = NewCoordinator(f.store, inv, f.mgmt, f.downloads, f.alarms, platform.StaticHostInfo{Version: "120.0"})
	return f
}

// finishWith makes every download end with state once the caller is listening.
func (f *coordinatorFixture) finishWith(state platform.TransferState, reason string) {
	f.downloads.DownloadFn = func(context.Context, string) (platform.TransferID, error) {
		go f.downloads.Emit(platform.TransferDelta{ID: "t-1", State: state, Filename: "x.crx", Error: reason})
		return "t-1", nil
	}
}

func (f *coordinatorFixture) get(t *testing.T, id string) domain.TrackedExtension {
	t.Helper()
	exts, err := f.store.Extensions(context.Background())
	if err != nil {
		t.Fatalf("Extensions: %v", err)
	}
	return exts[id]
}

func withUpdate(id, installed string) domain.TrackedExtension {
	return domain.TrackedExtension{
		ID: id, Name: "Ext " + id, Version: installed,
		UpdateURL:  "https://updates.example.com/manifest",
		NewVersion: "2.0", NewURL: "https://updates.example.com/" + id + ".crx",
	}
}

func TestUpdateWaitsForInstallConfirmation(t *testing.T) {
	f := newCoordinatorFixture(t, withUpdate("abc", "1.0"))
	f.mgmt.SetItems(platform.ExtensionInfo{ID: "abc", Version: "1.0", Type: platform.TypeExtension})
	f.finishWith(platform.TransferComplete, "")

	if err := f.coord.Update(context.Background(), "abc"); err != nil {
		t.Fatalf("Update: %v", err)
	}

	if got := f.get(t, "abc").State; got != domain.StateUpdating {
		t.Fatalf("State = %q, want updating", got)
	}
	if !f.alarms.Has(PendingTimeoutAlarm("abc")) {
		t.Fatal("confirmation alarm should be scheduled")
	}
	if f.alarms.Has(DownloadTimeoutAlarm("t-1")) {
		t.Fatal("download timeout alarm should be cleared")
	}
	if len(f.downloads.DownloadCallArgs) != 1 || f.downloads.DownloadCallArgs[0] != "https://updates.example.com/abc.crx" {
		t.Fatalf("DownloadCallArgs = %v", f.downloads.DownloadCallArgs)
	}
	if len(f.downloads.EraseCallArgs) != 1 || f.downloads.EraseCallArgs[0] != "t-1" {
		t.Fatalf("EraseCallArgs = %v", f.downloads.EraseCallArgs)
	}
	if f.downloads.Subscribers() != 0 {
		t.Fatal("subscription should be closed")
	}
}

func TestUpdateReconcilesWhenAlreadyInstalled(t *testing.T) {
	f := newCoordinatorFixture(t, withUpdate("abc", "1.0"))
	f.mgmt.SetItems(platform.ExtensionInfo{ID: "abc", Name: "Ext abc", Version: "2.0", Type: platform.TypeExtension, UpdateURL: "https://updates.example.com/manifest"})
	f.finishWith(platform.TransferComplete, "")

	if err := f.coord.Update(context.Background(), "abc"); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got := f.get(t, "abc")
	if got.State != domain.StateIdling || got.Version != "2.0" || got.HasUpdate() {
		t.Fatalf("entry = %+v", got)
	}
	if f.alarms.Has(PendingTimeoutAlarm("abc")) {
		t.Fatal("no confirmation alarm expected")
	}
}

func TestUpdateInterruptedReturnsToIdling(t *testing.T) {
	f := newCoordinatorFixture(t, withUpdate("abc", "1.0"))
	f.finishWith(platform.TransferInterrupted, "NETWORK_FAILED")

	err := f.coord.Update(context.Background(), "abc")
	if !appErrors.IsCode(err, appErrors.CodeTransferInterrupted) {
		t.Fatalf("err = %v, want transfer_interrupted", err)
	}
	got := f.get(t, "abc")
	if got.State != domain.StateIdling || !got.HasUpdate() {
		t.Fatalf("entry = %+v", got)
	}
	if len(f.alarms.Names()) != 0 {
		t.Fatalf("alarms left behind: %v", f.alarms.Names())
	}
}

func TestUpdateDownloadStartFailure(t *testing.T) {
	f := newCoordinatorFixture(t, withUpdate("abc", "1.0"))
	f.downloads.DownloadFn = func(context.Context, string) (platform.TransferID, error) {
		return "", errors.New("blocked")
	}

	err := f.coord.Update(context.Background(), "abc")
	if !appErrors.IsCode(err, appErrors.CodeNetworkFailure) {
		t.Fatalf("err = %v, want network_failure", err)
	}
	if got := f.get(t, "abc").State; got != domain.StateIdling {
		t.Fatalf("State = %q", got)
	}
}

func TestUpdateWithoutTransferID(t *testing.T) {
	f := newCoordinatorFixture(t, withUpdate("abc", "1.0"))
	f.downloads.DownloadFn = func(context.Context, string) (platform.TransferID, error) {
		return "", nil
	}

	err := f.coord.Update(context.Background(), "abc")
	if !appErrors.IsCode(err, appErrors.CodeTransferInterrupted) || err.Error() != "Download did not return an Id." {
		t.Fatalf("err = %v", err)
	}
}

func TestUpdateRejections(t *testing.T) {
	busy := withUpdate("busy", "1.0")
	busy.State = domain.StateUpdating
	current := domain.TrackedExtension{ID: "current", Name: "Current", Version: "1.0"}

	tests := []struct {
		name string
		id   string
		code appErrors.Code
		msg  string
	}{
		{"unknown id", "nope", appErrors.CodeNotFound, `Id "nope" not in storage.`},
		{"already pending", "busy", appErrors.CodeAlreadyInProgress, `Id "busy" is already updating.`},
		{"no update", "current", appErrors.CodeNoUpdateAvailable, `No update found for "Current".`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newCoordinatorFixture(t, busy, current)
			err := f.coord.Update(context.Background(), tt.id)
			if !appErrors.IsCode(err, tt.code) || err.Error() != tt.msg {
				t.Fatalf("err = %v (%s), want %s %q", err, appErrors.CodeOf(err), tt.code, tt.msg)
			}
			if f.downloads.DownloadCallCount != 0 || len(f.alarms.CreateCallArgs) != 0 {
				t.Fatal("rejected update must not start a transfer or schedule alarms")
			}
		})
	}
}

func TestConcurrentUpdateIsRejected(t *testing.T) {
	f := newCoordinatorFixture(t, withUpdate("abc", "1.0"))
	f.mgmt.SetItems(platform.ExtensionInfo{ID: "abc", Version: "1.0", Type: platform.TypeExtension})
	started := make(chan struct{})
	f.downloads.DownloadFn = func(context.Context, string) (platform.TransferID, error) {
		close(started)
		return "t-1", nil
	}

	done := make(chan error, 1)
	go func() { done <- f.coord.Update(context.Background(), "abc") }()
	<-started

	err := f.coord.Update(context.Background(), "abc")
	if !appErrors.IsCode(err, appErrors.CodeAlreadyInProgress) {
		t.Fatalf("second Update err = %v", err)
	}

	f.downloads.Emit(platform.TransferDelta{ID: "t-1", State: platform.TransferComplete})
	if err := <-done; err != nil {
		t.Fatalf("first Update: %v", err)
	}
	if n := f.alarms.CreateCount(PendingTimeoutAlarm("abc")); n != 1 {
		t.Fatalf("confirmation alarm created %d times", n)
	}
	if f.downloads.DownloadCallCount != 1 {
		t.Fatalf("DownloadCallCount = %d", f.downloads.DownloadCallCount)
	}
}

func TestUpdateRebuildsStoreURLs(t *testing.T) {
	ext := withUpdate("abcdefghijklmnopabcdefghijklmnop", "1.0")
	ext.UpdateURL = "https://clients2.google.com/service/update2/crx"
	f := newCoordinatorFixture(t, ext)
	f.finishWith(platform.TransferInterrupted, "")

	_ = f.coord.Update(context.Background(), ext.ID)

	want, _ := InstallURL("chromewebstore.google.com", ext.ID, "120.0")
	if len(f.downloads.DownloadCallArgs) != 1 || f.downloads.DownloadCallArgs[0] != want {
		t.Fatalf("DownloadCallArgs = %v, want %s", f.downloads.DownloadCallArgs, want)
	}
}

func TestDownloadTimeoutCancelsTransfer(t *testing.T) {
	f := newCoordinatorFixture(t, withUpdate("abc", "1.0"))
	started := make(chan struct{})
	f.downloads.DownloadFn = func(context.Context, string) (platform.TransferID, error) {
		close(started)
		return "t-9", nil
	}

	done := make(chan error, 1)
	go func() { done <- f.coord.Update(context.Background(), "abc") }()
	<-started

	// The alarm is created right after Download returns.
	deadline := time.Now().Add(2 * time.Second)
	for !f.alarms.Has(DownloadTimeoutAlarm("t-9")) {
		if time.Now().After(deadline) {
			t.Fatal("download timeout alarm never scheduled")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := f.coord.OnDownloadTimeout(context.Background(), "t-9"); err != nil {
		t.Fatalf("OnDownloadTimeout: %v", err)
	}

	select {
	case err := <-done:
		if !appErrors.IsCode(err, appErrors.CodeTransferInterrupted) {
			t.Fatalf("err = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Update did not return after timeout")
	}
	if got := f.get(t, "abc").State; got != domain.StateIdling {
		t.Fatalf("State = %q", got)
	}
}

func TestTransferHonorsContext(t *testing.T) {
	f := newCoordinatorFixture(t)
	f.downloads.CancelFn = func(context.Context, platform.TransferID) error { return nil }
	ctx, cancel := context.WithCancel(context.Background())
	f.downloads.DownloadFn = func(context.Context, string) (platform.TransferID, error) {
		cancel()
		return "t-1", nil
	}

	err := f.coord.Transfer(ctx, "https://example.com/x.crx")
	if !appErrors.IsCode(err, appErrors.CodeTransferInterrupted) {
		t.Fatalf("err = %v", err)
	}
	if len(f.downloads.CancelCallArgs) == 0 {
		t.Fatal("transfer should be cancelled")
	}
}

func TestOnPendingTimeout(t *testing.T) {
	updating := withUpdate("upd", "1.0")
	updating.State = domain.StateUpdating
	idle := withUpdate("idle", "1.0")
	f := newCoordinatorFixture(t, updating, idle)

	if err := f.coord.OnPendingTimeout(context.Background(), "upd"); err != nil {
		t.Fatalf("OnPendingTimeout: %v", err)
	}
	if err := f.coord.OnPendingTimeout(context.Background(), "idle"); err != nil {
		t.Fatalf("OnPendingTimeout(idle): %v", err)
	}
	if err := f.coord.OnPendingTimeout(context.Background(), "gone"); err != nil {
		t.Fatalf("OnPendingTimeout(gone): %v", err)
	}
	if got := f.get(t, "upd"); got.State != domain.StateIdling || !got.HasUpdate() {
		t.Fatalf("entry = %+v", got)
	}
}

func TestInstallFromStorePage(t *testing.T) {
	f := newCoordinatorFixture(t)
	f.finishWith(platform.TransferComplete, "")

	id := "abcdefghijklmnopabcdefghijklmnop"
	if err := f.coord.Install(context.Background(), "https://chromewebstore.google.com/detail/some-ext/"+id); err != nil {
		t.Fatalf("Install: %v", err)
	}
	want, _ := InstallURL("chromewebstore.google.com", id, "120.0")
	if f.downloads.DownloadCallArgs[0] != want {
		t.Fatalf("download url = %s, want %s", f.downloads.DownloadCallArgs[0], want)
	}
}

func TestInstallRejectsBadURLs(t *testing.T) {
	f := newCoordinatorFixture(t)
	tests := []struct {
		url  string
		code appErrors.Code
	}{
		{"https://example.com/page", appErrors.CodeInvalidArgument},
		{"https://addons.mozilla.org/detail/x/y", appErrors.CodeUnsupportedHost},
	}
	for _, tt := range tests {
		if err := f.coord.Install(context.Background(), tt.url); !appErrors.IsCode(err, tt.code) {
			t.Errorf("Install(%s) = %v, want %s", tt.url, err, tt.code)
		}
	}
	if f.downloads.DownloadCallCount != 0 {
		t.Fatal("no transfer expected")
	}
}

func TestUpdateFinishesAfterCallerGivesUp(t *testing.T) {
	f := newCoordinatorFixture(t, withUpdate("abc", "1.0"))
	f.mgmt.SetItems(platform.ExtensionInfo{ID: "abc", Version: "1.0", Type: platform.TypeExtension})
	started := make(chan struct{})
	f.downloads.DownloadFn = func(context.Context, string) (platform.TransferID, error) {
		close(started)
		return "t-1", nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- f.coord.Update(ctx, "abc") }()
	<-started

	release, err := f.store.Locks().Acquire(context.Background(), locks.Extensions)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	f.downloads.Emit(platform.TransferDelta{ID: "t-1", State: platform.TransferComplete})
	cancel()
	release()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Update: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Update did not return")
	}
	if got := f.get(t, "abc").State; got != domain.StateUpdating {
		t.Fatalf("State = %q, want updating", got)
	}
	if !f.alarms.Has(PendingTimeoutAlarm("abc")) {
		t.Fatal("confirmation alarm should be scheduled")
	}
}

// flakyBackend fails the next failSets writes.
type flakyBackend struct {
	*storage.MemoryBackend
	mu       sync.Mutex
	failSets int
}

func (b *flakyBackend) failNext(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failSets = n
}

func (b *flakyBackend) Set(ctx context.Context, values map[string]json.RawMessage) error {
	b.mu.Lock()
	fail := b.failSets > 0
	if fail {
		b.failSets--
	}
	b.mu.Unlock()
	if fail {
		return errors.New("disk full")
	}
	return b.MemoryBackend.Set(ctx, values)
}

func TestUpdateRevertsWhenMarkingUpdatingFails(t *testing.T) {
	backend := &flakyBackend{MemoryBackend: storage.NewMemoryBackend()}
	store := storage.New(backend, nil)
	ext := withUpdate("abc", "1.0")
	ext.State = domain.StateIdling
	if err := store.Set(context.Background(), map[string]any{storage.KeyExtensions: domain.Extensions{"abc": ext}}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	mgmt := platform.NewMockManagement()
	downloads := platform.NewMockDownloads()
	alarms := platform.NewMockAlarms()
	coord := NewCoordinator(store, NewInventory(store, mgmt, alarms), mgmt, downloads, alarms, platform.StaticHostInfo{Version: "120.0"})
	downloads.DownloadFn = func(context.Context, string) (platform.TransferID, error) {
		backend.failNext(1)
		go downloads.Emit(platform.TransferDelta{ID: "t-1", State: platform.TransferComplete})
		return "t-1", nil
	}

	if err := coord.Update(context.Background(), "abc"); !appErrors.IsCode(err, appErrors.CodeStorage) {
		t.Fatalf("err = %v, want storage_error", err)
	}
	exts, err := store.Extensions(context.Background())
	if err != nil {
		t.Fatalf("Extensions: %v", err)
	}
	if got := exts["abc"].State; got != domain.StateIdling {
		t.Fatalf("State = %q, want idling", got)
	}
	if alarms.Has(PendingTimeoutAlarm("abc")) {
		t.Fatal("no confirmation alarm expected")
	}
}

type transferRecord struct {
	outcome string
	elapsed time.Duration
}

type recorderFunc func(outcome string, elapsed time.Duration)

func (f recorderFunc) RecordTransfer(outcome string, elapsed time.Duration) { f(outcome, elapsed) }

func TestTransferTimedWithInjectedClock(t *testing.T) {
	clock := clockwork.NewFakeClock()
	downloads := platform.NewMockDownloads()
	alarms := platform.NewMockAlarms()
	var got []transferRecord
	coord := NewCoordinator(seedStore(t), nil, platform.NewMockManagement(), downloads, alarms, platform.StaticHostInfo{Version: "120.0"},
		WithCoordinatorClock(clock),
		WithTransferRecorder(recorderFunc(func(outcome string, elapsed time.Duration) {
			got = append(got, transferRecord{outcome, elapsed})
		})))
	downloads.DownloadFn = func(context.Context, string) (platform.TransferID, error) {
		clock.Advance(42 * time.Second)
		go downloads.Emit(platform.TransferDelta{ID: "t-1", State: platform.TransferComplete})
		return "t-1", nil
	}

	if err := coord.Transfer(context.Background(), "https://example.com/x.crx"); err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if len(got) != 1 || got[0].outcome != OutcomeComplete || got[0].elapsed != 42*time.Second {
		t.Fatalf("records = %+v", got)
	}
}
