package chromium

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"extwatch/internal/platform"
	"extwatch/internal/scheduler"
	"extwatch/internal/storage"
)

func newTestAlarms(t *testing.T, backend storage.Backend, clock *clockwork.FakeClock) (*Alarms, *scheduler.Scheduler, chan string) {
	t.Helper()
	fired := make(chan string, 8)
	sched := scheduler.New(clock)
	t.Cleanup(sched.Stop)
	store := storage.New(backend, nil)
	return NewAlarms(store, sched, func(name string) { fired <- name }), sched, fired
}

func expectFired(t *testing.T, fired <-chan string, want string) {
	t.Helper()
	select {
	case got := <-fired:
		if got != want {
			t.Fatalf("fired %q, want %q", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("alarm %q did not fire", want)
	}
}

func persisted(t *testing.T, backend storage.Backend) alarmTable {
	t.Helper()
	var table alarmTable
	if _, err := storage.New(backend, nil).GetInto(context.Background(), storage.KeyAlarms, &table); err != nil {
		t.Fatalf("read alarms: %v", err)
	}
	return table
}

func TestAlarmsOneShotFiresAndIsForgotten(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	backend := storage.NewMemoryBackend()
	alarms, _, fired := newTestAlarms(t, backend, clock)

	if err := alarms.Create(ctx, "timeout-upd-abc", platform.AlarmInfo{Delay: 2 * time.Minute}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, ok, _ := alarms.Get(ctx, "timeout-upd-abc")
	if !ok || !got.ScheduledTime.Equal(clock.Now().Add(2*time.Minute)) {
		t.Fatalf("Get = %+v %v", got, ok)
	}
	if _, ok := persisted(t, backend)["timeout-upd-abc"]; !ok {
		t.Fatal("alarm should be persisted")
	}

	clock.Advance(2 * time.Minute)
	expectFired(t, fired, "timeout-upd-abc")

	if _, ok, _ := alarms.Get(ctx, "timeout-upd-abc"); ok {
		t.Fatal("one-shot alarm should be gone after firing")
	}
	// The persisted record is dropped before the callback runs.
	if _, ok := persisted(t, backend)["timeout-upd-abc"]; ok {
		t.Fatal("fired one-shot alarm should not stay persisted")
	}
}

func TestAlarmsClear(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	backend := storage.NewMemoryBackend()
	alarms, _, fired := newTestAlarms(t, backend, clock)

	_ = alarms.Create(ctx, "timeout-dl-t1", platform.AlarmInfo{Delay: time.Minute})
	cleared, err := alarms.Clear(ctx, "timeout-dl-t1")
	if err != nil || !cleared {
		t.Fatalf("Clear = %v, %v", cleared, err)
	}
	cleared, err = alarms.Clear(ctx, "timeout-dl-t1")
	if err != nil || cleared {
		t.Fatalf("second Clear = %v, %v", cleared, err)
	}
	if len(persisted(t, backend)) != 0 {
		t.Fatal("cleared alarm should not be persisted")
	}

	clock.Advance(time.Hour)
	select {
	case name := <-fired:
		t.Fatalf("cleared alarm %q fired", name)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestAlarmsRestore(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	backend := storage.NewMemoryBackend()

	first, sched, _ := newTestAlarms(t, backend, clock)
	if err := first.Create(ctx, "check-updates", platform.AlarmInfo{Delay: time.Minute, Period: 180 * time.Minute}); err != nil {
		t.Fatalf("Create periodic: %v", err)
	}
	if err := first.Create(ctx, "timeout-upd-abc", platform.AlarmInfo{Delay: 2 * time.Minute}); err != nil {
		t.Fatalf("Create one-shot: %v", err)
	}
	sched.Stop()

	// Down for a while: the one-shot is overdue, the periodic missed one slot.
	clock.Advance(90 * time.Minute)

	second, _, fired := newTestAlarms(t, backend, clock)
	n, err := second.Restore(ctx)
	if err != nil || n != 2 {
		t.Fatalf("Restore = %d, %v", n, err)
	}

	periodic, ok, _ := second.Get(ctx, "check-updates")
	wantDue := time.Date(2026, 3, 1, 15, 1, 0, 0, time.UTC)
	if !ok || !periodic.ScheduledTime.Equal(wantDue) || periodic.Period != 180*time.Minute {
		t.Fatalf("periodic = %+v %v, want due %s", periodic, ok, wantDue)
	}

	expectFired(t, fired, "timeout-upd-abc")
}

func TestAlarmsPeriodicKeepsFiring(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	backend := storage.NewMemoryBackend()
	alarms, _, fired := newTestAlarms(t, backend, clock)

	_ = alarms.Create(ctx, "check-updates", platform.AlarmInfo{Delay: time.Minute, Period: 10 * time.Minute})
	clock.Advance(time.Minute)
	expectFired(t, fired, "check-updates")

	if err := clock.BlockUntilContext(ctx, 1); err != nil {
		t.Fatalf("BlockUntilContext: %v", err)
	}
	clock.Advance(10 * time.Minute)
	expectFired(t, fired, "check-updates")

	if _, ok := persisted(t, backend)["check-updates"]; !ok {
		t.Fatal("periodic alarm should stay persisted")
	}
}
