package chromium

import (
	"context"
	"time"

	"extwatch/internal/debug"
	"extwatch/internal/locks"
	"extwatch/internal/platform"
	"extwatch/internal/scheduler"
	"extwatch/internal/storage"
)

// persistedAlarm is the stored form of one alarm under the "alarms" key.
type persistedAlarm struct {
	ScheduledTime int64   `json:"scheduledTime"`
	PeriodMinutes float64 `json:"periodInMinutes,omitempty"`
}

type alarmTable map[string]persistedAlarm

// Alarms implements platform.Alarms on a scheduler. Alarms are persisted in the
// store so they survive restarts; Restore re-arms them.
type Alarms struct {
	store *storage.Store
	sched *scheduler.Scheduler
	fire  func(name string)
}

// NewAlarms creates alarms on sched. fire is called with the alarm name each
// time an alarm goes off.
func NewAlarms(store *storage.Store, sched *scheduler.Scheduler, fire func(name string)) *Alarms {
	return &Alarms{store: store, sched: sched, fire: fire}
}

// Create implements platform.Alarms.
func (a *Alarms) Create(ctx context.Context, name string, info platform.AlarmInfo) error {
	_, err := storage.UpdateKey(ctx, a.store, locks.Alarms, storage.KeyAlarms, func(table *alarmTable) error {
		if *table == nil {
			*table = alarmTable{}
		}
		task := a.sched.Schedule(name, info.Delay, info.Period, a.onFire)
		(*table)[name] = persistedAlarm{
			ScheduledTime: task.Due.UnixMilli(),
			PeriodMinutes: info.Period.Minutes(),
		}
		return nil
	})
	if err == nil {
		debug.Logf("alarm %s created: delay=%s period=%s", name, info.Delay, info.Period)
	}
	return err
}

// Get implements platform.Alarms.
func (a *Alarms) Get(_ context.Context, name string) (platform.Alarm, bool, error) {
	task, ok := a.sched.Get(name)
	if !ok {
		return platform.Alarm{}, false, nil
	}
	return platform.Alarm{Name: task.Name, ScheduledTime: task.Due, Period: task.Period}, true, nil
}

// All lists pending alarms ordered by name.
func (a *Alarms) All() []platform.Alarm {
	tasks := a.sched.Tasks()
	out := make([]platform.Alarm, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, platform.Alarm{Name: t.Name, ScheduledTime: t.Due, Period: t.Period})
	}
	return out
}

// Clear implements platform.Alarms.
func (a *Alarms) Clear(ctx context.Context, name string) (bool, error) {
	cleared := false
	_, err := storage.UpdateKey(ctx, a.store, locks.Alarms, storage.KeyAlarms, func(table *alarmTable) error {
		cleared = a.sched.Cancel(name)
		if _, ok := (*table)[name]; !ok {
			return storage.ErrSkipWrite
		}
		delete(*table, name)
		return nil
	})
	return cleared, err
}

// Restore re-arms persisted alarms. One-shot alarms that came due while the
// process was down fire at once; periodic ones resume at their next slot.
func (a *Alarms) Restore(ctx context.Context) (int, error) {
	now := a.sched.Clock().Now()
	restored := 0
	_, err := storage.UpdateKey(ctx, a.store, locks.Alarms, storage.KeyAlarms, func(table *alarmTable) error {
		for name, p := range *table {
			period := time.Duration(p.PeriodMinutes * float64(time.Minute))
			due := time.UnixMilli(p.ScheduledTime)
			if period > 0 && due.Before(now) {
				missed := now.Sub(due)/period + 1
				due = due.Add(missed * period)
			}
			task := a.sched.Schedule(name, due.Sub(now), period, a.onFire)
			(*table)[name] = persistedAlarm{ScheduledTime: task.Due.UnixMilli(), PeriodMinutes: p.PeriodMinutes}
			restored++
		}
		if restored == 0 {
			return storage.ErrSkipWrite
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return restored, nil
}

// onFire updates the persisted record before notifying.
func (a *Alarms) onFire(name string) {
	ctx := context.Background()
	_, err := storage.UpdateKey(ctx, a.store, locks.Alarms, storage.KeyAlarms, func(table *alarmTable) error {
		if _, ok := (*table)[name]; !ok {
			return storage.ErrSkipWrite
		}
		if task, ok := a.sched.Get(name); ok {
			p := (*table)[name]
			p.ScheduledTime = task.Due.UnixMilli()
			(*table)[name] = p
		} else {
			delete(*table, name)
		}
		return nil
	})
	if err != nil {
		debug.Warnf("alarm %s: update persisted state: %v", name, err)
	}
	debug.Logf("alarm %s fired", name)
	if a.fire != nil {
		a.fire(name)
	}
}
