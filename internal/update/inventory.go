package update

import (
	"context"
	"fmt"

	"github.com/samber/lo"

	"extwatch/internal/debug"
	"extwatch/internal/domain"
	appErrors "extwatch/internal/errors"
	"extwatch/internal/platform"
	"extwatch/internal/storage"
	"extwatch/internal/version"
)

// Inventory mirrors the installed extensions into the store.
type Inventory struct {
	store  *storage.Store
	mgmt   platform.Management
	alarms platform.Alarms
}

// NewInventory creates an inventory over store.
func NewInventory(store *storage.Store, mgmt platform.Management, alarms platform.Alarms) *Inventory {
	return &Inventory{store: store, mgmt: mgmt, alarms: alarms}
}

// Refresh re-reads installed items from the host and merges them into the store.
//
// With an empty id every installed item is enumerated and the stored map is
// replaced. With an id only that entry is refreshed. When installed is true the
// entry is reconciled: its pending-install alarm is cleared and it returns to
// idling. An enumeration failure leaves the store unchanged.
func (inv *Inventory) Refresh(ctx context.Context, id string, installed bool) error {
	var items []platform.ExtensionInfo
	if id != "" {
		info, err := inv.mgmt.Get(ctx, id)
		if err != nil {
			debug.Warnf("refresh %s: %v", id, err)
			return appErrors.New(appErrors.CodePlatformUnavailable, fmt.Sprintf("get extension %q: %v", id, err), err)
		}
		items = []platform.ExtensionInfo{info}
	} else {
		all, err := inv.mgmt.GetAll(ctx)
		if err != nil {
			debug.Warnf("refresh all: %v", err)
			return appErrors.New(appErrors.CodePlatformUnavailable, fmt.Sprintf("list extensions: %v", err), err)
		}
		items = all
	}

	if id != "" && installed {
		if _, err := inv.alarms.Clear(ctx, PendingTimeoutAlarm(id)); err != nil {
			debug.Warnf("clear %s: %v", PendingTimeoutAlarm(id), err)
		}
	}

	tracked := lo.Filter(items, func(info platform.ExtensionInfo, _ int) bool {
		return info.Type == platform.TypeExtension
	})

	_, err := inv.store.UpdateExtensions(ctx, func(exts domain.Extensions) error {
		fresh := make(domain.Extensions, len(tracked))
		for _, info := range tracked {
			prev, had := exts[info.ID]
			ext := mergeInfo(prev, had, info)
			if installed && info.ID == id && ext.State != domain.StateIdling {
				debug.Logf("refresh %s: install confirmed, %s -> idling", id, ext.State)
				ext.State = domain.StateIdling
			}
			fresh[info.ID] = ext
		}

		if id == "" {
			for k := range exts {
				delete(exts, k)
			}
		}
		for k, v := range fresh {
			exts[k] = v
		}
		return nil
	})
	return err
}

// mergeInfo builds the stored record for info, keeping the check results and
// install state of prev.
func mergeInfo(prev domain.TrackedExtension, had bool, info platform.ExtensionInfo) domain.TrackedExtension {
	ext := domain.TrackedExtension{
		ID:              info.ID,
		Name:            info.Name,
		ShortName:       info.ShortName,
		Version:         info.Version,
		UpdateURL:       info.UpdateURL,
		LastCheckStatus: domain.CheckNever,
		State:           domain.StateIdling,
	}
	if had {
		ext.NewVersion = prev.NewVersion
		ext.NewURL = prev.NewURL
		ext.LastCheck = prev.LastCheck
		ext.LastCheckStatus = prev.LastCheckStatus
		ext.State = prev.State
	}
	if ext.NewVersion != "" {
		if ext.Version == ext.NewVersion || version.IsUpToDate(ext.Version, ext.NewVersion) {
			ext.ClearUpdate()
		}
	}
	ext.Normalize()
	return ext
}

// Remove forgets id. Removing an unknown id is a no-op.
func (inv *Inventory) Remove(ctx context.Context, id string) error {
	removed := false
	_, err := inv.store.UpdateExtensions(ctx, func(exts domain.Extensions) error {
		if _, ok := exts[id]; !ok {
			return storage.ErrSkipWrite
		}
		delete(exts, id)
		removed = true
		return nil
	})
	if err != nil {
		return err
	}
	if removed {
		if _, err := inv.alarms.Clear(ctx, PendingTimeoutAlarm(id)); err != nil {
			debug.Warnf("clear %s: %v", PendingTimeoutAlarm(id), err)
		}
		debug.Logf("removed %s", id)
	}
	return nil
}

// RecoverStale returns entries stranded by a previous process to idling.
// Transfers never survive a restart, so downloading entries always reset.
// Updating entries reset when their confirmation alarm is gone.
func (inv *Inventory) RecoverStale(ctx context.Context) (int, error) {
	recovered := 0
	_, err := inv.store.UpdateExtensions(ctx, func(exts domain.Extensions) error {
		for _, id := range exts.IDs() {
			ext := exts[id]
			switch ext.State {
			case domain.StateDownloading:
			case domain.StateUpdating:
				_, ok, err := inv.alarms.Get(ctx, PendingTimeoutAlarm(id))
				if err != nil {
					debug.Warnf("recover %s: %v", id, err)
				}
				if ok {
					continue
				}
			default:
				continue
			}
			debug.Infof("recover %s: %s -> idling", id, ext.State)
			ext.State = domain.StateIdling
			exts[id] = ext
			recovered++
		}
		if recovered == 0 {
			return storage.ErrSkipWrite
		}
		return nil
	})
	return recovered, err
}
