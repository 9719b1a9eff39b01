package domain

import (
	"sort"
	"time"
)

// TrackedExtension is the persisted record for one installed extension.
//
// Business rules enforced:
//   - NewVersion and NewURL are either both set or both empty.
//   - State changes follow allowedTransitions.
//   - Pending status is derived from State alone.
type TrackedExtension struct {
	ID              string       `json:"id"`
	Name            string       `json:"name"`
	ShortName       string       `json:"shortName"`
	Version         string       `json:"version"`
	UpdateURL       string       `json:"updateUrl,omitempty"`
	NewVersion      string       `json:"newVer,omitempty"`
	NewURL          string       `json:"newUrl,omitempty"`
	LastCheck       int64        `json:"lastCheck"`
	LastCheckStatus CheckStatus  `json:"lastCheckStatus"`
	State           InstallState `json:"state"`
}

// Validate checks the record invariants that can be verified without a comparator.
func (e TrackedExtension) Validate() error {
	if e.ID == "" {
		return invalidExtensionError("extension id is required")
	}
	if (e.NewVersion == "") != (e.NewURL == "") {
		return invalidExtensionError("new version and new url must be set together")
	}
	if e.State != StateUnknown {
		if err := e.State.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Pending reports whether a download or install is in flight.
func (e TrackedExtension) Pending() bool {
	return e.State.IsPending()
}

// HasUpdate reports whether a newer version has been discovered.
func (e TrackedExtension) HasUpdate() bool {
	return e.NewVersion != "" && e.NewURL != ""
}

// Checkable reports whether the extension declares an update manifest.
func (e TrackedExtension) Checkable() bool {
	return e.UpdateURL != ""
}

// DisplayName prefers the short name.
func (e TrackedExtension) DisplayName() string {
	if e.ShortName != "" {
		return e.ShortName
	}
	return e.Name
}

// LastCheckTime returns the last check as a time, or the zero time if never checked.
func (e TrackedExtension) LastCheckTime() time.Time {
	if e.LastCheck == 0 {
		return time.Time{}
	}
	return time.UnixMilli(e.LastCheck)
}

// SetUpdate records a discovered version and its download location.
func (e *TrackedExtension) SetUpdate(newVersion, newURL string) {
	if newVersion == "" || newURL == "" {
		e.ClearUpdate()
		return
	}
	e.NewVersion = newVersion
	e.NewURL = newURL
}

// ClearUpdate forgets any discovered version.
func (e *TrackedExtension) ClearUpdate() {
	e.NewVersion = ""
	e.NewURL = ""
}

// MarkChecked stamps the outcome of a check attempt.
func (e *TrackedExtension) MarkChecked(at time.Time, status CheckStatus) {
	e.LastCheck = at.UnixMilli()
	e.LastCheckStatus = status
}

// TransitionTo moves the record to target if the lifecycle allows it.
func (e *TrackedExtension) TransitionTo(target InstallState) error {
	current := e.State
	if current == StateUnknown {
		current = StateIdling
	}
	if err := current.CanTransitionTo(target); err != nil {
		return err
	}
	e.State = target
	return nil
}

// Normalize fills defaults for records decoded from older or partial data.
func (e *TrackedExtension) Normalize() {
	if e.State == StateUnknown {
		e.State = StateIdling
	}
	if e.NewVersion == "" || e.NewURL == "" {
		e.ClearUpdate()
	}
}

// Extensions is the persisted mapping from id to record.
type Extensions map[string]TrackedExtension

// Clone returns a shallow copy that can be mutated independently.
func (m Extensions) Clone() Extensions {
	out := make(Extensions, len(m))
	for id, ext := range m {
		out[id] = ext
	}
	return out
}

// IDs returns the ids in sorted order.
func (m Extensions) IDs() []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
