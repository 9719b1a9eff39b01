package domain

import "strings"

// InstallState represents the lifecycle of an in-flight update for one extension.
type InstallState string

const (
	StateUnknown     InstallState = ""
	StateIdling      InstallState = "idling"
	StateDownloading InstallState = "downloading"
	StateUpdating    InstallState = "updating"
)

var validStates = map[InstallState]struct{}{
	StateIdling:      {},
	StateDownloading: {},
	StateUpdating:    {},
}

// Every successful path ends back in idling; there is no way to skip the download.
var allowedTransitions = map[InstallState]map[InstallState]struct{}{
	StateIdling: {
		StateDownloading: {},
	},
	StateDownloading: {
		StateIdling:   {},
		StateUpdating: {},
	},
	StateUpdating: {
		StateIdling: {},
	},
}

// ParseInstallState normalises a persisted state string. Blank values decode as idling
// so records written before the field existed stay usable.
func ParseInstallState(raw string) (InstallState, error) {
	state := InstallState(strings.ToLower(strings.TrimSpace(raw)))
	if state == StateUnknown {
		return StateIdling, nil
	}
	if _, ok := validStates[state]; !ok {
		return StateUnknown, invalidStateError(raw)
	}
	return state, nil
}

// Validate ensures the state is part of the supported lifecycle.
func (s InstallState) Validate() error {
	if _, ok := validStates[s]; !ok {
		return invalidStateError(string(s))
	}
	return nil
}

// IsPending reports whether an update is accepted but not yet confirmed.
func (s InstallState) IsPending() bool {
	return s == StateDownloading || s == StateUpdating
}

// CanTransitionTo verifies whether a transition to the target state is allowed.
func (s InstallState) CanTransitionTo(target InstallState) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if err := target.Validate(); err != nil {
		return err
	}
	if s == target {
		return nil
	}
	if transitions, ok := allowedTransitions[s]; ok {
		if _, allowed := transitions[target]; allowed {
			return nil
		}
	}
	return invalidTransitionError(s, target)
}

// CheckStatus records the outcome of the most recent update check.
type CheckStatus int

const (
	CheckOK     CheckStatus = 0
	CheckFailed CheckStatus = 1
	CheckNever  CheckStatus = 2
)

func (c CheckStatus) String() string {
	switch c {
	case CheckOK:
		return "ok"
	case CheckFailed:
		return "failed"
	case CheckNever:
		return "never"
	default:
		return "unknown"
	}
}
