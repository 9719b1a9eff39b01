package domain

import (
	"encoding/json"
	"testing"
	"time"

	appErrors "extwatch/internal/errors"
)

func TestInstallStateValidate(t *testing.T) {
	valid := []InstallState{StateIdling, StateDownloading, StateUpdating}
	for _, state := range valid {
		if err := state.Validate(); err != nil {
			t.Errorf("expected %q to be valid, got error: %v", state, err)
		}
	}

	invalid := []InstallState{StateUnknown, InstallState("pending")}
	for _, state := range invalid {
		if err := state.Validate(); err == nil {
			t.Errorf("expected %q to be invalid", state)
		}
	}
}

func TestParseInstallState(t *testing.T) {
	cases := map[string]InstallState{
		"idling":        StateIdling,
		" DOWNLOADING ": StateDownloading,
		"Updating":      StateUpdating,
		"":              StateIdling,
	}
	for raw, expected := range cases {
		got, err := ParseInstallState(raw)
		if err != nil {
			t.Fatalf("ParseInstallState(%q) returned error: %v", raw, err)
		}
		if got != expected {
			t.Fatalf("ParseInstallState(%q) = %q, want %q", raw, got, expected)
		}
	}

	if _, err := ParseInstallState("installing"); !appErrors.IsCode(err, appErrors.CodeInvalidArgument) {
		t.Fatalf("expected invalid_argument, got %v", err)
	}
}

func TestInstallStateTransitions(t *testing.T) {
	tests := []struct {
		from, to InstallState
		allowed  bool
	}{
		{StateIdling, StateDownloading, true},
		{StateIdling, StateUpdating, false},
		{StateDownloading, StateUpdating, true},
		{StateDownloading, StateIdling, true},
		{StateUpdating, StateIdling, true},
		{StateUpdating, StateDownloading, false},
		{StateIdling, StateIdling, true},
	}

	for _, tt := range tests {
		err := tt.from.CanTransitionTo(tt.to)
		if tt.allowed && err != nil {
			t.Errorf("%s -> %s should be allowed: %v", tt.from, tt.to, err)
		}
		if !tt.allowed && err == nil {
			t.Errorf("%s -> %s should be rejected", tt.from, tt.to)
		}
	}
}

func TestTrackedExtensionLifecycle(t *testing.T) {
	ext := TrackedExtension{ID: "abc", Version: "1.0.0"}
	if ext.Pending() {
		t.Fatal("blank state should not be pending")
	}
	if err := ext.TransitionTo(StateDownloading); err != nil {
		t.Fatalf("idling -> downloading: %v", err)
	}
	if !ext.Pending() {
		t.Fatal("downloading should be pending")
	}
	if err := ext.TransitionTo(StateUpdating); err != nil {
		t.Fatalf("downloading -> updating: %v", err)
	}
	if err := ext.TransitionTo(StateDownloading); err == nil {
		t.Fatal("updating -> downloading should fail")
	}
	if err := ext.TransitionTo(StateIdling); err != nil {
		t.Fatalf("updating -> idling: %v", err)
	}
}

func TestTrackedExtensionUpdateFieldsTogether(t *testing.T) {
	ext := TrackedExtension{ID: "abc"}
	ext.SetUpdate("2.0.0", "")
	if ext.HasUpdate() || ext.NewVersion != "" {
		t.Fatal("SetUpdate with empty url should clear both fields")
	}
	ext.SetUpdate("2.0.0", "https://host/x.crx")
	if !ext.HasUpdate() {
		t.Fatal("expected update to be recorded")
	}
	if err := ext.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	broken := TrackedExtension{ID: "abc", NewVersion: "2.0.0"}
	if err := broken.Validate(); err == nil {
		t.Fatal("Validate should reject half-set update fields")
	}
	broken.Normalize()
	if broken.NewVersion != "" || broken.State != StateIdling {
		t.Fatalf("Normalize produced %+v", broken)
	}
}

func TestTrackedExtensionJSONShape(t *testing.T) {
	at := time.UnixMilli(1700000000000)
	ext := TrackedExtension{ID: "abc", Name: "Alpha", ShortName: "A", Version: "1.0", State: StateIdling}
	ext.MarkChecked(at, CheckNever)

	data, err := json.Marshal(ext)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	for _, key := range []string{"id", "name", "shortName", "version", "lastCheck", "lastCheckStatus", "state"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("missing JSON key %q in %s", key, data)
		}
	}
	if _, ok := raw["newVer"]; ok {
		t.Errorf("empty newVer should be omitted: %s", data)
	}
	if got := raw["lastCheckStatus"].(float64); got != 2 {
		t.Errorf("lastCheckStatus = %v, want 2", got)
	}
	if !ext.LastCheckTime().Equal(at) {
		t.Errorf("LastCheckTime = %v, want %v", ext.LastCheckTime(), at)
	}
}

func TestExtensionsCloneAndIDs(t *testing.T) {
	m := Extensions{"b": {ID: "b"}, "a": {ID: "a"}}
	clone := m.Clone()
	delete(clone, "a")
	if _, ok := m["a"]; !ok {
		t.Fatal("Clone should not alias the original map")
	}
	ids := m.IDs()
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Fatalf("IDs = %v", ids)
	}
}
