package chromium

import (
	"context"
	"path/filepath"
	"testing"

	"extwatch/internal/platform"
)

func TestBadgeFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "badge.json")
	var observed []platform.Badge
	sink := NewBadgeFile(path, func(b platform.Badge) { observed = append(observed, b) })

	want := platform.Badge{Text: "3", Color: "crimson", TextColor: "#fff"}
	if err := sink.SetBadge(context.Background(), want); err != nil {
		t.Fatalf("SetBadge: %v", err)
	}

	got, err := ReadBadgeFile(path)
	if err != nil {
		t.Fatalf("ReadBadgeFile: %v", err)
	}
	if got != want {
		t.Fatalf("badge = %+v, want %+v", got, want)
	}
	if sink.Current() != want || len(observed) != 1 {
		t.Fatalf("Current = %+v, observed = %v", sink.Current(), observed)
	}

	if err := sink.SetBadge(context.Background(), platform.Badge{Color: "crimson", TextColor: "#fff"}); err != nil {
		t.Fatalf("SetBadge(clear): %v", err)
	}
	if got, _ := ReadBadgeFile(path); got.Text != "" {
		t.Fatalf("cleared badge text = %q", got.Text)
	}
}

func TestReadBadgeFileMissing(t *testing.T) {
	if _, err := ReadBadgeFile(filepath.Join(t.TempDir(), "none.json")); err == nil {
		t.Fatal("expected error for a missing badge file")
	}
}
