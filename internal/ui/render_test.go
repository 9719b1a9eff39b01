package ui

import (
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"

	"extwatch/internal/badge"
)

func TestRenderPending(t *testing.T) {
	items := []badge.PendingUpdate{
		{ID: "aaa", ShortName: "A very long extension name that does not fit anywhere", Version: "1.0", NewVersion: "1.1"},
		{ID: "bbb", ShortName: "Beta", Version: "2.0", NewVersion: "3.0", Pending: true, State: "updating"},
	}
	out := RenderPending(items, RenderOptions{Width: 60, Cursor: 1, ShowIDs: true})
	lines := strings.Split(out, "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d:\n%s", len(lines), out)
	}
	if !strings.Contains(lines[0], "…") {
		t.Errorf("long name not truncated: %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "▸ ") || !strings.Contains(lines[1], "[updating]") || !strings.Contains(lines[1], "bbb") {
		t.Errorf("selected row = %q", lines[1])
	}
	if strings.HasPrefix(lines[0], "▸") {
		t.Errorf("unselected row marked: %q", lines[0])
	}
	if RenderPending(nil, RenderOptions{}) != "" {
		t.Error("empty list rendered content")
	}
}

func TestFitName(t *testing.T) {
	tests := []struct {
		in    string
		width int
		want  string
	}{
		{"abc", 5, "abc  "},
		{"abcdefgh", 5, "abcd…"},
		{"exact", 5, "exact"},
	}
	for _, tt := range tests {
		got := fitName(tt.in, tt.width)
		if got != tt.want || lipgloss.Width(got) != tt.width {
			t.Errorf("fitName(%q, %d) = %q", tt.in, tt.width, got)
		}
	}
}

func TestFormatRelativeTime(t *testing.T) {
	fixedNow := time.Date(2025, time.December, 25, 12, 0, 0, 0, time.UTC)
	orig := timeNow
	timeNow = func() time.Time { return fixedNow }
	defer func() { timeNow = orig }()

	tests := []struct {
		name string
		ts   time.Time
		want string
	}{
		{name: "zero time", ts: time.Time{}, want: ""},
		{name: "future timestamp", ts: fixedNow.Add(2 * time.Hour), want: "Dec 25"},
		{name: "seconds ago", ts: fixedNow.Add(-30 * time.Second), want: "now"},
		{name: "just over minute", ts: fixedNow.Add(-61 * time.Second), want: "1m ago"},
		{name: "hours", ts: fixedNow.Add(-23 * time.Hour), want: "23h ago"},
		{name: "days", ts: fixedNow.Add(-48 * time.Hour), want: "2d ago"},
		{name: "seven days absolute", ts: fixedNow.Add(-7 * 24 * time.Hour), want: "Dec 18"},
		{name: "previous year", ts: time.Date(2024, time.December, 31, 23, 0, 0, 0, time.UTC), want: "Dec '24"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatRelativeTime(tt.ts); got != tt.want {
				t.Fatalf("FormatRelativeTime(%v) = %q, want %q", tt.ts, got, tt.want)
			}
		})
	}

	if got := FormatCheckTime(0); got != "never" {
		t.Fatalf("FormatCheckTime(0) = %q", got)
	}
	if got := FormatCheckTime(fixedNow.Add(-5 * time.Minute).UnixMilli()); got != "5m ago" {
		t.Fatalf("FormatCheckTime = %q", got)
	}
}

func TestFooterTrimsToWidth(t *testing.T) {
	full := renderFooter(0)
	if !strings.Contains(full, "Reload") {
		t.Fatalf("full footer = %q", full)
	}
	narrow := renderFooter(30)
	if lipgloss.Width(narrow) > 30 || !strings.Contains(narrow, "Update") || strings.Contains(narrow, "Reload") {
		t.Fatalf("narrow footer = %q", narrow)
	}
}
