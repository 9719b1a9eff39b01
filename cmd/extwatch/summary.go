package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"extwatch/internal/badge"
	"extwatch/internal/ui"
)

var (
	primaryColor = lipgloss.Color("#7D56F4")
	dimColor     = lipgloss.Color("#6272A4")
	textColor    = lipgloss.Color("#F8F8F2")
	successColor = lipgloss.Color("#50FA7B")
	neutralColor = lipgloss.Color("#8BE9FD")
)

// CheckSummary is what the check command reports once the daemon answers.
type CheckSummary struct {
	Version string
	Before  []badge.PendingUpdate
	After   []badge.PendingUpdate
	Elapsed time.Duration
}

// printCheckSummary prints a one-line headline followed by the pending list.
func printCheckSummary(w io.Writer, summary CheckSummary) {
	appStyle := lipgloss.NewStyle().Bold(true).Foreground(primaryColor)
	versionStyle := lipgloss.NewStyle().Foreground(dimColor)
	statsStyle := lipgloss.NewStyle().Foreground(textColor)
	upToDateStyle := lipgloss.NewStyle().Foreground(successColor)
	deltaStyle := lipgloss.NewStyle().Foreground(neutralColor)

	versionStr := ""
	if summary.Version != "" {
		versionStr = versionStyle.Render(fmt.Sprintf(" v%s", summary.Version))
	}
	elapsedStr := versionStyle.Render(fmt.Sprintf(" • checked in %s", formatDuration(summary.Elapsed)))
	_, _ = fmt.Fprintln(w, appStyle.Render("extwatch")+versionStr+elapsedStr)

	count := len(summary.After)
	if count == 0 {
		_, _ = fmt.Fprintln(w, upToDateStyle.Render("All extensions are up to date."))
		return
	}

	statsStr := fmt.Sprintf("%d %s available", count, plural(count, "update", "updates"))
	if delta := count - len(summary.Before); delta != 0 {
		statsStr += " " + deltaStyle.Render(formatDelta(delta))
	}
	if inFlight := countInFlight(summary.After); inFlight > 0 {
		statsStr += fmt.Sprintf(", %d in progress", inFlight)
	}
	_, _ = fmt.Fprintln(w, statsStyle.Render(statsStr))
	_, _ = fmt.Fprintln(w, ui.RenderPending(summary.After, ui.RenderOptions{Cursor: -1, ShowIDs: true}))
}

func countInFlight(items []badge.PendingUpdate) int {
	n := 0
	for _, item := range items {
		if item.Pending {
			n++
		}
	}
	return n
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

// formatDuration formats a duration into a human-readable string.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		mins := int(d.Minutes())
		secs := int(d.Seconds()) % 60
		if secs == 0 {
			return fmt.Sprintf("%dm", mins)
		}
		return fmt.Sprintf("%dm %ds", mins, secs)
	}
	hours := int(d.Hours())
	mins := int(d.Minutes()) % 60
	if mins == 0 {
		return fmt.Sprintf("%dh", hours)
	}
	return fmt.Sprintf("%dh %dm", hours, mins)
}

// formatDelta formats a numeric delta with +/- prefix.
func formatDelta(delta int) string {
	if delta > 0 {
		return fmt.Sprintf("(+%d)", delta)
	}
	return fmt.Sprintf("(%d)", delta)
}

// printPendingList prints the list command's output.
func printPendingList(w io.Writer, items []badge.PendingUpdate) {
	if len(items) == 0 {
		_, _ = fmt.Fprintln(w, "All extensions are up to date.")
		return
	}
	_, _ = fmt.Fprintln(w, strings.TrimRight(ui.RenderPending(items, ui.RenderOptions{Cursor: -1, ShowIDs: true}), "\n"))
}
