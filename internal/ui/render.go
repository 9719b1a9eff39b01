package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/truncate"

	"extwatch/internal/badge"
)

const (
	minNameWidth = 8
	maxNameWidth = 40
	ellipsis     = "…"
)

// RenderOptions controls RenderPending.
type RenderOptions struct {
	// Width bounds each line; zero means unbounded.
	Width int
	// Cursor highlights one row; negative highlights none.
	Cursor int
	// ShowIDs appends the extension id to each row.
	ShowIDs bool
}

// RenderPending renders one line per pending update.
func RenderPending(items []badge.PendingUpdate, opts RenderOptions) string {
	if len(items) == 0 {
		return ""
	}
	nameWidth := nameColumnWidth(items, opts.Width)
	lines := make([]string, 0, len(items))
	for i, item := range items {
		lines = append(lines, renderRow(item, nameWidth, i == opts.Cursor, opts.ShowIDs))
	}
	return strings.Join(lines, "\n")
}

func nameColumnWidth(items []badge.PendingUpdate, width int) int {
	longest := 0
	for _, item := range items {
		if w := lipgloss.Width(item.ShortName); w > longest {
			longest = w
		}
	}
	if longest > maxNameWidth {
		longest = maxNameWidth
	}
	if width > 0 {
		// marker, versions, state and age take roughly 40 columns.
		if avail := width - 40; avail < longest {
			longest = avail
		}
	}
	if longest < minNameWidth {
		longest = minNameWidth
	}
	return longest
}

func renderRow(item badge.PendingUpdate, nameWidth int, selected, showID bool) string {
	name := fitName(item.ShortName, nameWidth)

	marker := "  "
	if selected {
		marker = "▸ "
	}
	nameCell := styleName.Render(name)
	if selected {
		nameCell = styleSelected.Render(name)
	}

	var b strings.Builder
	b.WriteString(marker)
	b.WriteString(nameCell)
	b.WriteString("  ")
	b.WriteString(styleVersion.Render(item.Version))
	b.WriteString(styleDim.Render(" → "))
	b.WriteString(styleNewer.Render(item.NewVersion))
	if item.Pending {
		b.WriteString("  ")
		b.WriteString(stylePending.Render("[" + item.State + "]"))
	}
	if item.LastCheck > 0 {
		b.WriteString("  ")
		b.WriteString(styleDim.Render(FormatCheckTime(item.LastCheck)))
	}
	if showID {
		b.WriteString("  ")
		b.WriteString(styleID.Render(item.ID))
	}
	return b.String()
}

// fitName truncates or pads s to exactly width cells.
func fitName(s string, width int) string {
	if lipgloss.Width(s) > width {
		s = truncate.StringWithTail(s, uint(width), ellipsis)
	}
	if pad := width - lipgloss.Width(s); pad > 0 {
		s += strings.Repeat(" ", pad)
	}
	return s
}
