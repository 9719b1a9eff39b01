package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// footerHint is a key hint for the footer bar.
type footerHint struct {
	key  string
	desc string
}

// Ordered by importance; the tail is dropped first when space is short.
var footerHints = []footerHint{
	{"⏎", "Update"},
	{"c", "Check"},
	{"q", "Quit"},
	{"↑↓", "Navigate"},
	{"y", "Copy ID"},
	{"r", "Reload"},
}

func renderFooter(width int) string {
	hints := trimHintsToFit(footerHints, width)
	parts := make([]string, 0, len(hints))
	for _, h := range hints {
		parts = append(parts, keyPill(h.key, h.desc))
	}
	return strings.Join(parts, "  ")
}

func keyPill(key, desc string) string {
	return styleKeyPill.Render(" "+key+" ") + " " + styleKeyDesc.Render(desc)
}

// trimHintsToFit removes hints from the end until they fit. A width of zero
// or less keeps every hint.
func trimHintsToFit(hints []footerHint, availableWidth int) []footerHint {
	if availableWidth <= 0 {
		return hints
	}
	for len(hints) > 0 && renderHintsWidth(hints) > availableWidth {
		hints = hints[:len(hints)-1]
	}
	return hints
}

func renderHintsWidth(hints []footerHint) int {
	var parts []string
	for _, h := range hints {
		parts = append(parts, keyPill(h.key, h.desc))
	}
	return lipgloss.Width(strings.Join(parts, "  "))
}
