package ui

import (
	"fmt"
	"time"
)

var timeNow = time.Now

// FormatRelativeTime returns a compact description of how long ago t was.
// Results stay within ~8 characters so they fit a list column.
func FormatRelativeTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}

	now := timeNow()
	if t.After(now) {
		return formatAbsoluteTime(t, now)
	}

	diff := now.Sub(t)
	switch {
	case diff < time.Minute:
		return "now"
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff/time.Minute))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff/time.Hour))
	case diff < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(diff/(24*time.Hour)))
	default:
		return formatAbsoluteTime(t, now)
	}
}

// FormatCheckTime formats a lastCheck value in epoch milliseconds.
func FormatCheckTime(ms int64) string {
	if ms <= 0 {
		return "never"
	}
	return FormatRelativeTime(time.UnixMilli(ms))
}

func formatAbsoluteTime(t, now time.Time) string {
	local := t.In(now.Location())
	if local.Year() == now.Year() {
		return local.Format("Jan 2")
	}
	return local.Format("Jan '06")
}
