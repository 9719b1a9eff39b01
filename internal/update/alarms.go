package update

import (
	"strings"
	"time"

	"extwatch/internal/platform"
)

// Alarm names.
const (
	AlarmCheckUpdates      = "check-updates"
	AlarmCheckUpdatesRetry = "check-updates-retry"

	downloadTimeoutPrefix = "timeout-dl-"
	pendingTimeoutPrefix  = "timeout-upd-"
)

// Default durations.
const (
	DefaultCheckPeriod     = 180 * time.Minute
	DefaultCheckDelay      = time.Minute
	DefaultRetryDelay      = time.Minute
	DefaultDownloadTimeout = time.Minute
	DefaultConfirmTimeout  = 2 * time.Minute
)

// DownloadTimeoutAlarm names the alarm that cancels a stuck transfer.
func DownloadTimeoutAlarm(id platform.TransferID) string {
	return downloadTimeoutPrefix + string(id)
}

// PendingTimeoutAlarm names the alarm that gives up waiting for an install.
func PendingTimeoutAlarm(extID string) string {
	return pendingTimeoutPrefix + extID
}

// AlarmKind classifies an alarm name.
type AlarmKind int

const (
	AlarmUnknown AlarmKind = iota
	AlarmCheck
	AlarmDownloadTimeout
	AlarmPendingTimeout
)

// ParseAlarm classifies name and returns the id it carries, if any.
func ParseAlarm(name string) (AlarmKind, string) {
	switch {
	case name == AlarmCheckUpdates || name == AlarmCheckUpdatesRetry:
		return AlarmCheck, ""
	case strings.HasPrefix(name, downloadTimeoutPrefix) && len(name) > len(downloadTimeoutPrefix):
		return AlarmDownloadTimeout, strings.TrimPrefix(name, downloadTimeoutPrefix)
	case strings.HasPrefix(name, pendingTimeoutPrefix) && len(name) > len(pendingTimeoutPrefix):
		return AlarmPendingTimeout, strings.TrimPrefix(name, pendingTimeoutPrefix)
	default:
		return AlarmUnknown, ""
	}
}
