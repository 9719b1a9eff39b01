// Package platform defines the host capabilities the update core consumes.
//
// The core never talks to a browser directly. It is handed implementations of
// these interfaces: internal/platform/chromium for a real profile, the mocks in
// this package for tests.
package platform

import (
	"context"
	"time"
)

// TypeExtension is the only item type the monitor tracks. Themes and apps are ignored.
const TypeExtension = "extension"

// ExtensionInfo is the live view of one installed item.
type ExtensionInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	ShortName string `json:"shortName"`
	Version   string `json:"version"`
	UpdateURL string `json:"updateUrl,omitempty"`
	Type      string `json:"type"`
	Enabled   bool   `json:"enabled"`
}

// Management enumerates installed items.
type Management interface {
	Get(ctx context.Context, id string) (ExtensionInfo, error)
	GetAll(ctx context.Context) ([]ExtensionInfo, error)
	// SelfID is the id the monitor itself is installed under, empty if none.
	SelfID() string
}

// TransferID identifies one download.
type TransferID string

// TransferState is the lifecycle of a download.
type TransferState string

const (
	TransferInProgress  TransferState = "in_progress"
	TransferComplete    TransferState = "complete"
	TransferInterrupted TransferState = "interrupted"
)

// Terminal reports whether no further deltas will follow.
func (s TransferState) Terminal() bool {
	return s == TransferComplete || s == TransferInterrupted
}

// TransferDelta reports a state change of one download.
type TransferDelta struct {
	ID       TransferID
	State    TransferState
	Filename string
	Error    string
}

// Downloads is the download primitive.
type Downloads interface {
	// Download starts a transfer and returns its id without waiting for it.
	Download(ctx context.Context, url string) (TransferID, error)
	// Subscribe returns a stream of deltas for every transfer. The returned func
	// unsubscribes; deltas are not dropped while subscribed.
	Subscribe() (<-chan TransferDelta, func())
	Cancel(ctx context.Context, id TransferID) error
	Erase(ctx context.Context, id TransferID) error
}

// AlarmInfo configures an alarm. A zero Period makes it one-shot.
type AlarmInfo struct {
	Delay  time.Duration
	Period time.Duration
}

// Alarm is a scheduled alarm.
type Alarm struct {
	Name          string        `json:"name"`
	ScheduledTime time.Time     `json:"scheduledTime"`
	Period        time.Duration `json:"period,omitempty"`
}

// Alarms is the named-alarm primitive. Fired alarms arrive as EventAlarm.
type Alarms interface {
	// Create schedules name, replacing any existing alarm with that name.
	Create(ctx context.Context, name string, info AlarmInfo) error
	Get(ctx context.Context, name string) (Alarm, bool, error)
	Clear(ctx context.Context, name string) (bool, error)
}

// HostInfo describes the browser the monitor runs against.
type HostInfo interface {
	// ProductVersion is the browser version sent as prodversion in store requests.
	ProductVersion(ctx context.Context) (string, error)
}

// Badge is the indicator shown for pending updates.
type Badge struct {
	Text      string `json:"text"`
	Color     string `json:"color"`
	TextColor string `json:"textColor"`
}

// BadgeSink displays a Badge.
type BadgeSink interface {
	SetBadge(ctx context.Context, badge Badge) error
}
