package platform

// EventKind names a host lifecycle event.
type EventKind string

const (
	EventInstalled      EventKind = "installed"
	EventUninstalled    EventKind = "uninstalled"
	EventEnabled        EventKind = "enabled"
	EventAlarm          EventKind = "alarm"
	EventStorageChanged EventKind = "storage_changed"
	EventStartup        EventKind = "startup"
)

// Event is one host notification. ID is set for extension events, Name for
// alarms, Keys for storage changes.
type Event struct {
	Kind EventKind
	ID   string
	Name string
	Keys []string
}

// Message actions.
const (
	ActionCheckUpdates = "check-updates"
	ActionUpdateExt    = "update-ext"
	ActionInstallExt   = "install-ext"
)

// MessageArgs carries the arguments of a Message.
type MessageArgs struct {
	ID  string `json:"id,omitempty"`
	URL string `json:"url,omitempty"`
}

// Message is an inbound request from a UI or CLI.
type Message struct {
	Action string      `json:"action"`
	Args   MessageArgs `json:"args"`
}

// Response answers a Message.
type Response struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// OK is the success response.
func OK() Response { return Response{OK: true} }

// Fail builds a failure response from err.
func Fail(err error) Response {
	if err == nil {
		return Response{OK: false}
	}
	return Response{OK: false, Error: err.Error()}
}
