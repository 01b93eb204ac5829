package engine

import (
	"time"

	"robolink/link"
	"robolink/platformmap"
	"robolink/status"
)

// EventType identifies the kind of event emitted by the Engine.
type EventType int

const (
	// Link events
	EventLinkStateChanged EventType = iota + 1
	EventConnectFailed
	EventLinkLost

	// Telemetry events
	EventSnapshot
	EventStaleLimit
	EventReadError

	// Command events
	EventCommandSent
	EventCommandFailed

	// Platform map events
	EventMapChanged
	EventMapSent
	EventMapSendFailed
)

var eventNames = map[EventType]string{
	EventLinkStateChanged: "link.state",
	EventConnectFailed:    "link.connect_failed",
	EventLinkLost:         "link.lost",
	EventSnapshot:         "telemetry.snapshot",
	EventStaleLimit:       "telemetry.stale",
	EventReadError:        "telemetry.read_error",
	EventCommandSent:      "command.sent",
	EventCommandFailed:    "command.failed",
	EventMapChanged:       "map.changed",
	EventMapSent:          "map.sent",
	EventMapSendFailed:    "map.send_failed",
}

func (t EventType) String() string {
	if n, ok := eventNames[t]; ok {
		return n
	}
	return "unknown"
}

// Event is the envelope emitted by the Engine's EventBus.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Payload   interface{}
}

// LinkStateEvent is emitted on every connection state transition.
type LinkStateEvent struct {
	OldState link.State `json:"old_state"`
	NewState link.State `json:"new_state"`
	Device   string     `json:"device"`
}

// LinkErrorEvent is emitted when a connection attempt fails or a live
// link is lost.
type LinkErrorEvent struct {
	Device string `json:"device"`
	Kind   string `json:"kind"`
	Error  string `json:"error"`
}

// SnapshotEvent carries each newly published telemetry snapshot.
type SnapshotEvent struct {
	Snapshot *status.Snapshot `json:"snapshot"`
}

// StaleLimitEvent is emitted once when telemetry stops advancing.
type StaleLimitEvent struct {
	Count    int    `json:"count"`
	Sequence uint16 `json:"sequence"`
}

// ReadErrorEvent is emitted for a failed telemetry read.
type ReadErrorEvent struct {
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

// CommandEvent describes one command write.
type CommandEvent struct {
	Endpoint string `json:"endpoint"`
	Payload  string `json:"payload,omitempty"`
	Kind     string `json:"kind,omitempty"`
	Error    string `json:"error,omitempty"`
}

// MapEvent describes a change to or transfer of the platform map.
type MapEvent struct {
	Document    *platformmap.Document `json:"document"`
	Fingerprint string                `json:"fingerprint,omitempty"`
	Error       string                `json:"error,omitempty"`
}
