package messaging

import (
	"robolink/link"
	"robolink/status"
)

// Message types.
const (
	TypeTelemetry     = "robot.telemetry"
	TypeState         = "robot.state"
	TypeHeartbeat     = "robot.heartbeat"
	TypeCommand       = "robot.command"
	TypeCommandResult = "robot.command.result"
	TypeMapSent       = "robot.map.sent"
	TypeNodeStatus    = "robot.node.status"
)

// TelemetryPayload carries the latest snapshot.
type TelemetryPayload struct {
	Device   string           `json:"device"`
	Snapshot *status.Snapshot `json:"snapshot"`
}

// StatePayload reports a connection state change.
type StatePayload struct {
	Device   string     `json:"device"`
	OldState link.State `json:"old_state"`
	NewState link.State `json:"new_state"`
	Reason   string     `json:"reason,omitempty"`
}

// HeartbeatPayload is published periodically on the events topic.
type HeartbeatPayload struct {
	Node   string     `json:"node"`
	Device string     `json:"device"`
	State  link.State `json:"state"`
	Uptime int64      `json:"uptime_s"`
}

// CommandRequest asks robolink to write a command to the robot. Args hold
// the same fields as the HTTP command body.
type CommandRequest struct {
	Command string         `json:"command"`
	Args    map[string]any `json:"args,omitempty"`
}

// CommandResult answers a CommandRequest.
type CommandResult struct {
	Command string `json:"command"`
	OK      bool   `json:"ok"`
	Kind    string `json:"kind,omitempty"`
	Error   string `json:"error,omitempty"`
}

// MapSentPayload records a completed map transfer.
type MapSentPayload struct {
	MapName        string `json:"map_name"`
	PlatformNumber int    `json:"platform_number"`
	Fingerprint    string `json:"fingerprint"`
}

// NodeStatusPayload is the retained presence message for a node.
type NodeStatusPayload struct {
	Node   string `json:"node"`
	Online bool   `json:"online"`
}

// NewPresence builds the online and offline messages for nodeID, published
// on topic/nodeID.
func NewPresence(c Codec, nodeID, topic string) (*Presence, error) {
	p := &Presence{Topic: topic + "/" + nodeID}
	for _, online := range []bool{true, false} {
		env, err := NewEnvelope(c, TypeNodeStatus, nodeID, NodeStatusPayload{Node: nodeID, Online: online})
		if err != nil {
			return nil, err
		}
		data, err := env.Encode()
		if err != nil {
			return nil, err
		}
		if online {
			p.Online = data
		} else {
			p.Offline = data
		}
	}
	return p, nil
}
