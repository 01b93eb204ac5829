package telemetry

import "robolink/status"

// EventEmitter is the interface the telemetry package uses to emit events.
// The engine package implements this via an adapter to avoid import cycles.
type EventEmitter interface {
	EmitSnapshot(s *status.Snapshot)
	EmitStaleLimit(count int, sequence uint16)
	EmitReadError(err error)
}

type nopEmitter struct{}

func (nopEmitter) EmitSnapshot(*status.Snapshot) {}
func (nopEmitter) EmitStaleLimit(int, uint16)    {}
func (nopEmitter) EmitReadError(error)           {}
