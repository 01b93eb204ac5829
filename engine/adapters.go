package engine

import (
	"robolink/command"
	"robolink/fault"
	"robolink/link"
	"robolink/platformmap"
	"robolink/status"
)

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// linkEmitter adapts the engine's EventBus to the link.EventEmitter interface.
type linkEmitter struct {
	bus *EventBus
}

func (e *linkEmitter) EmitStateChanged(old, new link.State, device string) {
	e.bus.Emit(Event{Type: EventLinkStateChanged, Payload: LinkStateEvent{
		OldState: old, NewState: new, Device: device,
	}})
}

func (e *linkEmitter) EmitConnectFailed(nameFilter string, err error) {
	e.bus.Emit(Event{Type: EventConnectFailed, Payload: LinkErrorEvent{
		Device: nameFilter, Kind: fault.KindOf(err).String(), Error: errString(err),
	}})
}

func (e *linkEmitter) EmitLinkLost(device string, reason error) {
	e.bus.Emit(Event{Type: EventLinkLost, Payload: LinkErrorEvent{
		Device: device, Kind: fault.KindOf(reason).String(), Error: errString(reason),
	}})
}

// telemetryEmitter adapts the engine's EventBus to the telemetry.EventEmitter interface.
type telemetryEmitter struct {
	bus *EventBus
}

func (e *telemetryEmitter) EmitSnapshot(s *status.Snapshot) {
	e.bus.Emit(Event{Type: EventSnapshot, Payload: SnapshotEvent{Snapshot: s}})
}

func (e *telemetryEmitter) EmitStaleLimit(count int, seq uint16) {
	e.bus.Emit(Event{Type: EventStaleLimit, Payload: StaleLimitEvent{Count: count, Sequence: seq}})
}

func (e *telemetryEmitter) EmitReadError(err error) {
	e.bus.Emit(Event{Type: EventReadError, Payload: ReadErrorEvent{
		Kind: fault.KindOf(err).String(), Error: errString(err),
	}})
}

// commandEmitter adapts the engine's EventBus to the command.EventEmitter interface.
type commandEmitter struct {
	bus *EventBus
}

func (e *commandEmitter) EmitCommandSent(ep command.Endpoint, payload []byte) {
	e.bus.Emit(Event{Type: EventCommandSent, Payload: CommandEvent{
		Endpoint: ep.Name, Payload: string(payload),
	}})
}

func (e *commandEmitter) EmitCommandFailed(ep command.Endpoint, err error) {
	e.bus.Emit(Event{Type: EventCommandFailed, Payload: CommandEvent{
		Endpoint: ep.Name, Kind: fault.KindOf(err).String(), Error: errString(err),
	}})
}

// mapEmitter adapts the engine's EventBus to the platformmap.EventEmitter interface.
type mapEmitter struct {
	bus *EventBus
}

func (e *mapEmitter) EmitMapChanged(d *platformmap.Document) {
	e.bus.Emit(Event{Type: EventMapChanged, Payload: MapEvent{Document: d}})
}

func (e *mapEmitter) EmitMapSent(d *platformmap.Document, fingerprint string) {
	e.bus.Emit(Event{Type: EventMapSent, Payload: MapEvent{Document: d, Fingerprint: fingerprint}})
}

func (e *mapEmitter) EmitMapSendFailed(d *platformmap.Document, err error) {
	e.bus.Emit(Event{Type: EventMapSendFailed, Payload: MapEvent{Document: d, Error: errString(err)}})
}
