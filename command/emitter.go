package command

// EventEmitter is the interface the command package uses to emit events.
// The engine package implements this via an adapter to avoid import cycles.
type EventEmitter interface {
	EmitCommandSent(endpoint Endpoint, payload []byte)
	EmitCommandFailed(endpoint Endpoint, err error)
}

type nopEmitter struct{}

func (nopEmitter) EmitCommandSent(Endpoint, []byte)  {}
func (nopEmitter) EmitCommandFailed(Endpoint, error) {}
