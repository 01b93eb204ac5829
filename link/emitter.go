package link

// EventEmitter is the interface the link package uses to emit events.
// The engine package implements this via an adapter to avoid import cycles.
type EventEmitter interface {
	EmitStateChanged(old, new State, device string)
	EmitConnectFailed(nameFilter string, err error)
	EmitLinkLost(device string, reason error)
}

type nopEmitter struct{}

func (nopEmitter) EmitStateChanged(State, State, string) {}
func (nopEmitter) EmitConnectFailed(string, error)       {}
func (nopEmitter) EmitLinkLost(string, error)            {}
