package platformmap

// EventEmitter is the interface the platformmap package uses to emit events.
// The engine package implements this via an adapter to avoid import cycles.
type EventEmitter interface {
	EmitMapChanged(d *Document)
	EmitMapSent(d *Document, fingerprint string)
	EmitMapSendFailed(d *Document, err error)
}

type nopEmitter struct{}

func (nopEmitter) EmitMapChanged(*Document)           {}
func (nopEmitter) EmitMapSent(*Document, string)      {}
func (nopEmitter) EmitMapSendFailed(*Document, error) {}
