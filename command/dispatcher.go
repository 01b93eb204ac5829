package command

import (
	"context"
	"errors"
	"log"

	"robolink/fault"
	"robolink/gatt"
)

var errNotConnected = errors.New("robot not connected")

// Connection hands out the serialized link while the robot is connected.
type Connection interface {
	Link() (gatt.Link, bool)
}

// Dispatcher writes commands to the robot. Every command is independent:
// no retry, no request ids, nothing beyond the link's own acknowledgement.
type Dispatcher struct {
	conn    Connection
	emitter EventEmitter
	debugFn func(format string, args ...interface{})
}

// NewDispatcher creates a dispatcher writing through conn.
func NewDispatcher(conn Connection, emitter EventEmitter) *Dispatcher {
	if emitter == nil {
		emitter = nopEmitter{}
	}
	return &Dispatcher{
		conn:    conn,
		emitter: emitter,
		debugFn: func(string, ...interface{}) {},
	}
}

// SetDebug routes payload traces to fn.
func (d *Dispatcher) SetDebug(fn func(format string, args ...interface{})) {
	if fn != nil {
		d.debugFn = fn
	}
}

// Write sends payload to ep. It uses write-with-response when the
// characteristic declares it and falls back to write-without-response.
func (d *Dispatcher) Write(ctx context.Context, ep Endpoint, payload []byte) error {
	op := "write " + ep.Name
	l, ok := d.conn.Link()
	if !ok {
		return fault.New(fault.ConnectionUnavailable, op, errNotConnected)
	}
	ch, err := l.Channel(ctx, ep.Service, ep.Characteristic)
	if err != nil {
		return fault.New(fault.ChannelNotFound, op, err)
	}

	var withResponse bool
	switch p := ch.Props(); {
	case p.Write:
		withResponse = true
	case p.WriteWithoutResponse:
	default:
		return fault.Errorf(fault.WriteUnsupported, op, "characteristic %s is not writable", ep.Characteristic)
	}

	d.debugFn("command: %s (response=%v) %s", ep.Name, withResponse, payload)
	if err := l.Write(ctx, ch, payload, withResponse); err != nil {
		if fault.KindOf(err) != fault.Unknown {
			return err
		}
		return fault.New(fault.Unknown, op, err)
	}
	return nil
}

// Send validates and encodes c, then writes it. The outcome is logged and
// emitted either way.
func (d *Dispatcher) Send(ctx context.Context, c Command) error {
	ep := c.Endpoint()
	err := d.send(ctx, c)
	if err != nil {
		log.Printf("command: %s failed: %v", ep.Name, err)
		d.emitter.EmitCommandFailed(ep, err)
		return err
	}
	return nil
}

func (d *Dispatcher) send(ctx context.Context, c Command) error {
	if err := Validate(c); err != nil {
		return err
	}
	payload, err := c.Payload()
	if err != nil {
		return err
	}
	if err := d.Write(ctx, c.Endpoint(), payload); err != nil {
		return err
	}
	d.emitter.EmitCommandSent(c.Endpoint(), payload)
	return nil
}

// OK sends c and reports whether the write succeeded.
func (d *Dispatcher) OK(ctx context.Context, c Command) bool {
	return d.Send(ctx, c) == nil
}

// Read reads the raw value of ep.
func (d *Dispatcher) Read(ctx context.Context, ep Endpoint) ([]byte, error) {
	op := "read " + ep.Name
	l, ok := d.conn.Link()
	if !ok {
		return nil, fault.New(fault.ConnectionUnavailable, op, errNotConnected)
	}
	ch, err := l.Channel(ctx, ep.Service, ep.Characteristic)
	if err != nil {
		return nil, fault.New(fault.ChannelNotFound, op, err)
	}
	if !ch.Props().Read {
		return nil, fault.Errorf(fault.ChannelNotFound, op, "characteristic %s is not readable", ep.Characteristic)
	}
	b, err := l.Read(ctx, ch)
	if err != nil {
		if fault.KindOf(err) != fault.Unknown {
			return nil, err
		}
		return nil, fault.New(fault.Unknown, op, err)
	}
	return b, nil
}
