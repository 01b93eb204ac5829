// Package gatttest provides an in-memory gatt.Transport for tests and the
// simulator backend.
package gatttest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"robolink/gatt"
)

// ErrNoDevice is returned by Connect when no device matches the request.
var ErrNoDevice = errors.New("no matching device")

// Transport is a fake gatt.Transport holding a fixed set of devices.
type Transport struct {
	mu         sync.Mutex
	devices    []*Device
	connectErr error
	links      []*Link

	active        atomic.Int32
	maxConcurrent atomic.Int32
}

// New returns an empty fake transport.
func New() *Transport {
	return &Transport{}
}

// AddDevice registers a device that Connect can find.
func (t *Transport) AddDevice(name string) *Device {
	d := &Device{name: name, t: t}
	t.mu.Lock()
	t.devices = append(t.devices, d)
	t.mu.Unlock()
	return d
}

// FailConnect makes every following Connect return err. Pass nil to clear.
func (t *Transport) FailConnect(err error) {
	t.mu.Lock()
	t.connectErr = err
	t.mu.Unlock()
}

// Links returns every link handed out so far.
func (t *Transport) Links() []*Link {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Link(nil), t.links...)
}

// LastLink returns the most recent link, or nil.
func (t *Transport) LastLink() *Link {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.links) == 0 {
		return nil
	}
	return t.links[len(t.links)-1]
}

// MaxConcurrent reports the highest number of reads and writes that were
// ever executing at the same moment.
func (t *Transport) MaxConcurrent() int {
	return int(t.maxConcurrent.Load())
}

func (t *Transport) enter() {
	n := t.active.Add(1)
	for {
		m := t.maxConcurrent.Load()
		if n <= m || t.maxConcurrent.CompareAndSwap(m, n) {
			return
		}
	}
}

func (t *Transport) leave() { t.active.Add(-1) }

// Connect implements gatt.Transport.
func (t *Transport) Connect(ctx context.Context, req gatt.Request) (gatt.Link, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.connectErr != nil {
		return nil, t.connectErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, d := range t.devices {
		if !d.matches(req) {
			continue
		}
		l := &Link{t: t, dev: d}
		t.links = append(t.links, l)
		return l, nil
	}
	return nil, ErrNoDevice
}

// Device is a fake peripheral.
type Device struct {
	t     *Transport
	name  string
	mu    sync.Mutex
	chars []*Characteristic

	dropOnConnect bool
}

// Name returns the advertised name.
func (d *Device) Name() string { return d.name }

// DropOnConnect makes each new link to d drop as soon as the first
// disconnect handler is registered.
func (d *Device) DropOnConnect() { d.dropOnConnect = true }

// AddCharacteristic adds a characteristic under service.
func (d *Device) AddCharacteristic(service, uuid string, props gatt.Props) *Characteristic {
	c := &Characteristic{service: service, uuid: uuid, props: props}
	d.mu.Lock()
	d.chars = append(d.chars, c)
	d.mu.Unlock()
	return c
}

// Characteristic looks up a characteristic added to d.
func (d *Device) Characteristic(service, uuid string) *Characteristic {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.chars {
		if gatt.EqualUUID(c.service, service) && gatt.EqualUUID(c.uuid, uuid) {
			return c
		}
	}
	return nil
}

func (d *Device) matches(req gatt.Request) bool {
	if req.Name != "" {
		return d.name == req.Name
	}
	if len(req.Services) == 0 {
		return true
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.chars {
		for _, s := range req.Services {
			if gatt.EqualUUID(c.service, s) {
				return true
			}
		}
	}
	return false
}

// Write is one recorded write.
type Write struct {
	Data         []byte
	WithResponse bool
}

// Characteristic is a fake characteristic. Reads return the scripted
// responses in order, then the current value.
type Characteristic struct {
	service string
	uuid    string
	props   gatt.Props

	mu       sync.Mutex
	value    []byte
	script   [][]byte
	readErr  error
	readFn   func() ([]byte, error)
	writeErr error
	writeFn  func(data []byte) error
	delay    time.Duration
	reads    int
	writes   []Write
}

func (c *Characteristic) Service() string   { return c.service }
func (c *Characteristic) UUID() string      { return c.uuid }
func (c *Characteristic) Props() gatt.Props { return c.props }

// SetValue sets the value returned once the script is exhausted.
func (c *Characteristic) SetValue(b []byte) {
	c.mu.Lock()
	c.value = append([]byte(nil), b...)
	c.mu.Unlock()
}

// Script queues responses returned by the next reads, one per read.
func (c *Characteristic) Script(responses ...[]byte) {
	c.mu.Lock()
	c.script = append(c.script, responses...)
	c.mu.Unlock()
}

// OnRead replaces the read behaviour with fn.
func (c *Characteristic) OnRead(fn func() ([]byte, error)) {
	c.mu.Lock()
	c.readFn = fn
	c.mu.Unlock()
}

// OnWrite runs fn for every write; a non-nil result fails the write.
func (c *Characteristic) OnWrite(fn func(data []byte) error) {
	c.mu.Lock()
	c.writeFn = fn
	c.mu.Unlock()
}

// FailReads makes reads return err. Pass nil to clear.
func (c *Characteristic) FailReads(err error) {
	c.mu.Lock()
	c.readErr = err
	c.mu.Unlock()
}

// FailWrites makes writes return err. Pass nil to clear.
func (c *Characteristic) FailWrites(err error) {
	c.mu.Lock()
	c.writeErr = err
	c.mu.Unlock()
}

// SetDelay makes every read and write take at least d.
func (c *Characteristic) SetDelay(d time.Duration) {
	c.mu.Lock()
	c.delay = d
	c.mu.Unlock()
}

// Reads reports how many reads completed.
func (c *Characteristic) Reads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads
}

// Writes returns the recorded successful writes.
func (c *Characteristic) Writes() []Write {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Write(nil), c.writes...)
}

// ReadNow performs a read without going through a link.
func (c *Characteristic) ReadNow() ([]byte, error) {
	return c.read()
}

func (c *Characteristic) read() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads++
	if c.readErr != nil {
		return nil, c.readErr
	}
	if c.readFn != nil {
		return c.readFn()
	}
	if len(c.script) > 0 {
		b := c.script[0]
		c.script = c.script[1:]
		return b, nil
	}
	return append([]byte(nil), c.value...), nil
}

func (c *Characteristic) write(data []byte, withResponse bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	if c.writeFn != nil {
		if err := c.writeFn(data); err != nil {
			return err
		}
	}
	c.writes = append(c.writes, Write{Data: append([]byte(nil), data...), WithResponse: withResponse})
	return nil
}

func (c *Characteristic) wait(ctx context.Context) error {
	c.mu.Lock()
	d := c.delay
	c.mu.Unlock()
	if d <= 0 {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Link is a fake connection to one Device.
type Link struct {
	t   *Transport
	dev *Device

	mu      sync.Mutex
	closed  bool
	dropped bool
	handler []func(error)
}

// Name implements gatt.Link.
func (l *Link) Name() string { return l.dev.name }

// Device returns the device this link is connected to.
func (l *Link) Device() *Device { return l.dev }

// Channel implements gatt.Link.
func (l *Link) Channel(ctx context.Context, service, uuid string) (gatt.Channel, error) {
	if l.isClosed() {
		return nil, errors.New("link closed")
	}
	c := l.dev.Characteristic(service, uuid)
	if c == nil {
		return nil, fmt.Errorf("characteristic %s/%s not found", service, uuid)
	}
	return c, nil
}

// Read implements gatt.Link.
func (l *Link) Read(ctx context.Context, ch gatt.Channel) ([]byte, error) {
	c, ok := ch.(*Characteristic)
	if !ok {
		return nil, errors.New("foreign channel")
	}
	if l.isClosed() {
		return nil, errors.New("link closed")
	}
	l.t.enter()
	defer l.t.leave()
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	return c.read()
}

// Write implements gatt.Link.
func (l *Link) Write(ctx context.Context, ch gatt.Channel, data []byte, withResponse bool) error {
	c, ok := ch.(*Characteristic)
	if !ok {
		return errors.New("foreign channel")
	}
	if l.isClosed() {
		return errors.New("link closed")
	}
	l.t.enter()
	defer l.t.leave()
	if err := c.wait(ctx); err != nil {
		return err
	}
	return c.write(data, withResponse)
}

// OnDisconnect implements gatt.Link.
func (l *Link) OnDisconnect(fn func(err error)) {
	l.mu.Lock()
	l.handler = append(l.handler, fn)
	l.mu.Unlock()
	if l.dev.dropOnConnect {
		l.Drop(errors.New("link dropped after connect"))
	}
}

// Close implements gatt.Link.
func (l *Link) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return nil
}

// Closed reports whether Close was called or the link dropped.
func (l *Link) Closed() bool { return l.isClosed() }

// Drop simulates the device dropping the link and fires the disconnect
// handlers once.
func (l *Link) Drop(err error) {
	l.mu.Lock()
	if l.dropped || l.closed {
		l.mu.Unlock()
		return
	}
	l.dropped = true
	l.closed = true
	handlers := append([]func(error){}, l.handler...)
	l.mu.Unlock()
	for _, fn := range handlers {
		fn(err)
	}
}

func (l *Link) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}
