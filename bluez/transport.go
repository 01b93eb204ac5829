// Package bluez implements gatt.Transport over the BlueZ D-Bus API.
package bluez

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"robolink/gatt"
)

const (
	busName             = "org.bluez"
	adapterIface        = "org.bluez.Adapter1"
	deviceIface         = "org.bluez.Device1"
	serviceIface        = "org.bluez.GattService1"
	characteristicIface = "org.bluez.GattCharacteristic1"
	propertiesIface     = "org.freedesktop.DBus.Properties"
	objectManager       = "org.freedesktop.DBus.ObjectManager.GetManagedObjects"
)

// ErrNotFound is returned when discovery ends without a matching device.
var ErrNotFound = errors.New("bluez: no matching device")

type managedObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// Config selects the adapter and the discovery cadence.
type Config struct {
	Adapter      string        // e.g. "hci0"
	ScanInterval time.Duration // how often discovered devices are checked
}

// Transport discovers and connects devices through one BlueZ adapter.
type Transport struct {
	conn     *dbus.Conn
	adapter  dbus.ObjectPath
	interval time.Duration
}

// New connects to the system bus.
func New(cfg Config) (*Transport, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect system bus: %w", err)
	}
	return NewWithConn(conn, cfg), nil
}

// NewWithConn uses an existing bus connection.
func NewWithConn(conn *dbus.Conn, cfg Config) *Transport {
	if cfg.Adapter == "" {
		cfg.Adapter = "hci0"
	}
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = time.Second
	}
	return &Transport{
		conn:     conn,
		adapter:  dbus.ObjectPath("/org/bluez/" + cfg.Adapter),
		interval: cfg.ScanInterval,
	}
}

// Connect scans until a device matching req appears, connects it and waits
// for GATT service resolution.
func (t *Transport) Connect(ctx context.Context, req gatt.Request) (gatt.Link, error) {
	path, name, err := t.discover(ctx, req)
	if err != nil {
		return nil, err
	}

	dev := t.conn.Object(busName, path)
	log.Printf("bluez: connecting %s (%s)", name, path)
	if err := dev.CallWithContext(ctx, deviceIface+".Connect", 0).Err; err != nil {
		return nil, fmt.Errorf("connect %s: %w", name, err)
	}
	if err := t.waitResolved(ctx, dev); err != nil {
		dev.Call(deviceIface+".Disconnect", 0)
		return nil, err
	}

	l := &link{t: t, path: path, name: name, stop: make(chan struct{})}
	if err := l.watch(); err != nil {
		dev.Call(deviceIface+".Disconnect", 0)
		return nil, err
	}
	return l, nil
}

func (t *Transport) discover(ctx context.Context, req gatt.Request) (dbus.ObjectPath, string, error) {
	// Devices BlueZ already knows about are usable without a scan.
	if path, name, ok := t.findDevice(req); ok {
		return path, name, nil
	}

	adapter := t.conn.Object(busName, t.adapter)
	filter := map[string]interface{}{
		"Transport":     "le",
		"DuplicateData": false,
	}
	if len(req.Services) > 0 {
		filter["UUIDs"] = req.Services
	}
	if err := adapter.Call(adapterIface+".SetDiscoveryFilter", 0, filter).Err; err != nil {
		log.Printf("bluez: set discovery filter: %v", err)
	}
	if err := adapter.Call(adapterIface+".StartDiscovery", 0).Err; err != nil {
		return "", "", fmt.Errorf("start discovery: %w", err)
	}
	defer func() {
		if err := adapter.Call(adapterIface+".StopDiscovery", 0).Err; err != nil {
			log.Printf("bluez: stop discovery: %v", err)
		}
	}()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return "", "", fmt.Errorf("%w: %v", ErrNotFound, ctx.Err())
		case <-ticker.C:
			if path, name, ok := t.findDevice(req); ok {
				return path, name, nil
			}
		}
	}
}

func (t *Transport) objects() (managedObjects, error) {
	objects := make(managedObjects)
	err := t.conn.Object(busName, "/").Call(objectManager, 0).Store(&objects)
	if err != nil {
		return nil, fmt.Errorf("get managed objects: %w", err)
	}
	return objects, nil
}

func (t *Transport) findDevice(req gatt.Request) (dbus.ObjectPath, string, bool) {
	objects, err := t.objects()
	if err != nil {
		log.Printf("bluez: %v", err)
		return "", "", false
	}
	prefix := string(t.adapter) + "/dev_"
	for path, ifaces := range objects {
		if !strings.HasPrefix(string(path), prefix) {
			continue
		}
		props, ok := ifaces[deviceIface]
		if !ok {
			continue
		}
		name, _ := props["Name"].Value().(string)
		if req.Name != "" {
			if name == req.Name {
				return path, name, true
			}
			continue
		}
		uuids, _ := props["UUIDs"].Value().([]string)
		if advertises(uuids, req.Services) {
			return path, name, true
		}
	}
	return "", "", false
}

func advertises(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if gatt.EqualUUID(h, w) {
				return true
			}
		}
	}
	return false
}

func (t *Transport) waitResolved(ctx context.Context, dev dbus.BusObject) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		var v dbus.Variant
		err := dev.CallWithContext(ctx, propertiesIface+".Get", 0, deviceIface, "ServicesResolved").Store(&v)
		if err == nil {
			if resolved, _ := v.Value().(bool); resolved {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("wait for services: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

// channel is a resolved characteristic object.
type channel struct {
	path    dbus.ObjectPath
	service string
	uuid    string
	props   gatt.Props
}

func (c *channel) Service() string   { return c.service }
func (c *channel) UUID() string      { return c.uuid }
func (c *channel) Props() gatt.Props { return c.props }

type link struct {
	t    *Transport
	path dbus.ObjectPath
	name string

	rule    string
	signals chan *dbus.Signal
	stop    chan struct{}

	mu       sync.Mutex
	closed   bool
	fired    bool
	handlers []func(error)
}

func (l *link) Name() string { return l.name }

func (l *link) Channel(ctx context.Context, service, uuid string) (gatt.Channel, error) {
	objects, err := l.t.objects()
	if err != nil {
		return nil, err
	}
	prefix := string(l.path) + "/"

	var svcPath dbus.ObjectPath
	for path, ifaces := range objects {
		props, ok := ifaces[serviceIface]
		if !ok || !strings.HasPrefix(string(path), prefix) {
			continue
		}
		if u, _ := props["UUID"].Value().(string); gatt.EqualUUID(u, service) {
			svcPath = path
			break
		}
	}
	if svcPath == "" {
		return nil, fmt.Errorf("service %s not present on %s", service, l.name)
	}

	for path, ifaces := range objects {
		props, ok := ifaces[characteristicIface]
		if !ok {
			continue
		}
		if sp, _ := props["Service"].Value().(dbus.ObjectPath); sp != svcPath {
			continue
		}
		if u, _ := props["UUID"].Value().(string); !gatt.EqualUUID(u, uuid) {
			continue
		}
		flags, _ := props["Flags"].Value().([]string)
		return &channel{path: path, service: service, uuid: uuid, props: gatt.ParseFlags(flags)}, nil
	}
	return nil, fmt.Errorf("characteristic %s not present in service %s", uuid, service)
}

func (l *link) Read(ctx context.Context, ch gatt.Channel) ([]byte, error) {
	c, ok := ch.(*channel)
	if !ok {
		return nil, fmt.Errorf("read: foreign channel %T", ch)
	}
	var value []byte
	err := l.t.conn.Object(busName, c.path).
		CallWithContext(ctx, characteristicIface+".ReadValue", 0, map[string]interface{}{}).
		Store(&value)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", c.uuid, err)
	}
	return value, nil
}

func (l *link) Write(ctx context.Context, ch gatt.Channel, data []byte, withResponse bool) error {
	c, ok := ch.(*channel)
	if !ok {
		return fmt.Errorf("write: foreign channel %T", ch)
	}
	options := map[string]interface{}{"type": "command"}
	if withResponse {
		options["type"] = "request"
	}
	err := l.t.conn.Object(busName, c.path).
		CallWithContext(ctx, characteristicIface+".WriteValue", 0, data, options).Err
	if err != nil {
		return fmt.Errorf("write %s: %w", c.uuid, err)
	}
	return nil
}

func (l *link) OnDisconnect(fn func(err error)) {
	l.mu.Lock()
	l.handlers = append(l.handlers, fn)
	l.mu.Unlock()
}

// watch subscribes to property changes on the device object and fires the
// disconnect handlers when Connected goes false.
func (l *link) watch() error {
	l.rule = fmt.Sprintf("type='signal',interface='%s',member='PropertiesChanged',path='%s'", propertiesIface, l.path)
	if err := l.t.conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, l.rule).Err; err != nil {
		return fmt.Errorf("add match rule: %w", err)
	}
	l.signals = make(chan *dbus.Signal, 16)
	l.t.conn.Signal(l.signals)
	go l.monitor()
	return nil
}

func (l *link) monitor() {
	for {
		select {
		case <-l.stop:
			return
		case sig, ok := <-l.signals:
			if !ok {
				l.fire(errors.New("system bus closed"))
				return
			}
			if sig == nil || sig.Path != l.path || sig.Name != propertiesIface+".PropertiesChanged" {
				continue
			}
			if len(sig.Body) < 2 {
				continue
			}
			changed, ok := sig.Body[1].(map[string]dbus.Variant)
			if !ok {
				continue
			}
			if v, exists := changed["Connected"]; exists {
				if connected, _ := v.Value().(bool); !connected {
					l.fire(fmt.Errorf("%s disconnected", l.name))
					return
				}
			}
		}
	}
}

func (l *link) fire(err error) {
	l.mu.Lock()
	if l.closed || l.fired {
		l.mu.Unlock()
		return
	}
	l.fired = true
	handlers := append([]func(error){}, l.handlers...)
	l.mu.Unlock()
	for _, fn := range handlers {
		fn(err)
	}
}

func (l *link) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	close(l.stop)
	l.t.conn.RemoveSignal(l.signals)
	l.t.conn.BusObject().Call("org.freedesktop.DBus.RemoveMatch", 0, l.rule)
	if err := l.t.conn.Object(busName, l.path).Call(deviceIface+".Disconnect", 0).Err; err != nil {
		return fmt.Errorf("disconnect %s: %w", l.name, err)
	}
	return nil
}
