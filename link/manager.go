// Package link owns the connection to the robot: it opens the transport,
// resolves the status characteristic, runs the telemetry poller while the
// link is up and tears everything down on close, staleness or an
// unsolicited disconnect.
package link

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"robolink/fault"
	"robolink/gatt"
	"robolink/telemetry"
)

// State is the connection state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}
	return "disconnected"
}

// MarshalText renders the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(b []byte) error {
	switch string(b) {
	case "disconnected":
		*s = Disconnected
	case "connecting":
		*s = Connecting
	case "connected":
		*s = Connected
	default:
		return fmt.Errorf("unknown link state %q", b)
	}
	return nil
}

// Config identifies the status characteristic and bounds connection setup.
type Config struct {
	StatusService        string
	StatusCharacteristic string
	ConnectTimeout       time.Duration
	Telemetry            telemetry.Config
}

// Info describes the current connection.
type Info struct {
	State       State            `json:"state"`
	Device      string           `json:"device,omitempty"`
	Session     string           `json:"session,omitempty"`
	ConnectedAt *time.Time       `json:"connected_at,omitempty"`
	Telemetry   *telemetry.Stats `json:"telemetry,omitempty"`
	Queue       gatt.QueueStats  `json:"queue"`
}

var errCancelled = errors.New("connection attempt superseded by close")

// Manager is the connection state machine. Only the manager changes the
// state; everything else reads it.
type Manager struct {
	transport gatt.Transport
	queue     *gatt.Queue
	feed      *telemetry.Feed
	cfg       Config
	emitter   EventEmitter
	telemetry telemetry.EventEmitter

	mu          sync.Mutex
	state       State
	attempt     uint64
	raw         gatt.Link
	link        gatt.Link
	poller      *telemetry.Synchronizer
	device      string
	session     string
	connectedAt time.Time
}

// NewManager creates a manager. Every read and write on links it opens goes
// through q; decoded snapshots are published into feed.
func NewManager(t gatt.Transport, q *gatt.Queue, feed *telemetry.Feed, cfg Config, emitter EventEmitter, temit telemetry.EventEmitter) *Manager {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	if emitter == nil {
		emitter = nopEmitter{}
	}
	return &Manager{
		transport: t,
		queue:     q,
		feed:      feed,
		cfg:       cfg,
		emitter:   emitter,
		telemetry: temit,
	}
}

// Open connects to the device advertising nameFilter (any robot when empty)
// and starts telemetry polling. It reports whether the link is up; the
// cause of a failure is logged.
func (m *Manager) Open(ctx context.Context, nameFilter string) bool {
	return m.OpenResult(ctx, nameFilter) == nil
}

// OpenResult is Open returning the classified failure. On any error the
// state is back to Disconnected and nothing from the attempt remains.
func (m *Manager) OpenResult(ctx context.Context, nameFilter string) error {
	m.mu.Lock()
	if m.state != Disconnected {
		state := m.state
		m.mu.Unlock()
		return fault.Errorf(fault.ConnectionUnavailable, "open", "link is %s", state)
	}
	m.state = Connecting
	m.attempt++
	attempt := m.attempt
	m.mu.Unlock()
	m.emitter.EmitStateChanged(Disconnected, Connecting, nameFilter)

	err := m.establish(ctx, nameFilter, attempt)
	if err == nil {
		return nil
	}

	m.mu.Lock()
	reverted := m.attempt == attempt && m.state == Connecting
	if reverted {
		m.state = Disconnected
	}
	m.mu.Unlock()
	if reverted {
		m.emitter.EmitStateChanged(Connecting, Disconnected, nameFilter)
	}
	log.Printf("link: open %q failed: %v", nameFilter, err)
	m.emitter.EmitConnectFailed(nameFilter, err)
	return err
}

func (m *Manager) establish(ctx context.Context, nameFilter string, attempt uint64) error {
	cctx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
	defer cancel()

	raw, err := m.transport.Connect(cctx, gatt.Request{
		Name:     nameFilter,
		Services: []string{m.cfg.StatusService},
	})
	if err != nil {
		return fault.New(fault.ConnectionUnavailable, "connect", err)
	}

	dropped := make(chan error, 1)
	raw.OnDisconnect(func(err error) {
		select {
		case dropped <- err:
		default:
		}
		m.handleDisconnect(raw, err)
	})

	ch, err := raw.Channel(cctx, m.cfg.StatusService, m.cfg.StatusCharacteristic)
	select {
	case derr := <-dropped:
		raw.Close()
		return fault.New(fault.TransportDisconnected, "connect", derr)
	default:
	}
	if err != nil {
		raw.Close()
		return fault.New(fault.ChannelNotFound, "resolve status characteristic", err)
	}

	l := gatt.Serialize(raw, m.queue)
	poller := telemetry.New(l, ch, m.feed, m.telemetry, m.cfg.Telemetry)
	poller.OnStale(func() {
		m.teardown(raw, fault.New(fault.StalenessLimitExceeded, "telemetry", nil))
	})

	m.mu.Lock()
	if m.attempt != attempt || m.state != Connecting {
		m.mu.Unlock()
		raw.Close()
		return fault.New(fault.ConnectionUnavailable, "connect", errCancelled)
	}
	select {
	case derr := <-dropped:
		m.mu.Unlock()
		raw.Close()
		return fault.New(fault.TransportDisconnected, "connect", derr)
	default:
	}
	m.raw = raw
	m.link = l
	m.poller = poller
	m.state = Connected
	m.device = raw.Name()
	m.session = uuid.NewString()
	m.connectedAt = time.Now()
	device, session := m.device, m.session
	m.mu.Unlock()

	poller.Start()
	log.Printf("link: connected to %s (session %s)", device, session)
	m.emitter.EmitStateChanged(Connecting, Connected, device)
	return nil
}

// Close stops polling, drops the link and returns to Disconnected. It is
// safe to call in any state and more than once.
func (m *Manager) Close() {
	m.teardown(nil, nil)
}

func (m *Manager) handleDisconnect(raw gatt.Link, err error) {
	m.teardown(raw, fault.New(fault.TransportDisconnected, "link", err))
}

// teardown closes the current link. When only is non-nil the call applies
// only if only is still the current link, so late notifications from an
// old link cannot close a newer one.
func (m *Manager) teardown(only gatt.Link, reason error) {
	m.mu.Lock()
	if only != nil && m.raw != only {
		m.mu.Unlock()
		return
	}
	m.attempt++
	old := m.state
	raw, poller, device := m.raw, m.poller, m.device
	m.raw, m.link, m.poller = nil, nil, nil
	m.device, m.session = "", ""
	m.connectedAt = time.Time{}
	m.state = Disconnected
	m.mu.Unlock()

	if poller != nil {
		poller.Stop()
	}
	if raw != nil {
		if err := raw.Close(); err != nil {
			log.Printf("link: close %s: %v", device, err)
		}
	}
	if reason != nil {
		log.Printf("link: %s lost: %v", device, reason)
		m.emitter.EmitLinkLost(device, reason)
	}
	if old != Disconnected {
		m.emitter.EmitStateChanged(old, Disconnected, device)
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Device returns the connected device name, or "".
func (m *Manager) Device() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.device
}

// Link returns the serialized link while Connected.
func (m *Manager) Link() (gatt.Link, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Connected || m.link == nil {
		return nil, false
	}
	return m.link, true
}

// Feed returns the snapshot feed the poller publishes into.
func (m *Manager) Feed() *telemetry.Feed { return m.feed }

// Info describes the current connection.
func (m *Manager) Info() Info {
	m.mu.Lock()
	info := Info{
		State:   m.state,
		Device:  m.device,
		Session: m.session,
		Queue:   m.queue.Stats(),
	}
	if !m.connectedAt.IsZero() {
		t := m.connectedAt
		info.ConnectedAt = &t
	}
	poller := m.poller
	m.mu.Unlock()
	if poller != nil {
		st := poller.Stats()
		info.Telemetry = &st
	}
	return info
}
