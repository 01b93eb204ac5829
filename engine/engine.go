package engine

import (
	"context"
	"errors"
	"log"
	"time"

	"robolink/command"
	"robolink/config"
	"robolink/gatt"
	"robolink/link"
	"robolink/platformmap"
	"robolink/status"
	"robolink/store"
	"robolink/telemetry"
)

// LogFunc is the logging callback signature.
type LogFunc func(format string, args ...interface{})

// Engine owns the link to the robot and everything built on it.
type Engine struct {
	cfg        *config.Config
	configPath string
	db         *store.DB
	transport  gatt.Transport
	mapRepo    platformmap.Repository
	logFn      LogFunc
	debugFn    LogFunc

	queue      *gatt.Queue
	feed       *telemetry.Feed
	linkMgr    *link.Manager
	dispatcher *command.Dispatcher
	maps       *platformmap.Editor

	Events    *EventBus
	stopChan  chan struct{}
	startedAt time.Time
}

// Config holds the parameters needed to create an Engine.
type Config struct {
	AppConfig  *config.Config
	ConfigPath string
	DB         *store.DB
	Transport  gatt.Transport
	// MapRepo overrides the settings-table map repository.
	MapRepo platformmap.Repository
	LogFunc LogFunc
	Debug   bool
}

// New creates a new Engine. Call Start() to initialize and wire subsystems.
func New(c Config) *Engine {
	logFn := c.LogFunc
	if logFn == nil {
		logFn = func(string, ...interface{}) {}
	}
	debugFn := LogFunc(func(string, ...interface{}) {})
	if c.Debug {
		debugFn = logFn
	}
	repo := c.MapRepo
	if repo == nil {
		if c.DB != nil {
			repo = c.DB.MapRepository()
		} else {
			repo = platformmap.NewMemoryRepository()
		}
	}
	return &Engine{
		cfg:        c.AppConfig,
		configPath: c.ConfigPath,
		db:         c.DB,
		transport:  c.Transport,
		mapRepo:    repo,
		logFn:      logFn,
		debugFn:    debugFn,
		Events:     NewEventBus(),
		stopChan:   make(chan struct{}),
	}
}

// Start creates the link manager, dispatcher and map editor, restores the
// stored map and wires event handlers. With ble.auto_connect set it opens
// the configured device in the background.
func (e *Engine) Start() {
	linkEmit := &linkEmitter{bus: e.Events}
	telEmit := &telemetryEmitter{bus: e.Events}
	cmdEmit := &commandEmitter{bus: e.Events}
	mapEmit := &mapEmitter{bus: e.Events}

	e.queue = gatt.NewQueue(e.cfg.BLE.OpTimeout)
	e.feed = telemetry.NewFeed()
	e.linkMgr = link.NewManager(e.transport, e.queue, e.feed, link.Config{
		StatusService:        command.GetStatus.Service,
		StatusCharacteristic: command.GetStatus.Characteristic,
		ConnectTimeout:       e.cfg.BLE.ConnectTimeout,
		Telemetry: telemetry.Config{
			Interval:   e.cfg.Telemetry.PollInterval,
			StaleLimit: e.cfg.Telemetry.StaleLimit,
			Debug:      e.debugFn,
		},
	}, linkEmit, telEmit)

	e.dispatcher = command.NewDispatcher(e.linkMgr, cmdEmit)
	e.dispatcher.SetDebug(e.debugFn)

	e.maps = platformmap.NewEditor(e.mapRepo, mapEmit)
	if err := e.maps.Restore(context.Background()); err != nil {
		log.Printf("restore platform map: %v", err)
	}
	if e.maps.Current() == nil {
		e.maps.New()
	}

	e.wireEventHandlers()
	e.startedAt = time.Now()

	if e.cfg.BLE.AutoConnect {
		go func() {
			if err := e.Connect(context.Background(), ""); err != nil {
				log.Printf("auto-connect: %v", err)
			}
		}()
	}

	e.logFn("Engine started: backend=%s device=%q poll=%s stale_limit=%d",
		e.cfg.BLE.Backend, e.cfg.BLE.DeviceName, e.cfg.Telemetry.PollInterval, e.cfg.Telemetry.StaleLimit)
}

// Stop closes the link and shuts down.
func (e *Engine) Stop() {
	select {
	case <-e.stopChan:
	default:
		close(e.stopChan)
	}
	if e.linkMgr != nil {
		e.linkMgr.Close()
	}
	e.logFn("Engine stopped")
}

// Connect opens the link. An empty name falls back to ble.device_name.
func (e *Engine) Connect(ctx context.Context, name string) error {
	if name == "" {
		name = e.cfg.BLE.DeviceName
	}
	return e.linkMgr.OpenResult(ctx, name)
}

// Disconnect closes the link.
func (e *Engine) Disconnect() {
	e.linkMgr.Close()
}

// Send writes c to the robot.
func (e *Engine) Send(ctx context.Context, c command.Command) error {
	return e.dispatcher.Send(ctx, c)
}

// ReadBack reads the named status-service characteristic.
func (e *Engine) ReadBack(ctx context.Context, name string) ([]byte, error) {
	ep, ok := command.Readback(name)
	if !ok {
		return nil, errUnknownReadback
	}
	return e.dispatcher.Read(ctx, ep)
}

var errUnknownReadback = errors.New("unknown readback characteristic")

// IsUnknownReadback reports whether err came from an unknown readback name.
func IsUnknownReadback(err error) bool { return errors.Is(err, errUnknownReadback) }

// SendMap transfers the working platform map to the robot.
func (e *Engine) SendMap(ctx context.Context) error {
	return e.maps.Send(ctx, e.dispatcher)
}

// Status is the combined view served by the status endpoints.
type Status struct {
	Link      link.Info        `json:"link"`
	Snapshot  *status.View     `json:"snapshot,omitempty"`
	Raw       *status.Snapshot `json:"raw,omitempty"`
	Version   uint64           `json:"version"`
	MapSent   string           `json:"map_sent,omitempty"`
	UptimeSec int64            `json:"uptime_sec"`
}

// Status reports the link, the latest snapshot and the last map sent.
func (e *Engine) Status() Status {
	st := Status{
		Link:      e.linkMgr.Info(),
		MapSent:   e.maps.LastSent(),
		UptimeSec: int64(e.Uptime().Seconds()),
	}
	snap, version := e.feed.Latest()
	st.Version = version
	if snap != nil {
		v := status.Describe(snap)
		st.Snapshot = &v
		st.Raw = snap
	}
	return st
}

// Uptime is the time since Start.
func (e *Engine) Uptime() time.Duration {
	if e.startedAt.IsZero() {
		return 0
	}
	return time.Since(e.startedAt)
}

// DB returns the database handle.
func (e *Engine) DB() *store.DB { return e.db }

// AppConfig returns the app config.
func (e *Engine) AppConfig() *config.Config { return e.cfg }

// ConfigPath returns the config file path.
func (e *Engine) ConfigPath() string { return e.configPath }

// Link returns the connection manager.
func (e *Engine) Link() *link.Manager { return e.linkMgr }

// Dispatcher returns the command dispatcher.
func (e *Engine) Dispatcher() *command.Dispatcher { return e.dispatcher }

// Maps returns the platform map editor.
func (e *Engine) Maps() *platformmap.Editor { return e.maps }

// Feed returns the telemetry feed.
func (e *Engine) Feed() *telemetry.Feed { return e.feed }
