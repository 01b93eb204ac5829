package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"robolink/bluez"
	"robolink/config"
	"robolink/engine"
	"robolink/gatt"
	"robolink/link"
	"robolink/messaging"
	"robolink/platformmap"
	"robolink/sim"
	"robolink/store"
	"robolink/www"
)

func main() {
	var (
		configPath string
		debug      bool
		port       int
		device     string
		useSim     bool
	)
	flags := pflag.NewFlagSet("robolink", pflag.ExitOnError)
	flags.StringVarP(&configPath, "config", "c", "robolink.yaml", "path to config file")
	flags.BoolVar(&debug, "debug", false, "enable debug logging")
	flags.IntVar(&port, "port", 0, "HTTP port (overrides config)")
	flags.StringVar(&device, "device", "", "robot name to connect to (overrides config)")
	flags.BoolVar(&useSim, "sim", false, "use the simulated robot instead of BlueZ")
	flags.Parse(os.Args[1:])

	if debug {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	// Load config
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if port > 0 {
		cfg.Web.Port = port
	}
	if device != "" {
		cfg.BLE.DeviceName = device
	}
	if useSim {
		cfg.BLE.Backend = "sim"
	}

	// Open database
	db, err := store.Open(&cfg.Database)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	transport, err := openTransport(cfg)
	if err != nil {
		log.Fatalf("open transport: %v", err)
	}

	mapRepo, closeRepo, err := openMapRepository(cfg, db)
	if err != nil {
		log.Fatalf("open map store: %v", err)
	}
	defer closeRepo()

	// Create and start engine
	eng := engine.New(engine.Config{
		AppConfig:  cfg,
		ConfigPath: configPath,
		DB:         db,
		Transport:  transport,
		MapRepo:    mapRepo,
		LogFunc:    log.Printf,
		Debug:      debug,
	})
	eng.Start()
	defer eng.Stop()

	if cfg.Messaging.Enabled {
		stopMessaging := startMessaging(cfg, db, eng)
		defer stopMessaging()
	}

	// Set up HTTP server
	router, stopWeb := www.NewRouter(eng)
	defer stopWeb()

	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
	server := &http.Server{Addr: addr, Handler: router}

	go func() {
		log.Printf("robolink listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server: %v", err)
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("Shutting down...")

	// Stop streams first so long-lived connections close
	stopWeb()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("http server shutdown: %v", err)
	}
}

func openTransport(cfg *config.Config) (gatt.Transport, error) {
	switch cfg.BLE.Backend {
	case "sim":
		name := cfg.BLE.DeviceName
		if name == "" {
			name = "Robot-Sim"
			cfg.BLE.DeviceName = name
		}
		log.Printf("using simulated robot %q", name)
		return sim.New(name).Transport(), nil
	case "", "bluez":
		t, err := bluez.New(bluez.Config{
			Adapter:      cfg.BLE.Adapter,
			ScanInterval: cfg.BLE.ScanInterval,
		})
		if err != nil {
			return nil, err
		}
		return t, nil
	default:
		return nil, fmt.Errorf("unknown ble backend: %s", cfg.BLE.Backend)
	}
}

// openMapRepository returns the map store selected by map_store. The SQL
// settings table is the default.
func openMapRepository(cfg *config.Config, db *store.DB) (platformmap.Repository, func(), error) {
	switch cfg.MapStore {
	case "", "sql":
		return db.MapRepository(), func() {}, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("redis ping %s: %w", cfg.Redis.Address, err)
		}
		log.Printf("platform map stored in redis at %s", cfg.Redis.Address)
		return store.NewRedisKV(client), func() { client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown map_store: %s", cfg.MapStore)
	}
}

// startMessaging connects the broker and wires engine events to it. The
// returned function stops everything it started.
func startMessaging(cfg *config.Config, db *store.DB, eng *engine.Engine) func() {
	mc := &cfg.Messaging
	codec, err := messaging.CodecByName(mc.Codec)
	if err != nil {
		log.Fatalf("messaging: %v", err)
	}
	nodeID := cfg.NodeID()

	presence, err := messaging.NewPresence(codec, nodeID, mc.StatusTopic)
	if err != nil {
		log.Fatalf("messaging: %v", err)
	}
	msgClient := messaging.NewClient(mc, nodeID, presence)
	if err := msgClient.Connect(); err != nil {
		log.Printf("messaging connect: %v (messaging disabled)", err)
		msgClient.Close()
		return func() {}
	}

	outbox := messaging.NewOutbox(db)
	drainer := messaging.NewOutboxDrainer(outbox, msgClient, mc.OutboxDrainInterval)
	drainer.Start()

	// Remote commands
	handler := messaging.NewCommandHandler(eng, msgClient, outbox, codec, nodeID, mc.EventsTopic, cfg.BLE.OpTimeout)
	if err := msgClient.Subscribe(mc.CommandTopic, handler.HandleMessage); err != nil {
		log.Printf("command subscribe: %v", err)
	} else {
		log.Printf("remote commands on %s (node=%s, codec=%s)", mc.CommandTopic, nodeID, codec.Name())
	}

	hb := messaging.NewHeartbeater(msgClient, codec, nodeID, mc.EventsTopic, mc.HeartbeatInterval, func() (string, link.State) {
		lm := eng.Link()
		return lm.Device(), lm.State()
	})
	hb.Start()

	reporter := messaging.NewReporter(msgClient, outbox, codec, messaging.ReporterConfig{
		NodeID:         nodeID,
		TelemetryTopic: mc.TelemetryTopic,
		EventsTopic:    mc.EventsTopic,
		Interval:       mc.TelemetryInterval,
	})
	subID := eng.Events.SubscribeTypes(func(evt engine.Event) {
		switch p := evt.Payload.(type) {
		case engine.SnapshotEvent:
			reporter.RecordSnapshot(eng.Link().Device(), p.Snapshot)
		case engine.LinkErrorEvent:
			if evt.Type == engine.EventLinkLost {
				reporter.RecordLinkLost(p.Kind)
			}
		case engine.LinkStateEvent:
			reporter.RecordState(p.Device, p.OldState, p.NewState, "")
		case engine.MapEvent:
			reporter.RecordMapSent(p.Document, p.Fingerprint)
		}
	}, engine.EventSnapshot, engine.EventLinkLost, engine.EventLinkStateChanged, engine.EventMapSent)
	reporter.Start()

	return func() {
		eng.Events.Unsubscribe(subID)
		reporter.Stop()
		hb.Stop()
		drainer.Stop()
		msgClient.Close()
	}
}
