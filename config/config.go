package config

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is everything robolink.yaml can set.
type Config struct {
	mu sync.Mutex `yaml:"-"`

	BLE       BLEConfig       `yaml:"ble"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Database  DatabaseConfig  `yaml:"database"`
	MapStore  string          `yaml:"map_store"` // "sql" or "redis"
	Redis     RedisConfig     `yaml:"redis"`
	Web       WebConfig       `yaml:"web"`
	Messaging MessagingConfig `yaml:"messaging"`
}

// BLEConfig selects the radio backend and bounds link operations.
type BLEConfig struct {
	Backend        string        `yaml:"backend"` // "bluez" or "sim"
	Adapter        string        `yaml:"adapter"`
	DeviceName     string        `yaml:"device_name"`
	ScanInterval   time.Duration `yaml:"scan_interval"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	OpTimeout      time.Duration `yaml:"op_timeout"`
	AutoConnect    bool          `yaml:"auto_connect"`
}

// TelemetryConfig controls status polling.
type TelemetryConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	StaleLimit   int           `yaml:"stale_limit"`
}

// DatabaseConfig selects the SQL backend.
type DatabaseConfig struct {
	Driver   string         `yaml:"driver"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN builds the pgx connection string.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		p.Host, p.Port, p.Database, p.User, p.Password, p.SSLMode)
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// WebConfig defines the web server settings.
type WebConfig struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	SessionSecret string `yaml:"session_secret"`
	AdminUser     string `yaml:"admin_user"`
	AdminPassword string `yaml:"admin_password"`
}

// MessagingConfig defines the messaging backend.
type MessagingConfig struct {
	Enabled             bool          `yaml:"enabled"`
	Backend             string        `yaml:"backend"` // "mqtt" or "kafka"
	MQTT                MQTTConfig    `yaml:"mqtt"`
	Kafka               KafkaConfig   `yaml:"kafka"`
	Codec               string        `yaml:"codec"` // "json" or "cbor"
	TelemetryTopic      string        `yaml:"telemetry_topic"`
	EventsTopic         string        `yaml:"events_topic"`
	CommandTopic        string        `yaml:"command_topic"`
	StatusTopic         string        `yaml:"status_topic"`
	TelemetryInterval   time.Duration `yaml:"telemetry_interval"`
	HeartbeatInterval   time.Duration `yaml:"heartbeat_interval"`
	OutboxDrainInterval time.Duration `yaml:"outbox_drain_interval"`
	NodeID              string        `yaml:"node_id"`
}

// MQTTConfig defines MQTT broker settings.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Port     int    `yaml:"port"`
	ClientID string `yaml:"client_id"`
}

// KafkaConfig defines Kafka broker settings.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	GroupID string   `yaml:"group_id"`
}

// Defaults returns a Config with sane defaults.
func Defaults() *Config {
	return &Config{
		BLE: BLEConfig{
			Backend:        "bluez",
			Adapter:        "hci0",
			ScanInterval:   time.Second,
			ConnectTimeout: 30 * time.Second,
			OpTimeout:      10 * time.Second,
		},
		Telemetry: TelemetryConfig{
			PollInterval: time.Second,
			StaleLimit:   3000,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{Path: "robolink.db"},
			Postgres: PostgresConfig{
				Host:     "localhost",
				Port:     5432,
				Database: "robolink",
				User:     "robolink",
				SSLMode:  "disable",
			},
		},
		MapStore: "sql",
		Redis: RedisConfig{
			Address: "localhost:6379",
		},
		Web: WebConfig{
			Host:          "0.0.0.0",
			Port:          8084,
			SessionSecret: "change-me-in-production",
			AdminUser:     "admin",
		},
		Messaging: MessagingConfig{
			Backend:             "mqtt",
			Codec:               "json",
			TelemetryTopic:      "robolink/telemetry",
			EventsTopic:         "robolink/events",
			CommandTopic:        "robolink/commands",
			StatusTopic:         "robolink/status",
			TelemetryInterval:   5 * time.Second,
			HeartbeatInterval:   60 * time.Second,
			OutboxDrainInterval: 5 * time.Second,
			MQTT: MQTTConfig{
				Broker: "localhost",
				Port:   1883,
			},
			Kafka: KafkaConfig{
				Brokers: []string{"localhost:9092"},
				GroupID: "robolink",
			},
		},
	}
}

// Load reads a YAML config file. If the file doesn't exist, defaults are used.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	switch c.BLE.Backend {
	case "bluez", "sim":
	default:
		bad("ble.backend %q: want bluez or sim", c.BLE.Backend)
	}
	if c.BLE.ConnectTimeout <= 0 {
		bad("ble.connect_timeout must be positive")
	}
	if c.BLE.OpTimeout < 0 {
		bad("ble.op_timeout must not be negative")
	}
	if c.Telemetry.PollInterval <= 0 {
		bad("telemetry.poll_interval must be positive")
	}
	if c.Telemetry.StaleLimit < 1 {
		bad("telemetry.stale_limit must be at least 1")
	}
	switch c.Database.Driver {
	case "", "sqlite", "postgres":
	default:
		bad("database.driver %q: want sqlite or postgres", c.Database.Driver)
	}
	switch c.MapStore {
	case "", "sql", "redis":
	default:
		bad("map_store %q: want sql or redis", c.MapStore)
	}
	if c.Web.Port < 0 || c.Web.Port > 65535 {
		bad("web.port %d out of range", c.Web.Port)
	}
	if m := c.Messaging; m.Enabled {
		if m.Backend != "mqtt" && m.Backend != "kafka" {
			bad("messaging.backend %q: want mqtt or kafka", m.Backend)
		}
		if m.Codec != "" && m.Codec != "json" && m.Codec != "cbor" {
			bad("messaging.codec %q: want json or cbor", m.Codec)
		}
		if m.TelemetryTopic == "" || m.EventsTopic == "" || m.CommandTopic == "" {
			bad("messaging topics must not be empty")
		}
	}
	return errors.Join(errs...)
}

// Save writes the config to a YAML file.
func (c *Config) Save(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// NodeID returns the configured node ID, or derives one from the device name.
func (c *Config) NodeID() string {
	if c.Messaging.NodeID != "" {
		return c.Messaging.NodeID
	}
	if c.BLE.DeviceName != "" {
		return "robolink." + c.BLE.DeviceName
	}
	return "robolink"
}
