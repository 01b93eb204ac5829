package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telemetry.PollInterval != time.Second || cfg.Telemetry.StaleLimit != 3000 {
		t.Errorf("telemetry = %+v", cfg.Telemetry)
	}
	if cfg.BLE.OpTimeout != 10*time.Second || cfg.BLE.ConnectTimeout != 30*time.Second {
		t.Errorf("ble = %+v", cfg.BLE)
	}
}

func TestLoadOverridesOnlyGivenKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "robolink.yaml")
	data := []byte(`
ble:
  backend: sim
  device_name: RobotA
telemetry:
  stale_limit: 50
messaging:
  codec: cbor
`)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BLE.Backend != "sim" || cfg.BLE.DeviceName != "RobotA" {
		t.Errorf("ble = %+v", cfg.BLE)
	}
	if cfg.Telemetry.StaleLimit != 50 || cfg.Telemetry.PollInterval != time.Second {
		t.Errorf("telemetry = %+v", cfg.Telemetry)
	}
	if cfg.Messaging.Codec != "cbor" || cfg.Messaging.TelemetryTopic != "robolink/telemetry" {
		t.Errorf("messaging = %+v", cfg.Messaging)
	}
	if cfg.NodeID() != "robolink.RobotA" {
		t.Errorf("NodeID = %q", cfg.NodeID())
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "robolink.yaml")
	cfg := Defaults()
	cfg.Web.Port = 9000
	cfg.MapStore = "redis"
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Web.Port != 9000 || got.MapStore != "redis" {
		t.Errorf("reloaded web=%+v map_store=%q", got.Web, got.MapStore)
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("ble: [unclosed"), 0644)
	if _, err := Load(path); err == nil {
		t.Error("expected a parse error")
	}
}

func TestLoadValidates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "robolink.yaml")
	data := []byte(`
ble:
  backend: usb
telemetry:
  stale_limit: 0
messaging:
  enabled: true
  backend: amqp
`)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{"ble.backend", "stale_limit", "messaging.backend"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
	if err := Defaults().Validate(); err != nil {
		t.Errorf("defaults invalid: %v", err)
	}
}
