package www

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"robolink/config"
	"robolink/engine"
	"robolink/platformmap"
	"robolink/sim"
	"robolink/store"
)

type rig struct {
	eng    *engine.Engine
	srv    *httptest.Server
	client *http.Client
}

func newRig(t *testing.T) *rig {
	t.Helper()
	db, err := store.Open(&config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "www.db")},
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := config.Defaults()
	cfg.BLE.Backend = "sim"
	cfg.BLE.DeviceName = "Robot-Sim"
	cfg.BLE.OpTimeout = time.Second
	cfg.BLE.ConnectTimeout = time.Second
	cfg.Telemetry.PollInterval = 5 * time.Millisecond
	cfg.Web.AdminPassword = "secret"

	robot := sim.New("Robot-Sim")
	eng := engine.New(engine.Config{AppConfig: cfg, DB: db, Transport: robot.Transport()})
	eng.Start()
	t.Cleanup(eng.Stop)

	handler, stop := NewRouter(eng)
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		stop()
		srv.Close()
	})

	jar, _ := cookiejar.New(nil)
	return &rig{eng: eng, srv: srv, client: &http.Client{Jar: jar}}
}

func (r *rig) do(t *testing.T, method, path, body string, headers ...string) (*http.Response, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest(method, r.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := r.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	var out map[string]interface{}
	json.Unmarshal(raw, &out)
	return resp, out
}

func (r *rig) expect(t *testing.T, method, path, body string, want int) map[string]interface{} {
	t.Helper()
	resp, out := r.do(t, method, path, body)
	if resp.StatusCode != want {
		t.Fatalf("%s %s = %d, want %d (%v)", method, path, resp.StatusCode, want, out)
	}
	return out
}

func (r *rig) login(t *testing.T) {
	t.Helper()
	r.expect(t, "POST", "/login", `{"username":"admin","password":"secret"}`, http.StatusOK)
}

func TestConnectAndCommands(t *testing.T) {
	r := newRig(t)

	st := r.expect(t, "GET", "/api/status", "", http.StatusOK)
	if st["link"].(map[string]interface{})["state"] != "disconnected" {
		t.Errorf("status = %v", st)
	}
	if ob, ok := st["outbox"].(map[string]interface{}); !ok || ob["pending"] != 0.0 {
		t.Errorf("outbox = %v", st["outbox"])
	}

	out := r.expect(t, "POST", "/api/commands/homing", "", http.StatusConflict)
	if out["kind"] != "connection_unavailable" {
		t.Errorf("disconnected command = %v", out)
	}

	st = r.expect(t, "POST", "/api/connect", `{"name":"Robot-Sim"}`, http.StatusOK)
	if st["link"].(map[string]interface{})["state"] != "connected" {
		t.Fatalf("after connect = %v", st)
	}
	r.expect(t, "POST", "/api/connect", "", http.StatusConflict)

	r.expect(t, "POST", "/api/commands/homing", "", http.StatusOK)
	r.expect(t, "POST", "/api/commands/assign-task", `{"LocationId":2,"TaskType":1}`, http.StatusOK)
	r.expect(t, "POST", "/api/commands/assign-task", `{"TaskType":999}`, http.StatusBadRequest)
	r.expect(t, "POST", "/api/commands/launch", "", http.StatusBadRequest)

	st = r.expect(t, "POST", "/api/disconnect", "", http.StatusOK)
	if st["link"].(map[string]interface{})["state"] != "disconnected" {
		t.Errorf("after disconnect = %v", st)
	}
}

func TestAdminRoutesRequireLogin(t *testing.T) {
	r := newRig(t)
	if err := r.eng.Connect(context.Background(), ""); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	r.expect(t, "POST", "/api/commands/prepare-for-test", `{"Enable":true}`, http.StatusUnauthorized)
	r.expect(t, "GET", "/api/readback/role", "", http.StatusUnauthorized)
	r.expect(t, "POST", "/api/map/send", "", http.StatusUnauthorized)

	r.expect(t, "POST", "/login", `{"username":"admin","password":"wrong"}`, http.StatusUnauthorized)
	r.login(t)

	out := r.expect(t, "GET", "/api/readback/role", "", http.StatusOK)
	if out["bytes"].(float64) != 1 {
		t.Errorf("readback = %v", out)
	}
	r.expect(t, "GET", "/api/readback/nope", "", http.StatusNotFound)

	resp, _ := r.do(t, "GET", "/api/commands", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("command log = %d", resp.StatusCode)
	}

	r.expect(t, "POST", "/logout", "", http.StatusOK)
	r.expect(t, "GET", "/api/readback/role", "", http.StatusUnauthorized)
}

func TestChangePassword(t *testing.T) {
	r := newRig(t)
	r.login(t)
	r.expect(t, "POST", "/api/config/password", `{"old_password":"nope","new_password":"x"}`, http.StatusBadRequest)
	r.expect(t, "POST", "/api/config/password", `{"old_password":"secret","new_password":"hunter2"}`, http.StatusOK)
	r.expect(t, "POST", "/logout", "", http.StatusOK)
	r.expect(t, "POST", "/login", `{"username":"admin","password":"secret"}`, http.StatusUnauthorized)
	r.expect(t, "POST", "/login", `{"username":"admin","password":"hunter2"}`, http.StatusOK)
}

func TestLoginLockout(t *testing.T) {
	r := newRig(t)
	for i := 0; i < maxLoginFailures; i++ {
		r.expect(t, "POST", "/login", `{"username":"admin","password":"wrong"}`, http.StatusUnauthorized)
	}
	// The right password is refused too while locked out.
	r.expect(t, "POST", "/login", `{"username":"admin","password":"secret"}`, http.StatusTooManyRequests)
}

func TestWhoAmI(t *testing.T) {
	r := newRig(t)
	r.expect(t, "GET", "/api/me", "", http.StatusUnauthorized)
	r.login(t)
	out := r.expect(t, "GET", "/api/me", "", http.StatusOK)
	if out["username"] != "admin" || out["last_login"] == nil {
		t.Errorf("me = %v", out)
	}
	if _, leaked := out["PasswordHash"]; leaked {
		t.Error("password hash exposed")
	}
}

func TestDecodeTelemetry(t *testing.T) {
	r := newRig(t)
	out := r.expect(t, "POST", "/api/telemetry/decode", "01 00 05 02", http.StatusOK)
	if out["bytes"].(float64) != 4 || out["complete"] != false || out["truncated"] == nil {
		t.Errorf("decoded = %v", out)
	}
	raw := out["raw"].(map[string]interface{})
	if raw["msgId"].(float64) != 1 || raw["actionRequests"].(float64) != 5 || raw["toolType"].(float64) != 2 {
		t.Errorf("raw = %v", raw)
	}
	if _, ok := raw["motorPower"]; ok {
		t.Error("absent group rendered")
	}
	r.expect(t, "POST", "/api/telemetry/decode", "zz", http.StatusBadRequest)
}

func TestMapEditing(t *testing.T) {
	r := newRig(t)
	r.expect(t, "POST", "/api/map/new", "", http.StatusOK)

	r.expect(t, "POST", "/api/map/locations", "", http.StatusCreated)
	out := r.expect(t, "POST", "/api/map/locations", "", http.StatusCreated)
	if out["location"].(map[string]interface{})["Index"].(float64) != 2 {
		t.Errorf("added = %v", out)
	}

	r.expect(t, "PUT", "/api/map/locations/1", `{"Location":{"Type":1,"ID":7},"XLocationInMeters":1.5}`, http.StatusOK)
	out = r.expect(t, "POST", "/api/map/locations/1/down", "", http.StatusOK)
	if out["moved"] != true {
		t.Errorf("move down = %v", out)
	}
	out = r.expect(t, "POST", "/api/map/locations/1/up", "", http.StatusOK)
	if out["moved"] != false {
		t.Errorf("first entry moved up: %v", out)
	}
	r.expect(t, "DELETE", "/api/map/locations/9", "", http.StatusBadRequest)
	r.expect(t, "DELETE", "/api/map/locations/zero", "", http.StatusBadRequest)

	d := r.eng.Maps().Current()
	locs := d.Map.Locations
	if len(locs) != 2 || locs[1].Location.ID != 7 || locs[1].Index != 2 {
		t.Fatalf("locations = %+v", locs)
	}

	before := d.Fingerprint()
	r.expect(t, "PUT", "/api/map", `{"MapName":5}`, http.StatusBadRequest)
	if r.eng.Maps().Current().Fingerprint() != before {
		t.Error("rejected document replaced the map")
	}

	r.expect(t, "DELETE", "/api/map/locations/2", "", http.StatusOK)
	if n := len(r.eng.Maps().Current().Map.Locations); n != 1 {
		t.Errorf("%d locations after delete", n)
	}
}

func TestMapExportETag(t *testing.T) {
	r := newRig(t)
	r.eng.Maps().Edit(func(d *platformmap.Document) error {
		d.MapName = "North"
		d.PlatformNumber = 3
		return nil
	})

	resp, _ := r.do(t, "GET", "/api/map/export", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("export = %d", resp.StatusCode)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "North-3.json") {
		t.Errorf("Content-Disposition = %q", cd)
	}
	tag := resp.Header.Get("ETag")
	if tag == "" {
		t.Fatal("no ETag")
	}
	resp, _ = r.do(t, "GET", "/api/map/export", "", "If-None-Match", tag)
	if resp.StatusCode != http.StatusNotModified {
		t.Errorf("conditional export = %d", resp.StatusCode)
	}
}

func TestMapImportAcceptsJSONC(t *testing.T) {
	r := newRig(t)
	doc := `{
		// exported from the editor
		"PlatformNumber": 2,
		"MapName": "South",
		"Map": {
			"IsNegative": false,
			"FarmId": 4,
			"SiteName": "Farm",
			"Locations": [],
		},
	}`
	out := r.expect(t, "POST", "/api/map/import", doc, http.StatusOK)
	if out["MapName"] != "South" {
		t.Errorf("imported = %v", out)
	}
	r.expect(t, "POST", "/api/map/import", `{"PlatformNumber":2,"MapName":"x","Map":{}}`, http.StatusBadRequest)
}

func TestSSEForwardsEngineEvents(t *testing.T) {
	r := newRig(t)
	resp, err := http.Get(r.srv.URL + "/events")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	lines := make(chan string, 64)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	waitLine := func(want string) {
		t.Helper()
		timeout := time.After(2 * time.Second)
		for {
			select {
			case l, ok := <-lines:
				if !ok {
					t.Fatalf("stream closed before %q", want)
				}
				if l == want {
					return
				}
			case <-timeout:
				t.Fatalf("no %q line", want)
			}
		}
	}
	waitLine("event: connected")
	r.eng.Maps().New()
	waitLine("event: map.changed")
}

func TestSSETypeFilter(t *testing.T) {
	r := newRig(t)
	resp, err := http.Get(r.srv.URL + "/events?types=map.changed")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	lines := make(chan string, 64)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	// Wait for the greeting so the client is registered before events fire.
	timeout := time.After(2 * time.Second)
	for greeted := false; !greeted; {
		select {
		case l := <-lines:
			greeted = l == "event: connected"
		case <-timeout:
			t.Fatal("no greeting")
		}
	}

	if err := r.eng.Connect(context.Background(), ""); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	r.eng.Maps().New()
	for {
		select {
		case l, ok := <-lines:
			if !ok {
				t.Fatal("stream closed")
			}
			if strings.HasPrefix(l, "event: ") && l != "event: map.changed" {
				t.Fatalf("filtered stream delivered %q", l)
			}
			if l == "event: map.changed" {
				return
			}
		case <-timeout:
			t.Fatal("no map.changed event")
		}
	}
}

func TestEventHubCoalescesSnapshots(t *testing.T) {
	h := NewEventHub()
	c := &sseClient{events: make(chan sseFrame, 1), wake: make(chan struct{}, 1)}
	h.add(c)

	for i := 1; i <= 3; i++ {
		h.Publish(snapshotEvent, map[string]int{"seq": i})
	}
	f, ok := c.takeSnapshot()
	if !ok || string(f.data) != `{"seq":3}` {
		t.Fatalf("snapshot = %q, %v", f.data, ok)
	}
	if _, ok := c.takeSnapshot(); ok {
		t.Error("snapshot delivered twice")
	}

	h.Publish("map.changed", 1)
	h.Publish("map.changed", 2)
	if c.dropped != 1 {
		t.Errorf("dropped = %d, want 1", c.dropped)
	}
	h.remove(c)
	h.Publish("map.changed", 3)
	if len(c.events) != 1 {
		t.Errorf("removed client still receives events")
	}
}

func TestWebSocketStreamsSnapshots(t *testing.T) {
	r := newRig(t)
	url := "ws" + strings.TrimPrefix(r.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var frame snapshotData
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("first frame: %v", err)
	}
	if frame.Raw != nil || frame.View.Sequence != "N/A" {
		t.Errorf("first frame = %+v", frame)
	}

	if err := r.eng.Connect(context.Background(), ""); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	for {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		if err := conn.ReadJSON(&frame); err != nil {
			t.Fatalf("read: %v", err)
		}
		if frame.Raw != nil {
			break
		}
	}
	if frame.Raw.Sequence == nil || frame.View.Sequence == "N/A" {
		t.Errorf("frame = %+v", frame)
	}
}
