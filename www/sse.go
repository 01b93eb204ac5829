package www

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"robolink/engine"
	"robolink/status"
)

const snapshotEvent = "telemetry.snapshot"

// sseFrame is an event encoded once and shared by every client.
type sseFrame struct {
	name string
	data []byte
}

// sseClient holds the frames waiting for one stream. Snapshots are not
// queued: a client that falls behind only ever sees the newest one.
type sseClient struct {
	want   map[string]bool // nil means every event
	events chan sseFrame
	wake   chan struct{}

	mu       sync.Mutex
	snapshot *sseFrame
	dropped  int
}

func (c *sseClient) wants(name string) bool {
	return c.want == nil || c.want[name]
}

func (c *sseClient) takeSnapshot() (sseFrame, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.snapshot == nil {
		return sseFrame{}, false
	}
	f := *c.snapshot
	c.snapshot = nil
	return f, true
}

// EventHub fans engine events out to SSE streams.
type EventHub struct {
	mu      sync.RWMutex
	clients map[*sseClient]struct{}
	hello   func() interface{}
	done    chan struct{}
	once    sync.Once
}

// NewEventHub creates a new EventHub.
func NewEventHub() *EventHub {
	return &EventHub{
		clients: make(map[*sseClient]struct{}),
		done:    make(chan struct{}),
	}
}

// Stop ends every open stream.
func (h *EventHub) Stop() {
	h.once.Do(func() { close(h.done) })
}

// Publish encodes v and hands it to every client that asked for name.
// It never blocks; a full client queue drops the event for that client.
func (h *EventHub) Publish(name string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("sse: encode %s: %v", name, err)
		return
	}
	f := sseFrame{name: name, data: data}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(name) {
			continue
		}
		if name == snapshotEvent {
			c.mu.Lock()
			c.snapshot = &f
			c.mu.Unlock()
			select {
			case c.wake <- struct{}{}:
			default:
			}
			continue
		}
		select {
		case c.events <- f:
		default:
			c.mu.Lock()
			c.dropped++
			c.mu.Unlock()
		}
	}
}

func (h *EventHub) add(c *sseClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *EventHub) remove(c *sseClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
}

// parseTypes reads the comma-separated ?types= filter.
func parseTypes(r *http.Request) map[string]bool {
	raw := r.URL.Query().Get("types")
	if raw == "" {
		return nil
	}
	want := make(map[string]bool)
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			want[t] = true
		}
	}
	return want
}

// HandleSSE streams events. The first event, "connected", carries the
// current status so a client needs no separate fetch.
func (h *EventHub) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	c := &sseClient{
		want:   parseTypes(r),
		events: make(chan sseFrame, 64),
		wake:   make(chan struct{}, 1),
	}
	h.add(c)
	defer h.remove(c)

	var hello interface{} = struct{}{}
	if h.hello != nil {
		hello = h.hello()
	}
	data, _ := json.Marshal(hello)
	writeFrame(w, sseFrame{name: "connected", data: data})
	flusher.Flush()

	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-h.done:
			return
		case f := <-c.events:
			writeFrame(w, f)
		case <-c.wake:
			f, ok := c.takeSnapshot()
			if !ok {
				continue
			}
			writeFrame(w, f)
		case <-keepalive.C:
			c.mu.Lock()
			dropped := c.dropped
			c.dropped = 0
			c.mu.Unlock()
			if dropped > 0 {
				fmt.Fprintf(w, ": dropped %d\n\n", dropped)
			} else {
				fmt.Fprintf(w, ": keepalive\n\n")
			}
		}
		flusher.Flush()
	}
}

func writeFrame(w http.ResponseWriter, f sseFrame) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", f.name, f.data)
}

// snapshotData is what SSE and WebSocket clients receive per snapshot.
type snapshotData struct {
	Version uint64           `json:"version"`
	View    status.View      `json:"view"`
	Raw     *status.Snapshot `json:"raw"`
}

// SetupEngineListeners forwards every engine event under its dotted name.
// Snapshots are sent with their display rendering.
func (h *EventHub) SetupEngineListeners(eng *engine.Engine) {
	h.hello = func() interface{} { return eng.Status() }
	eng.Events.Subscribe(func(evt engine.Event) {
		data := evt.Payload
		if p, ok := evt.Payload.(engine.SnapshotEvent); ok {
			_, version := eng.Feed().Latest()
			data = snapshotData{Version: version, View: status.Describe(p.Snapshot), Raw: p.Snapshot}
		}
		h.Publish(evt.Type.String(), data)
	})
}
