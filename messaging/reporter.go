package messaging

import (
	"log"
	"sync"
	"time"

	"robolink/link"
	"robolink/platformmap"
	"robolink/status"
)

// Reporter forwards robot activity to the broker. Telemetry is best effort
// and rate limited to the latest snapshot per interval; state changes and
// map transfers go through the outbox.
type Reporter struct {
	client    Publisher
	outbox    *Outbox
	codec     Codec
	nodeID    string
	telemetry string
	events    string
	interval  time.Duration

	mu     sync.Mutex
	latest *TelemetryPayload
	lost   string

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// ReporterConfig names the reporter's topics and identity.
type ReporterConfig struct {
	NodeID         string
	TelemetryTopic string
	EventsTopic    string
	Interval       time.Duration
}

// NewReporter creates a reporter. outbox may be nil, in which case events
// are published directly.
func NewReporter(client Publisher, outbox *Outbox, codec Codec, cfg ReporterConfig) *Reporter {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	return &Reporter{
		client:    client,
		outbox:    outbox,
		codec:     codec,
		nodeID:    cfg.NodeID,
		telemetry: cfg.TelemetryTopic,
		events:    cfg.EventsTopic,
		interval:  cfg.Interval,
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// RecordSnapshot replaces the pending telemetry sample.
func (r *Reporter) RecordSnapshot(device string, s *status.Snapshot) {
	if s == nil {
		return
	}
	r.mu.Lock()
	r.latest = &TelemetryPayload{Device: device, Snapshot: s}
	r.mu.Unlock()
}

// RecordLinkLost remembers why the link dropped; the next transition to
// Disconnected carries it as its reason.
func (r *Reporter) RecordLinkLost(kind string) {
	r.mu.Lock()
	r.lost = kind
	r.mu.Unlock()
}

// RecordState queues a connection state change.
func (r *Reporter) RecordState(device string, old, new link.State, reason string) {
	if new == link.Disconnected {
		r.mu.Lock()
		if reason == "" {
			reason = r.lost
		}
		r.lost = ""
		r.mu.Unlock()
	}
	r.event(TypeState, &StatePayload{
		Device:   device,
		OldState: old,
		NewState: new,
		Reason:   reason,
	})
}

// RecordMapSent queues a completed map transfer.
func (r *Reporter) RecordMapSent(d *platformmap.Document, fingerprint string) {
	if d == nil {
		return
	}
	r.event(TypeMapSent, &MapSentPayload{
		MapName:        d.MapName,
		PlatformNumber: d.PlatformNumber,
		Fingerprint:    fingerprint,
	})
}

func (r *Reporter) event(msgType string, payload any) {
	env, err := NewEnvelope(r.codec, msgType, r.nodeID, payload)
	if err != nil {
		log.Printf("reporter: build %s: %v", msgType, err)
		return
	}
	if r.outbox != nil {
		if err := r.outbox.Enqueue(r.events, env); err != nil {
			log.Printf("reporter: enqueue %s: %v", msgType, err)
		}
		return
	}
	if err := PublishEnvelope(r.client, r.events, env); err != nil {
		log.Printf("reporter: publish %s: %v", msgType, err)
	}
}

// Start begins the periodic telemetry flush.
func (r *Reporter) Start() {
	go r.loop()
}

// Stop halts the loop. A pending sample is dropped.
func (r *Reporter) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	<-r.done
}

func (r *Reporter) loop() {
	defer close(r.done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.flush()
		}
	}
}

func (r *Reporter) flush() {
	r.mu.Lock()
	p := r.latest
	r.latest = nil
	r.mu.Unlock()
	if p == nil || !r.client.IsConnected() {
		return
	}
	env, err := NewEnvelope(r.codec, TypeTelemetry, r.nodeID, p)
	if err != nil {
		log.Printf("reporter: build telemetry: %v", err)
		return
	}
	if err := PublishEnvelope(r.client, r.telemetry, env); err != nil {
		log.Printf("reporter: publish telemetry: %v", err)
	}
}
