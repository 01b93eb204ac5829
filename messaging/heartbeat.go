package messaging

import (
	"log"
	"sync"
	"time"

	"robolink/link"
)

// LinkStatus reports the device name and connection state for heartbeats.
type LinkStatus func() (device string, state link.State)

// Heartbeater publishes robot.heartbeat on the events topic.
type Heartbeater struct {
	client    Publisher
	codec     Codec
	nodeID    string
	topic     string
	interval  time.Duration
	status    LinkStatus
	startTime time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewHeartbeater creates a heartbeater for nodeID.
func NewHeartbeater(client Publisher, codec Codec, nodeID, eventsTopic string, interval time.Duration, status LinkStatus) *Heartbeater {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Heartbeater{
		client:   client,
		codec:    codec,
		nodeID:   nodeID,
		topic:    eventsTopic,
		interval: interval,
		status:   status,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start sends an initial heartbeat and begins the loop.
func (h *Heartbeater) Start() {
	h.startTime = time.Now()
	h.send()
	go h.loop()
}

// Stop halts the heartbeat loop.
func (h *Heartbeater) Stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })
	<-h.done
}

func (h *Heartbeater) send() {
	device, state := h.status()
	env, err := NewEnvelope(h.codec, TypeHeartbeat, h.nodeID, &HeartbeatPayload{
		Node:   h.nodeID,
		Device: device,
		State:  state,
		Uptime: int64(time.Since(h.startTime).Seconds()),
	})
	if err != nil {
		log.Printf("heartbeater: build heartbeat: %v", err)
		return
	}
	if !h.client.IsConnected() {
		return
	}
	if err := PublishEnvelope(h.client, h.topic, env); err != nil {
		log.Printf("heartbeater: send heartbeat: %v", err)
	}
}

func (h *Heartbeater) loop() {
	defer close(h.done)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.send()
		}
	}
}
