package messaging

import (
	"log"
	"sync"
	"time"

	"robolink/store"
)

const (
	outboxBatch     = 50
	outboxRetention = 24 * time.Hour
	purgeEvery      = time.Hour
)

// Outbox queues envelopes that must survive a broker outage. Enqueue wakes
// the drainer so a connected broker sees the message without waiting for
// the next tick.
type Outbox struct {
	db     *store.DB
	notify chan struct{}
}

func NewOutbox(db *store.DB) *Outbox {
	return &Outbox{db: db, notify: make(chan struct{}, 1)}
}

// Enqueue stores env for the drainer to publish on topic.
func (o *Outbox) Enqueue(topic string, env *Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}
	if err := o.db.EnqueueOutbox(topic, data, env.Type); err != nil {
		return err
	}
	select {
	case o.notify <- struct{}{}:
	default:
	}
	return nil
}

// OutboxDrainer publishes queued messages in insertion order. A failed
// publish ends the pass so later messages never overtake it.
type OutboxDrainer struct {
	outbox    *Outbox
	client    Publisher
	interval  time.Duration
	lastPurge time.Time
	stopChan  chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewOutboxDrainer creates a drainer that runs every interval and whenever
// ob receives a message.
func NewOutboxDrainer(ob *Outbox, client Publisher, interval time.Duration) *OutboxDrainer {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &OutboxDrainer{
		outbox:   ob,
		client:   client,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

func (d *OutboxDrainer) Start() {
	d.wg.Add(1)
	go d.drainLoop()
}

func (d *OutboxDrainer) Stop() {
	d.stopOnce.Do(func() { close(d.stopChan) })
	d.wg.Wait()
}

func (d *OutboxDrainer) drainLoop() {
	defer d.wg.Done()
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopChan:
			return
		case <-ticker.C:
		case <-d.outbox.notify:
		}
		d.drain()
	}
}

func (d *OutboxDrainer) drain() {
	if !d.client.IsConnected() {
		return
	}
	db := d.outbox.db

	msgs, err := db.ListPendingOutbox(outboxBatch)
	if err != nil {
		log.Printf("outbox: list pending: %v", err)
		return
	}

	var sent []int64
	for _, msg := range msgs {
		if err := d.client.Publish(msg.Topic, msg.Payload); err != nil {
			log.Printf("outbox: publish %d (%s, try %d): %v", msg.ID, msg.MsgType, msg.Retries+1, err)
			if err := db.IncrementOutboxRetries(msg.ID); err != nil {
				log.Printf("outbox: count retry %d: %v", msg.ID, err)
			}
			if msg.Retries+1 >= store.OutboxMaxRetries {
				log.Printf("outbox: giving up on %d (%s) after %d tries", msg.ID, msg.MsgType, store.OutboxMaxRetries)
			}
			break
		}
		sent = append(sent, msg.ID)
	}
	if err := db.AckOutbox(sent...); err != nil {
		log.Printf("outbox: ack %d messages: %v", len(sent), err)
	}

	if time.Since(d.lastPurge) >= purgeEvery {
		d.lastPurge = time.Now()
		if n, err := db.PurgeSentOutbox(outboxRetention); err != nil {
			log.Printf("outbox: purge: %v", err)
		} else if n > 0 {
			log.Printf("outbox: purged %d sent messages", n)
		}
	}
}
