// Package telemetry polls the robot's status characteristic and republishes
// decoded snapshots.
package telemetry

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"robolink/gatt"
	"robolink/status"
)

const (
	DefaultInterval   = time.Second
	DefaultStaleLimit = 3000
)

// Reader is the read half of a link.
type Reader interface {
	Read(ctx context.Context, ch gatt.Channel) ([]byte, error)
}

// Config holds the poll cadence and staleness threshold.
type Config struct {
	Interval   time.Duration
	StaleLimit int
	// Debug receives per-read diagnostics. Nil disables them.
	Debug func(format string, args ...interface{})
}

// Stats is a point-in-time view of the poller.
type Stats struct {
	LastSequence *uint16 `json:"last_sequence"`
	StaleCount   int     `json:"stale_count"`
	Reads        int64   `json:"reads"`
	ReadErrors   int64   `json:"read_errors"`
	Skipped      int64   `json:"skipped"`
	Published    int64   `json:"published"`
}

// Synchronizer reads the status characteristic once per interval, decodes
// it and publishes every snapshot whose sequence number changed. A run of
// StaleLimit unchanged reads means the robot has wedged: polling stops and
// the stale callback fires once.
type Synchronizer struct {
	reader  Reader
	ch      gatt.Channel
	feed    *Feed
	emitter EventEmitter
	onStale func()

	interval   time.Duration
	staleLimit int
	debugFn    func(format string, args ...interface{})

	inFlight atomic.Bool
	stopped  atomic.Bool

	mu      sync.Mutex
	lastSeq *uint16
	stale   int
	tripped bool
	stats   Stats

	ctx      context.Context
	cancel   context.CancelFunc
	stopChan chan struct{}
	haltOnce sync.Once
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a synchronizer reading ch through r and publishing into feed.
func New(r Reader, ch gatt.Channel, feed *Feed, emitter EventEmitter, cfg Config) *Synchronizer {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.StaleLimit <= 0 {
		cfg.StaleLimit = DefaultStaleLimit
	}
	if emitter == nil {
		emitter = nopEmitter{}
	}
	debugFn := cfg.Debug
	if debugFn == nil {
		debugFn = func(string, ...interface{}) {}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Synchronizer{
		reader:     r,
		ch:         ch,
		feed:       feed,
		emitter:    emitter,
		interval:   cfg.Interval,
		staleLimit: cfg.StaleLimit,
		debugFn:    debugFn,
		ctx:        ctx,
		cancel:     cancel,
		stopChan:   make(chan struct{}),
	}
}

// OnStale registers the callback run when the staleness limit is reached.
// It runs on its own goroutine, so it may call Stop.
func (s *Synchronizer) OnStale(fn func()) {
	s.onStale = fn
}

// Start begins polling.
func (s *Synchronizer) Start() {
	s.wg.Add(1)
	go s.pollLoop()
}

// Stop halts polling, waits for an in-flight read to finish or be
// abandoned, and clears the feed. Results that arrive after Stop are dropped.
func (s *Synchronizer) Stop() {
	s.stopOnce.Do(func() {
		s.halt()
		s.cancel()
		s.wg.Wait()
		s.feed.Clear()
	})
}

func (s *Synchronizer) halt() {
	s.haltOnce.Do(func() {
		s.stopped.Store(true)
		close(s.stopChan)
	})
}

// Stats returns the poller counters.
func (s *Synchronizer) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.StaleCount = s.stale
	if s.lastSeq != nil {
		v := *s.lastSeq
		st.LastSequence = &v
	}
	return st
}

func (s *Synchronizer) pollLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick starts one read unless the previous one is still outstanding.
func (s *Synchronizer) tick() {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.mu.Lock()
		s.stats.Skipped++
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.inFlight.Store(false)
		s.poll(s.ctx)
	}()
}

func (s *Synchronizer) poll(ctx context.Context) {
	data, err := s.reader.Read(ctx, s.ch)
	if s.stopped.Load() {
		return
	}
	if err != nil {
		s.mu.Lock()
		s.stats.ReadErrors++
		s.mu.Unlock()
		log.Printf("telemetry: read status: %v", err)
		s.emitter.EmitReadError(err)
		return
	}

	snap, derr := status.DecodeChecked(data)
	if derr != nil {
		s.debugFn("telemetry: %v", derr)
	}

	s.mu.Lock()
	s.stats.Reads++
	if snap.SameSequence(s.lastSeq) {
		s.stale++
		count := s.stale
		trip := count >= s.staleLimit && !s.tripped
		if trip {
			s.tripped = true
		}
		s.mu.Unlock()
		if trip {
			s.trip(count, *snap.Sequence)
		}
		return
	}
	s.stale = 0
	s.lastSeq = snap.Sequence
	s.stats.Published++
	s.mu.Unlock()

	s.debugFn("telemetry: %s", snap)
	s.feed.Publish(snap)
	s.emitter.EmitSnapshot(snap)
}

func (s *Synchronizer) trip(count int, seq uint16) {
	log.Printf("telemetry: sequence %d unchanged for %d reads, dropping link", seq, count)
	s.halt()
	s.emitter.EmitStaleLimit(count, seq)
	if s.onStale != nil {
		go s.onStale()
	}
}
