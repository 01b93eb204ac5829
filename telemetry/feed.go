package telemetry

import (
	"context"
	"sync"

	"robolink/status"
)

// Feed is a single-slot latest-value cell. Publishing replaces the value and
// wakes every waiting subscriber; subscribers that fall behind see only the
// newest value.
type Feed struct {
	mu      sync.Mutex
	value   *status.Snapshot
	version uint64
	changed chan struct{}
}

// NewFeed returns an empty feed.
func NewFeed() *Feed {
	return &Feed{changed: make(chan struct{})}
}

// Publish replaces the current snapshot.
func (f *Feed) Publish(s *status.Snapshot) {
	f.set(s)
}

// Clear marks the snapshot as absent.
func (f *Feed) Clear() {
	f.set(nil)
}

func (f *Feed) set(s *status.Snapshot) {
	f.mu.Lock()
	f.value = s
	f.version++
	close(f.changed)
	f.changed = make(chan struct{})
	f.mu.Unlock()
}

// Latest returns the current snapshot (nil when absent) and its version.
func (f *Feed) Latest() (*status.Snapshot, uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.value, f.version
}

// Subscribe returns a cursor positioned at the current version, so the
// first Next waits for the next change.
func (f *Feed) Subscribe() *Cursor {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &Cursor{feed: f, seen: f.version}
}

// Cursor tracks one subscriber's position in a Feed.
type Cursor struct {
	feed *Feed
	seen uint64
}

// Next blocks until the feed holds a version newer than the last one this
// cursor returned, then returns that snapshot with its version. The
// snapshot is nil when the feed was cleared.
func (c *Cursor) Next(ctx context.Context) (*status.Snapshot, uint64, error) {
	for {
		c.feed.mu.Lock()
		if c.feed.version != c.seen {
			c.seen = c.feed.version
			v := c.feed.value
			c.feed.mu.Unlock()
			return v, c.seen, nil
		}
		wait := c.feed.changed
		c.feed.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, c.seen, ctx.Err()
		}
	}
}
