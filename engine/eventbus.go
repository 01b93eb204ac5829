package engine

import (
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// SubscriberID identifies a subscription for Unsubscribe.
type SubscriberID uint64

// SubscriberFunc is a callback invoked when an event is emitted.
type SubscriberFunc func(Event)

type subscriber struct {
	id    SubscriberID
	fn    SubscriberFunc
	types []EventType // empty means all
}

func (s *subscriber) accepts(t EventType) bool {
	if len(s.types) == 0 {
		return true
	}
	for _, want := range s.types {
		if want == t {
			return true
		}
	}
	return false
}

// EventBus dispatches events synchronously, in subscription order, on the
// emitting goroutine. Telemetry is emitted from the poller, so subscribers
// must not block.
//
// Emit reads an immutable subscriber list; Subscribe and Unsubscribe
// replace it.
type EventBus struct {
	mu     sync.Mutex // serializes writers
	subs   atomic.Pointer[[]*subscriber]
	nextID SubscriberID
}

// NewEventBus creates a new EventBus.
func NewEventBus() *EventBus {
	eb := &EventBus{}
	eb.subs.Store(&[]*subscriber{})
	return eb
}

// Subscribe registers a callback for all event types.
func (eb *EventBus) Subscribe(fn SubscriberFunc) SubscriberID {
	return eb.add(fn, nil)
}

// SubscribeTypes registers a callback only for the given event types.
func (eb *EventBus) SubscribeTypes(fn SubscriberFunc, types ...EventType) SubscriberID {
	return eb.add(fn, append([]EventType(nil), types...))
}

func (eb *EventBus) add(fn SubscriberFunc, types []EventType) SubscriberID {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.nextID++
	cur := *eb.subs.Load()
	next := make([]*subscriber, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, &subscriber{id: eb.nextID, fn: fn, types: types})
	eb.subs.Store(&next)
	return eb.nextID
}

// Unsubscribe removes a subscriber. Unknown ids are ignored.
func (eb *EventBus) Unsubscribe(id SubscriberID) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	cur := *eb.subs.Load()
	next := make([]*subscriber, 0, len(cur))
	for _, s := range cur {
		if s.id != id {
			next = append(next, s)
		}
	}
	eb.subs.Store(&next)
}

// Emit delivers evt to every matching subscriber. A panicking subscriber
// is logged and the rest still run.
func (eb *EventBus) Emit(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	for _, s := range *eb.subs.Load() {
		if s.accepts(evt.Type) {
			deliver(s, evt)
		}
	}
}

func deliver(s *subscriber, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("eventbus: subscriber %d panicked on %s: %v", s.id, evt.Type, r)
		}
	}()
	s.fn(evt)
}
