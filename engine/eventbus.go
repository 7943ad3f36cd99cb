package engine

import (
	"sync"
	"time"
)

// SubscriberID uniquely identifies an EventBus subscriber.
type SubscriberID uint64

// SubscriberFunc is a callback invoked when an event is emitted.
type SubscriberFunc func(Event)

type subscriber struct {
	id    SubscriberID
	fn    SubscriberFunc
	types map[EventType]bool
}

func (s subscriber) wants(t EventType) bool {
	return s.types == nil || s.types[t]
}

// EventBus dispatches events synchronously, in registration order, on the
// emitting goroutine. Handlers that block hold up the emitter.
type EventBus struct {
	mu     sync.RWMutex
	subs   []subscriber
	nextID SubscriberID
}

// NewEventBus creates a new EventBus.
func NewEventBus() *EventBus {
	return &EventBus{}
}

// Subscribe registers fn for every event type.
func (eb *EventBus) Subscribe(fn SubscriberFunc) SubscriberID {
	return eb.add(fn, nil)
}

// SubscribeTypes registers fn for the listed event types only.
func (eb *EventBus) SubscribeTypes(fn SubscriberFunc, types ...EventType) SubscriberID {
	set := make(map[EventType]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return eb.add(fn, set)
}

func (eb *EventBus) add(fn SubscriberFunc, types map[EventType]bool) SubscriberID {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.nextID++
	eb.subs = append(eb.subs, subscriber{id: eb.nextID, fn: fn, types: types})
	return eb.nextID
}

// Unsubscribe removes a subscriber. It reports whether the id was registered.
func (eb *EventBus) Unsubscribe(id SubscriberID) bool {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	for i, s := range eb.subs {
		if s.id == id {
			eb.subs = append(eb.subs[:i:i], eb.subs[i+1:]...)
			return true
		}
	}
	return false
}

// Emit stamps evt if needed and delivers it to every matching subscriber.
func (eb *EventBus) Emit(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	eb.mu.RLock()
	subs := eb.subs
	eb.mu.RUnlock()

	for _, s := range subs {
		if s.wants(evt.Type) {
			s.fn(evt)
		}
	}
}
