package events

import (
	"sync"
	"time"
)

// Subscriber receives published events.
type Subscriber func(Event)

// Bus is a non-blocking publish/subscribe fan-out. Delivery is
// best-effort: each subscriber gets a buffered channel and a delivery
// goroutine; if the buffer is full the event is dropped for that
// subscriber.
type Bus struct {
	subscribers map[EventType][]chan Event
	all         []chan Event
	bufferSize  int
	closed      bool
	mu          sync.RWMutex
}

// NewBus creates a bus with the given per-subscriber buffer size.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Bus{
		subscribers: make(map[EventType][]chan Event),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers fn for a single event type. The returned
// function removes the subscription.
func (b *Bus) Subscribe(eventType EventType, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := b.deliverTo(fn)
	b.subscribers[eventType] = append(b.subscribers[eventType], ch)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subscribers[eventType]
		for i, sub := range subs {
			if sub == ch {
				b.subscribers[eventType] = append(subs[:i], subs[i+1:]...)
				close(ch)
				return
			}
		}
	}
}

// SubscribeAll registers fn for every event type.
func (b *Bus) SubscribeAll(fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := b.deliverTo(fn)
	b.all = append(b.all, ch)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, sub := range b.all {
			if sub == ch {
				b.all = append(b.all[:i], b.all[i+1:]...)
				close(ch)
				return
			}
		}
	}
}

// deliverTo starts the delivery goroutine for one subscriber.
// Caller must hold b.mu.
func (b *Bus) deliverTo(fn Subscriber) chan Event {
	ch := make(chan Event, b.bufferSize)
	go func() {
		for event := range ch {
			func() {
				// A panicking subscriber must not take down the bus
				defer func() { _ = recover() }()
				fn(event)
			}()
		}
	}()
	return ch
}

// Publish sends an event to all matching subscribers without blocking.
// Timestamp is stamped here if the caller left it zero.
func (b *Bus) Publish(eventType EventType, payload any) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	event := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}

	for _, ch := range b.subscribers[eventType] {
		select {
		case ch <- event:
		default:
		}
	}
	for _, ch := range b.all {
		select {
		case ch <- event:
		default:
		}
	}
}

// Close shuts down delivery and drops all subscriptions.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for eventType, subs := range b.subscribers {
		for _, ch := range subs {
			close(ch)
		}
		delete(b.subscribers, eventType)
	}
	for _, ch := range b.all {
		close(ch)
	}
	b.all = nil
}
