package service

import (
	"context"
	"sync"
	"time"
)

// EventType represents the type of event
type EventType string

const (
	// System events
	EventTypeServiceStarted EventType = "service.started"
	EventTypeServiceStopped EventType = "service.stopped"
	EventTypeServiceError   EventType = "service.error"

	// Device connection events
	EventTypeDeviceConnected    EventType = "device.connected"
	EventTypeDeviceDisconnected EventType = "device.disconnected"

	// Motion events
	EventTypeMotionStarted EventType = "motion.started"
	EventTypeMotionStopped EventType = "motion.stopped"

	// On-demand operations
	EventTypePTZMoved      EventType = "ptz.moved"
	EventTypeSnapshotTaken EventType = "snapshot.taken"

	// Capability detection
	EventTypePTZDetected EventType = "ptz.detected"
)

// Event represents an event in the system
type Event struct {
	Type      EventType
	Source    string // Service that emitted the event
	Timestamp time.Time
	Data      map[string]interface{}
}

// EventBus provides inter-service communication via events
type EventBus struct {
	subscribers map[EventType][]chan Event
	all         []chan Event
	closed      bool
	mu          sync.RWMutex
	bufferSize  int
}

// NewEventBus creates a new event bus
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &EventBus{
		subscribers: make(map[EventType][]chan Event),
		bufferSize:  bufferSize,
	}
}

// Subscribe subscribes to events of a specific type
func (eb *EventBus) Subscribe(eventType EventType) <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	ch := make(chan Event, eb.bufferSize)
	eb.subscribers[eventType] = append(eb.subscribers[eventType], ch)
	return ch
}

// SubscribeAll subscribes to every event regardless of type
func (eb *EventBus) SubscribeAll() <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	ch := make(chan Event, eb.bufferSize)
	eb.all = append(eb.all, ch)
	return ch
}

// Publish publishes an event to all subscribers. Slow subscribers miss
// events rather than blocking the publisher.
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.closed {
		return
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	deliver := func(sub chan Event) {
		select {
		case sub <- event:
		default:
		}
	}
	for _, sub := range eb.subscribers[event.Type] {
		deliver(sub)
	}
	for _, sub := range eb.all {
		deliver(sub)
	}
}

// Unsubscribe removes a subscription. Pass an empty event type to remove a
// SubscribeAll channel.
func (eb *EventBus) Unsubscribe(eventType EventType, ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eventType == "" {
		eb.all = removeSub(eb.all, ch)
		return
	}
	eb.subscribers[eventType] = removeSub(eb.subscribers[eventType], ch)
}

func removeSub(subs []chan Event, ch <-chan Event) []chan Event {
	for i, sub := range subs {
		if sub == ch {
			close(sub)
			return append(subs[:i], subs[i+1:]...)
		}
	}
	return subs
}

// Close closes all subscriptions and cleans up
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}
	eb.closed = true

	for eventType, subs := range eb.subscribers {
		for _, sub := range subs {
			close(sub)
		}
		delete(eb.subscribers, eventType)
	}
	for _, sub := range eb.all {
		close(sub)
	}
	eb.all = nil
}

// EventHandler is a function that handles events
type EventHandler func(ctx context.Context, event Event) error

// SubscribeWithHandler subscribes to events and handles them with a function
// until ctx is done or the bus is closed.
func (eb *EventBus) SubscribeWithHandler(ctx context.Context, eventType EventType, handler EventHandler) {
	ch := eb.Subscribe(eventType)
	go func() {
		for {
			select {
			case event, ok := <-ch:
				if !ok {
					return
				}
				_ = handler(ctx, event)
			case <-ctx.Done():
				eb.Unsubscribe(eventType, ch)
				return
			}
		}
	}()
}
