// Package events provides an in-process pub/sub bus for license and
// verification events, feeding the websocket broadcast and any other
// in-process consumers.
package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventVerification     EventType = "LICENSE_VERIFICATION"
	EventLicenseCreated   EventType = "LICENSE_CREATED"
	EventLicenseSuspended EventType = "LICENSE_SUSPENDED"
	EventLicenseRevoked   EventType = "LICENSE_REVOKED"
	EventLicenseRenewed   EventType = "LICENSE_RENEWED"
	EventDomainUnbound    EventType = "DOMAIN_UNBOUND"
	EventAttemptsReset    EventType = "ATTEMPTS_RESET"
	EventError            EventType = "ERROR"
)

// Event represents a system event
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber // Subscribers to all events
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event with the given payload to all subscribers.
// Subscribers run in their own goroutines so a slow consumer cannot
// block a verification request.
func (eb *EventBus) Publish(eventType string, data interface{}) {
	eb.PublishEvent(Event{Type: EventType(eventType), Data: data})
}

// PublishEvent sends a fully-built event to all subscribers
func (eb *EventBus) PublishEvent(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if subs, ok := eb.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event)
		}
	}

	for _, sub := range eb.allSubs {
		go sub(event)
	}
}
