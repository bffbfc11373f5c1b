package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType represents the type of reconciliation event
type EventType string

const (
	EventStageStarted   EventType = "stage.started"
	EventStageApplied   EventType = "stage.applied"
	EventStageValidated EventType = "stage.validated"
	EventStageFailed    EventType = "stage.failed"
	EventStageSkipped   EventType = "stage.skipped"
	EventRunComplete    EventType = "run.complete"
	EventRunFailed      EventType = "run.failed"
	EventTeardownDone   EventType = "teardown.complete"
)

// Event represents one reconciliation event
type Event struct {
	ID         string
	Type       EventType
	Deployment string
	Stage      string
	Timestamp  time.Time
	Message    string
}

// New builds an event with a fresh ID and timestamp
func New(t EventType, deployment, stage, message string) *Event {
	return &Event{
		ID:         uuid.NewString(),
		Type:       t,
		Deployment: deployment,
		Stage:      stage,
		Timestamp:  time.Now().UTC(),
		Message:    message,
	}
}

// Subscriber is a channel that receives events
type Subscriber chan *Event

// Broker manages event subscriptions and distribution. Publishing never
// blocks the reconciler: slow subscribers drop events.
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *Event
	stopCh      chan struct{}
}

// NewBroker creates a new event broker
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *Event, 100),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe creates a new subscription and returns a channel
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, sub)
	close(sub)
}

// Publish publishes an event to all subscribers
func (b *Broker) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// Subscriber buffer full, skip
		}
	}
}

// SubscriberCount returns the number of active subscribers
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
