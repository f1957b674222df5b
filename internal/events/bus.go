// Package events provides the in-process event bus used for notifications,
// job lifecycle updates, and the SSE stream.
package events

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventType identifies a class of event on the bus.
type EventType string

const (
	TriggerCreated     EventType = "trigger_created"
	JobStarted         EventType = "job_started"
	JobProgress        EventType = "job_progress"
	JobCompleted       EventType = "job_completed"
	JobFailed          EventType = "job_failed"
	SuggestionsReady   EventType = "suggestions_ready"
	PortfolioReady     EventType = "portfolio_ready"
	SetImpactReady     EventType = "set_impact_ready"
	NotificationQueued EventType = "notification_queued"
	PriceTick          EventType = "price_tick"
	BackupCompleted    EventType = "backup_completed"
)

// Event is a single emitted event.
type Event struct {
	Type      EventType   `json:"type"`
	Source    string      `json:"source"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Handler receives emitted events. Handlers must not block; slow consumers
// should buffer internally (the SSE handler drops on a full channel).
type Handler func(*Event)

// Bus is a synchronous fan-out event bus. Emit calls every matching handler
// in the emitting goroutine.
type Bus struct {
	mu          sync.RWMutex
	handlers    map[EventType][]Handler
	anyHandlers map[int]Handler
	nextID      int
	log         zerolog.Logger
}

// NewBus creates a new event bus.
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		handlers:    make(map[EventType][]Handler),
		anyHandlers: make(map[int]Handler),
		log:         log.With().Str("component", "event_bus").Logger(),
	}
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(t EventType, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], h)
}

// SubscribeAll registers a handler for every event type and returns a
// function that removes it. The SSE stream subscribes per connection and
// unsubscribes on disconnect.
func (b *Bus) SubscribeAll(h Handler) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.anyHandlers[id] = h
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.anyHandlers, id)
		b.mu.Unlock()
	}
}

// Emit publishes an event to all matching handlers.
func (b *Bus) Emit(t EventType, source string, data interface{}) {
	event := &Event{
		Type:      t,
		Source:    source,
		Data:      data,
		Timestamp: time.Now(),
	}

	b.mu.RLock()
	typed := b.handlers[t]
	any := make([]Handler, 0, len(b.anyHandlers))
	for _, h := range b.anyHandlers {
		any = append(any, h)
	}
	b.mu.RUnlock()

	for _, h := range typed {
		b.safeCall(h, event)
	}
	for _, h := range any {
		b.safeCall(h, event)
	}
}

// safeCall invokes a handler, recovering panics so one bad subscriber cannot
// take down an emitter.
func (b *Bus) safeCall(h Handler, e *Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Interface("panic", r).Str("event_type", string(e.Type)).Msg("Event handler panicked")
		}
	}()
	h(e)
}
