// Package notify queues user notifications onto the event bus. Delivery
// (email, push, in-app) is an external concern; this layer only records and
// publishes.
package notify

import (
	"github.com/rs/zerolog"

	"github.com/mleone/deckwarden/internal/events"
)

// BusNotifier implements domain.Notifier by emitting NotificationQueued
// events. Subscribers (the SSE stream, future delivery workers) pick them up
// from there.
type BusNotifier struct {
	bus *events.Bus
	log zerolog.Logger
}

// NewBusNotifier creates a new bus-backed notifier.
func NewBusNotifier(bus *events.Bus, log zerolog.Logger) *BusNotifier {
	return &BusNotifier{
		bus: bus,
		log: log.With().Str("component", "notifier").Logger(),
	}
}

// Notify queues one notification. Fire and forget: errors in downstream
// handlers never reach the caller.
func (n *BusNotifier) Notify(userID, kind string, payload interface{}) {
	n.log.Debug().Str("user_id", userID).Str("kind", kind).Msg("Notification queued")
	n.bus.Emit(events.NotificationQueued, "notifier", events.NotificationData{
		UserID:  userID,
		Kind:    kind,
		Payload: payload,
	})
}
