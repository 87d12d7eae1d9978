// Package events carries the registry's emitted events to audit consumers.
// Every successful mutation publishes one event on the Bus; listeners run
// in-process (the structured audit log) or deliver over HTTP (WebhookSink).
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Event is a single emitted registry event.
type Event struct {
	ID         uuid.UUID         `json:"id"`
	Type       string            `json:"type"`
	OccurredAt time.Time         `json:"occurred_at"`
	Attributes map[string]string `json:"attributes"`
}

// ListenerFunc receives published events. Listeners must not mutate the
// event's attribute map.
type ListenerFunc func(ctx context.Context, ev Event)

// Bus fans published events out to all subscribed listeners, synchronously
// and in subscription order, and writes each one to the structured audit log.
type Bus struct {
	mu        sync.RWMutex
	listeners []ListenerFunc
	logger    zerolog.Logger
}

func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{logger: logger}
}

// Subscribe registers a listener for all subsequent events.
func (b *Bus) Subscribe(fn ListenerFunc) {
	b.mu.Lock()
	b.listeners = append(b.listeners, fn)
	b.mu.Unlock()
}

// Publish stamps, logs, and dispatches an event, returning it for the caller.
func (b *Bus) Publish(ctx context.Context, eventType string, attrs map[string]string) Event {
	ev := Event{
		ID:         uuid.New(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		Attributes: attrs,
	}

	logEv := b.logger.Info().
		Str("event_id", ev.ID.String()).
		Str("event_type", ev.Type).
		Time("occurred_at", ev.OccurredAt)
	for k, v := range attrs {
		logEv = logEv.Str(k, v)
	}
	logEv.Msg("registry_event")

	b.mu.RLock()
	listeners := make([]ListenerFunc, len(b.listeners))
	copy(listeners, b.listeners)
	b.mu.RUnlock()

	for _, fn := range listeners {
		fn(ctx, ev)
	}

	return ev
}
