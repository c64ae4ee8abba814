package manager

import (
	"time"

	"github.com/rs/zerolog"
)

// Event represents a manager lifecycle event: a name plus optional fields.
type Event struct {
	Name   string
	At     time.Time
	Fields map[string]any
}

// EventPublisher receives events from the manager. Implementations should be
// lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

// LogPublisher writes events to a zerolog logger at debug level.
type LogPublisher struct{ Log zerolog.Logger }

func (p LogPublisher) Publish(e Event) {
	p.Log.Debug().Str("event", e.Name).Fields(e.Fields).Msg("manager event")
}
