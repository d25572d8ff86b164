// Package events carries the in-process bus the lifecycle modules talk
// over: status transitions, assignment declines, and notification outcomes
// travel as events rather than cross-module calls. The event types
// themselves live in internal/events; this package only knows how to route
// them.
package events

import (
	"context"
	"time"
)

// Event is anything the bus can route. The name keys handler registration,
// so it must be stable across releases.
type Event interface {
	EventName() string
	OccurredAt() time.Time
}

// BaseEvent supplies the timestamp every event embeds.
type BaseEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// NewBaseEvent stamps the event with the publish time.
func NewBaseEvent() BaseEvent {
	return BaseEvent{Timestamp: time.Now()}
}

// Handler consumes events of one registered name. A module typically
// registers itself once per event it cares about.
type Handler interface {
	Handle(ctx context.Context, event Event) error
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, event Event) error

func (f HandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}

// Bus routes published events to their subscribers.
type Bus interface {
	// Publish hands the event to every subscriber of its name without
	// waiting for them. Delivery order across events is not guaranteed;
	// handlers that need the current state re-read it rather than trusting
	// the event payload.
	Publish(ctx context.Context, event Event)

	// PublishSync delivers the event and waits for every handler before
	// returning. Used where the caller needs the side effects applied.
	PublishSync(ctx context.Context, event Event) error

	// Subscribe registers a handler under the value the event returns from
	// EventName.
	Subscribe(eventName string, handler Handler)
}
