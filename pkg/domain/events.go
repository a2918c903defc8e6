package domain

import "time"

// EventType defines the category of the event.
type EventType string

const (
	EventTickStart EventType = "tick_start"
	EventTickEnd   EventType = "tick_end"
	EventRequest   EventType = "request"
)

// EventBase contains common fields for all events.
type EventBase struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
}

// TickEvent describes the start or end of one RunTick.
// Calls, Elapsed and Err are only set on EventTickEnd.
type TickEvent struct {
	EventBase
	Tick    uint64        `json:"tick"`
	Delta   time.Duration `json:"delta"`
	Calls   int           `json:"calls,omitempty"`
	Elapsed time.Duration `json:"elapsed,omitempty"`
	Err     error         `json:"-"`
}

// RequestEvent is emitted for every request the runtime services.
type RequestEvent struct {
	EventBase
	Tick uint64 `json:"tick"`
	Kind string `json:"kind"`
}

// LifecycleHooks defines callbacks for runtime observability.
// Hooks run synchronously on the ticking goroutine and must not block.
type LifecycleHooks struct {
	OnTickStart func(*TickEvent)
	OnTickEnd   func(*TickEvent)
	OnRequest   func(*RequestEvent)
}
