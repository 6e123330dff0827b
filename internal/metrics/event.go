package metrics

import "time"

type EventType string

const (
	EventRequestCompleted   EventType = "request_completed"
	EventRequestRejected    EventType = "request_rejected"
	EventRetry              EventType = "retry"
	EventBreakerChanged     EventType = "breaker_changed"
	EventHealthChanged      EventType = "health_changed"
	EventConnectionsEvicted EventType = "connections_evicted"
)

type MetricEvent struct {
	Type      EventType
	Timestamp time.Time
	Backend   string
	Duration  time.Duration
	Success   bool
	// Kind is the failure kind of a failed or rejected call.
	Kind     string
	Priority string
	Attempts int
	// State is the breaker state after a transition.
	State   string
	Healthy bool
	Count   int
}

// Sink accepts events without blocking the caller.
type Sink interface {
	Emit(event MetricEvent)
}

// Discard is a Sink that drops every event.
var Discard Sink = discard{}

type discard struct{}

func (discard) Emit(MetricEvent) {}
