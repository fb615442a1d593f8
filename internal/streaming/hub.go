package streaming

import "context"

// StreamEvent is a real-time event emitted while update passes run.
type StreamEvent struct {
	PassID    string `json:"pass_id,omitempty"`
	Surface   string `json:"surface,omitempty"`
	Place     string `json:"place,omitempty"`
	EventType string `json:"event_type"`
	Payload   any    `json:"payload,omitempty"`
}

// EventFilter specifies which events a subscriber wants to receive.
type EventFilter struct {
	Surface    string   `json:"surface,omitempty"`
	EventTypes []string `json:"event_types,omitempty"`
}

// EventHub provides pub/sub for pass lifecycle events.
type EventHub interface {
	Publish(ctx context.Context, event StreamEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}
