package streaming

import "context"

// StreamEvent is a real-time lifecycle event of a workflow instance.
type StreamEvent struct {
	InstanceID   string `json:"instance_id"`
	DefinitionID string `json:"definition_id,omitempty"`
	ActivityID   string `json:"activity_id,omitempty"`
	EventType    string `json:"event_type"`
	Payload      any    `json:"payload,omitempty"`
}

// EventFilter specifies which events a subscriber wants to receive. Empty
// fields match everything.
type EventFilter struct {
	InstanceID   string   `json:"instance_id,omitempty"`
	DefinitionID string   `json:"definition_id,omitempty"`
	EventTypes   []string `json:"event_types,omitempty"`
}

// EventHub provides pub/sub for instance lifecycle events.
type EventHub interface {
	Publish(ctx context.Context, event StreamEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}
