package schema

import "time"

// Event is an external occurrence delivered by the host. Payload is compared
// for exact equality against bookmark and trigger payloads.
type Event struct {
	Kind    string         `json:"kind"`
	Payload any            `json:"payload,omitempty"`
	Input   map[string]any `json:"input,omitempty"`
}

// Bookmark records that an instance is suspended at an activity, waiting for
// an event of Kind whose payload hashes to PayloadHash.
type Bookmark struct {
	ID          string    `json:"id"`
	InstanceID  string    `json:"instance_id"`
	Kind        string    `json:"kind"`
	Payload     any       `json:"payload,omitempty"`
	PayloadHash string    `json:"payload_hash"`
	ActivityID  string    `json:"activity_id"`
	ExecutionID string    `json:"execution_id"`
	Callback    string    `json:"callback,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// TriggerDescriptor is the static, definition-scoped projection of a trigger
// activity that can start a new instance.
type TriggerDescriptor struct {
	DefinitionID string `json:"definition_id"`
	Version      int    `json:"version"`
	ActivityID   string `json:"activity_id"`
	Kind         string `json:"kind"`
	Payload      any    `json:"payload,omitempty"`
	PayloadHash  string `json:"payload_hash"`
}
