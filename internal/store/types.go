package store

import (
	"encoding/json"
	"time"

	"github.com/rendis/waypoint/pkg/schema"
)

// Event is an immutable entry in an instance's journal.
type Event struct {
	ID          int64           `json:"id"`
	InstanceID  string          `json:"instance_id"`
	ActivityID  string          `json:"activity_id,omitempty"`
	ExecutionID string          `json:"execution_id,omitempty"`
	Type        string          `json:"event_type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	Sequence    int64           `json:"sequence"`
}

// InstanceFilter specifies criteria for listing instances.
type InstanceFilter struct {
	Status       *schema.InstanceStatus `json:"status,omitempty"`
	DefinitionID string                 `json:"definition_id,omitempty"`
	Limit        int                    `json:"limit,omitempty"`
	Offset       int                    `json:"offset,omitempty"`
}

func (f InstanceFilter) matches(s *schema.InstanceState) bool {
	if f.Status != nil && s.Status != *f.Status {
		return false
	}
	if f.DefinitionID != "" && s.DefinitionID != f.DefinitionID {
		return false
	}
	return true
}

// page applies Offset and Limit to an already ordered slice.
func page[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
