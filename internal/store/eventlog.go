package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rendis/waypoint/internal/xjson"
	"github.com/rendis/waypoint/pkg/schema"
)

// ActivityRecord is the journal-derived view of one activity in an instance.
type ActivityRecord struct {
	ActivityID  string                `json:"activity_id"`
	Status      schema.ActivityStatus `json:"status"`
	Runs        int                   `json:"runs"`
	StartedAt   *time.Time            `json:"started_at,omitempty"`
	CompletedAt *time.Time            `json:"completed_at,omitempty"`
	Outcomes    []string              `json:"outcomes,omitempty"`
	Fault       xjson.RawMessage      `json:"fault,omitempty"`
}

// EventLog provides journal operations on top of any Store.
type EventLog struct {
	store Store
}

// NewEventLog wraps a Store to provide journal replay.
func NewEventLog(s Store) *EventLog {
	return &EventLog{store: s}
}

// AppendEvent appends an event with a monotonically increasing per-instance sequence.
func (el *EventLog) AppendEvent(ctx context.Context, event *Event) error {
	return el.store.AppendEvent(ctx, event)
}

// GetEvents returns events for an instance with sequence > since, ordered by sequence.
func (el *EventLog) GetEvents(ctx context.Context, instanceID string, since int64) ([]*Event, error) {
	return el.store.GetEvents(ctx, instanceID, since)
}

// Replay folds an instance's journal into per-activity records.
// Returns an error if sequence gaps are detected.
func (el *EventLog) Replay(ctx context.Context, instanceID string) (map[string]*ActivityRecord, error) {
	events, err := el.store.GetEvents(ctx, instanceID, 0)
	if err != nil {
		return nil, fmt.Errorf("get events for replay: %w", err)
	}

	for i, e := range events {
		expected := int64(i + 1)
		if e.Sequence != expected {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in instance %s: expected %d, got %d", instanceID, expected, e.Sequence)
		}
	}

	records := make(map[string]*ActivityRecord)
	for _, e := range events {
		if e.ActivityID == "" {
			continue
		}
		rec, ok := records[e.ActivityID]
		if !ok {
			rec = &ActivityRecord{ActivityID: e.ActivityID, Status: schema.ActivityStatusPending}
			records[e.ActivityID] = rec
		}

		ts := e.Timestamp
		switch e.Type {
		case schema.EventActivityScheduled:
			rec.Status = schema.ActivityStatusPending
		case schema.EventActivityStarted:
			rec.Status = schema.ActivityStatusRunning
			rec.Runs++
			rec.StartedAt = &ts
			rec.CompletedAt = nil
		case schema.EventActivitySuspended:
			rec.Status = schema.ActivityStatusSuspended
		case schema.EventBookmarkResumed:
			rec.Status = schema.ActivityStatusRunning
		case schema.EventActivityCompleted:
			rec.Status = schema.ActivityStatusCompleted
			rec.CompletedAt = &ts
			var p struct {
				Outcomes []string `json:"outcomes"`
			}
			if len(e.Payload) > 0 && xjson.Unmarshal(e.Payload, &p) == nil {
				rec.Outcomes = p.Outcomes
			}
		case schema.EventActivityFaulted:
			rec.Status = schema.ActivityStatusFaulted
			rec.CompletedAt = &ts
			rec.Fault = e.Payload
		case schema.EventActivityCancelled:
			rec.Status = schema.ActivityStatusCancelled
		}
	}
	return records, nil
}
