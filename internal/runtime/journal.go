package runtime

import (
	"context"
	"log/slog"
	"sync"

	"github.com/rendis/waypoint/internal/store"
	"github.com/rendis/waypoint/internal/streaming"
	"github.com/rendis/waypoint/internal/xjson"
)

// publishingAppender journals FSM events and fans them out to the hub.
// Journal failures are logged and do not stop execution; the instance
// snapshot remains the source of truth.
type publishingAppender struct {
	journal *store.EventLog
	hub     streaming.EventHub
	owners  *sync.Map
	logger  *slog.Logger
}

func (a *publishingAppender) AppendEvent(ctx context.Context, ev *store.Event) error {
	if err := a.journal.AppendEvent(ctx, ev); err != nil {
		a.logger.Warn("journal append failed",
			slog.String("instance_id", ev.InstanceID),
			slog.String("event_type", ev.Type),
			slog.String("error", err.Error()))
	}
	if a.hub == nil {
		return nil
	}
	out := streaming.StreamEvent{
		InstanceID: ev.InstanceID,
		ActivityID: ev.ActivityID,
		EventType:  ev.Type,
	}
	if defID, ok := a.owners.Load(ev.InstanceID); ok {
		out.DefinitionID = defID.(string)
	}
	if len(ev.Payload) > 0 {
		var payload any
		if err := xjson.Unmarshal(ev.Payload, &payload); err == nil {
			out.Payload = payload
		}
	}
	if err := a.hub.Publish(ctx, out); err != nil {
		a.logger.Debug("stream publish failed", slog.String("error", err.Error()))
	}
	return nil
}
