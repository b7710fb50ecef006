package mcp

import (
	"context"
	"errors"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/waypoint/internal/streaming"
	"github.com/rendis/waypoint/pkg/schema"
)

// ClientNotifier pushes notifications to connected clients.
type ClientNotifier interface {
	Notify(ctx context.Context, clientID string, payload map[string]any) error
}

// MCPNotifier implements ClientNotifier using MCP session notifications.
type MCPNotifier struct {
	mcpServer *server.MCPServer
	sessions  *SessionRegistry
}

// NewMCPNotifier creates a notifier that pushes through MCP sessions.
func NewMCPNotifier(mcpServer *server.MCPServer, sessions *SessionRegistry) *MCPNotifier {
	return &MCPNotifier{mcpServer: mcpServer, sessions: sessions}
}

// Notify sends a notification to the client's session.
// Best-effort: returns nil if the client is not connected.
func (n *MCPNotifier) Notify(_ context.Context, clientID string, payload map[string]any) error {
	sessionID, ok := n.sessions.SessionOf(clientID)
	if !ok {
		return nil
	}
	err := n.mcpServer.SendNotificationToSpecificClient(sessionID, "notifications/message", payload)
	if errors.Is(err, server.ErrSessionNotFound) {
		n.sessions.Drop(sessionID)
		return nil
	}
	return err
}

// relayedEvents are the instance lifecycle events pushed to watching clients.
var relayedEvents = []string{
	schema.EventInstanceSuspended,
	schema.EventInstanceCompleted,
	schema.EventInstanceFaulted,
	schema.EventInstanceCancelled,
}

// Relay subscribes to the hub and forwards lifecycle events of instances
// started with a client_id to that client, until ctx is done.
func (s *Server) Relay(ctx context.Context) error {
	ch, cancel, err := s.hub.Subscribe(ctx, streaming.EventFilter{EventTypes: relayedEvents})
	if err != nil {
		return err
	}
	go func() {
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				s.relay(ctx, s.notifier, ev)
			}
		}
	}()
	return nil
}

func (s *Server) relay(ctx context.Context, n ClientNotifier, ev streaming.StreamEvent) {
	clientID, ok := s.sessions.Watcher(ev.InstanceID)
	if !ok {
		return
	}
	if ev.EventType != schema.EventInstanceSuspended {
		s.sessions.Release(ev.InstanceID)
	}
	payload := map[string]any{
		"instance_id":   ev.InstanceID,
		"definition_id": ev.DefinitionID,
		"event":         ev.EventType,
	}
	if err := n.Notify(ctx, clientID, payload); err != nil {
		s.logger.Warn("client notification failed",
			slog.String("client_id", clientID),
			slog.String("instance_id", ev.InstanceID),
			slog.String("error", err.Error()))
	}
}
