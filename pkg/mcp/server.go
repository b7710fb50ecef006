package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/waypoint/internal/logging"
	"github.com/rendis/waypoint/internal/runtime"
	"github.com/rendis/waypoint/internal/streaming"
)

// ServerDeps holds the dependencies for creating a Server.
type ServerDeps struct {
	Runtime *runtime.Runtime
	Hub     streaming.EventHub
	Logger  *slog.Logger
	Version string
}

// Server wraps an MCP server with waypoint tool handlers.
type Server struct {
	runtime   *runtime.Runtime
	hub       streaming.EventHub
	logger    *slog.Logger
	sessions  *SessionRegistry
	notifier  *MCPNotifier
	mcpServer *server.MCPServer
}

// NewServer creates a Server with all tools registered.
func NewServer(deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = logging.New(os.Stderr, "info")
	}
	version := deps.Version
	if version == "" {
		version = "dev"
	}

	s := &Server{
		runtime:  deps.Runtime,
		hub:      deps.Hub,
		logger:   logger,
		sessions: NewSessionRegistry(),
	}

	mcpSrv := server.NewMCPServer(
		"waypoint",
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Waypoint runs long-lived workflows that suspend on bookmarks. Use waypoint.define to register a definition, waypoint.start to start an instance, waypoint.dispatch to deliver an event to every waiting instance, waypoint.resume to deliver it to one instance, waypoint.status to inspect an instance, and waypoint.activities to list the activity catalog."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	s.notifier = NewMCPNotifier(mcpSrv, s.sessions)
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin
// closes. Lifecycle events of watched instances are relayed while it runs.
func (s *Server) Serve(ctx context.Context) error {
	if s.hub != nil {
		relayCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		if err := s.Relay(relayCtx); err != nil {
			return err
		}
	}
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: defineTool(), Handler: s.handleDefine},
		{Tool: startTool(), Handler: s.handleStart},
		{Tool: dispatchTool(), Handler: s.handleDispatch},
		{Tool: resumeTool(), Handler: s.handleResume},
		{Tool: statusTool(), Handler: s.handleStatus},
		{Tool: cancelTool(), Handler: s.handleCancel},
		{Tool: activitiesTool(), Handler: s.handleActivities},
		{Tool: queryTool(), Handler: s.handleQuery},
		{Tool: diagramTool(), Handler: s.handleDiagram},
	}
}

// --- Tool definitions ---

func defineTool() mcp.Tool {
	return mcp.NewTool("waypoint.define",
		mcp.WithDescription("Register a JSON workflow definition"),
		mcp.WithObject("definition", mcp.Required(), mcp.Description("Workflow definition: id, version, inputs, variables and the root activity tree")),
		mcp.WithBoolean("dry_run", mcp.Description("Validate only, do not register")),
	)
}

func startTool() mcp.Tool {
	return mcp.NewTool("waypoint.start",
		mcp.WithDescription("Start a new instance of a registered definition"),
		mcp.WithString("definition_id", mcp.Required(), mcp.Description("ID of the definition to start")),
		mcp.WithObject("inputs", mcp.Description("Input values for the instance")),
		mcp.WithString("client_id", mcp.Description("Receive lifecycle notifications for this instance under this client ID")),
	)
}

func dispatchTool() mcp.Tool {
	return mcp.NewTool("waypoint.dispatch",
		mcp.WithDescription("Deliver an event to every matching bookmark and startable trigger"),
		mcp.WithString("kind", mcp.Required(), mcp.Description("Event kind: the event name awaited by Event activities, or Cron")),
		mcp.WithString("payload", mcp.Description("Event payload (matched exactly), e.g. the cron expression")),
		mcp.WithObject("input", mcp.Description("Data handed to the resumed or started activities")),
	)
}

func resumeTool() mcp.Tool {
	return mcp.NewTool("waypoint.resume",
		mcp.WithDescription("Deliver an event to one suspended instance"),
		mcp.WithString("instance_id", mcp.Required(), mcp.Description("ID of the target instance")),
		mcp.WithString("kind", mcp.Required(), mcp.Description("Event kind, e.g. the awaited event name")),
		mcp.WithString("payload", mcp.Description("Event payload (matched exactly)")),
		mcp.WithObject("input", mcp.Description("Data handed to the resumed activity")),
	)
}

func statusTool() mcp.Tool {
	return mcp.NewTool("waypoint.status",
		mcp.WithDescription("Get the state of an instance"),
		mcp.WithString("instance_id", mcp.Required(), mcp.Description("ID of the instance to query")),
		mcp.WithBoolean("include_activities", mcp.Description("Include per-activity records folded from the journal")),
	)
}

func cancelTool() mcp.Tool {
	return mcp.NewTool("waypoint.cancel",
		mcp.WithDescription("Cancel a running or suspended instance"),
		mcp.WithString("instance_id", mcp.Required(), mcp.Description("ID of the instance to cancel")),
		mcp.WithString("reason", mcp.Description("Cancellation reason")),
	)
}

func activitiesTool() mcp.Tool {
	return mcp.NewTool("waypoint.activities",
		mcp.WithDescription("List the activity types definitions can use"),
		mcp.WithString("category", mcp.Description("Only list activities of this category")),
	)
}

func queryTool() mcp.Tool {
	return mcp.NewTool("waypoint.query",
		mcp.WithDescription("Query instances, journal events, or definitions"),
		mcp.WithString("resource", mcp.Required(),
			mcp.Enum("instances", "events", "definitions"),
			mcp.Description("Type of resource to query"),
		),
		mcp.WithObject("filter", mcp.Description("Filter criteria (status, definition_id, instance_id, since, limit, offset)")),
	)
}

func diagramTool() mcp.Tool {
	return mcp.NewTool("waypoint.diagram",
		mcp.WithDescription("Draw a definition's activity tree. Returns ASCII art, Mermaid flowchart syntax, or a base64-encoded PNG image"),
		mcp.WithString("definition_id", mcp.Description("Definition to draw (latest version)")),
		mcp.WithString("instance_id", mcp.Description("Instance to draw, with per-activity status overlaid")),
		mcp.WithString("format", mcp.Required(),
			mcp.Enum("ascii", "mermaid", "image"),
			mcp.Description("Output format: ascii (text), mermaid (flowchart syntax), or image (base64 PNG)"),
		),
	)
}
