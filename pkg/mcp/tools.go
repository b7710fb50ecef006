package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/waypoint/internal/activities"
	"github.com/rendis/waypoint/internal/diagram"
	"github.com/rendis/waypoint/internal/store"
	"github.com/rendis/waypoint/internal/xjson"
	"github.com/rendis/waypoint/pkg/schema"
)

// handleDefine validates and registers a JSON workflow definition.
func (s *Server) handleDefine(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	defRaw := mcp.ParseStringMap(req, "definition", nil)
	if defRaw == nil {
		return mcp.NewToolResultError("definition is required"), nil
	}
	var wd schema.WorkflowDefinition
	if err := remarshal(defRaw, &wd); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid definition: %v", err)), nil
	}

	if req.GetBool("dry_run", false) {
		return marshalResult(s.runtime.Validate(&wd))
	}

	def, err := s.runtime.RegisterJSON(ctx, &wd)
	if err != nil {
		return toolError("define failed", err), nil
	}
	return marshalResult(map[string]any{
		"id":       def.ID(),
		"version":  def.Version(),
		"triggers": def.Triggers(),
	})
}

// handleStart starts a new instance.
func (s *Server) handleStart(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	definitionID, err := req.RequireString("definition_id")
	if err != nil {
		return mcp.NewToolResultError("definition_id is required"), nil
	}
	inputs := mcp.ParseStringMap(req, "inputs", nil)
	clientID := req.GetString("client_id", "")
	if clientID != "" {
		s.captureSession(ctx, clientID)
	}

	h, err := s.runtime.StartNewInstance(ctx, definitionID, inputs)
	if err != nil {
		return toolError("start failed", err), nil
	}
	if clientID != "" && !h.Status.Terminal() {
		s.sessions.Watch(h.InstanceID, clientID)
	}
	return marshalResult(h)
}

// handleDispatch routes an event to matching bookmarks and triggers.
func (s *Server) handleDispatch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ev, errResult := eventFrom(req)
	if errResult != nil {
		return errResult, nil
	}
	res, err := s.runtime.Dispatch(ctx, ev)
	if err != nil && len(res.InstanceIDs()) == 0 {
		return toolError("dispatch failed", err), nil
	}
	out := map[string]any{
		"resumed": nonNil(res.Resumed),
		"started": nonNil(res.Started),
	}
	if err != nil {
		out["error"] = err.Error()
	}
	return marshalResult(out)
}

// handleResume delivers an event to one instance.
func (s *Server) handleResume(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	instanceID, err := req.RequireString("instance_id")
	if err != nil {
		return mcp.NewToolResultError("instance_id is required"), nil
	}
	ev, errResult := eventFrom(req)
	if errResult != nil {
		return errResult, nil
	}
	status, err := s.runtime.ResumeInstance(ctx, instanceID, ev)
	if err != nil {
		return toolError("resume failed", err), nil
	}
	return marshalResult(map[string]any{
		"instance_id": instanceID,
		"status":      status,
	})
}

// handleStatus returns the stored state of an instance.
func (s *Server) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	instanceID, err := req.RequireString("instance_id")
	if err != nil {
		return mcp.NewToolResultError("instance_id is required"), nil
	}
	st, err := s.runtime.Instance(ctx, instanceID)
	if err != nil {
		return toolError("status query failed", err), nil
	}
	out := map[string]any{
		"instance_id":   st.ID,
		"definition_id": st.DefinitionID,
		"version":       st.DefinitionVersion,
		"status":        st.Status,
		"variables":     st.Variables,
		"outputs":       st.Outputs,
		"bookmarks":     st.Bookmarks,
		"fault":         st.Fault,
		"created_at":    st.CreatedAt,
		"updated_at":    st.UpdatedAt,
	}
	if req.GetBool("include_activities", false) {
		records, err := s.runtime.Activities(ctx, instanceID)
		if err != nil {
			return toolError("activity replay failed", err), nil
		}
		out["activities"] = records
	}
	return marshalResult(out)
}

// handleCancel cancels an instance.
func (s *Server) handleCancel(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	instanceID, err := req.RequireString("instance_id")
	if err != nil {
		return mcp.NewToolResultError("instance_id is required"), nil
	}
	if err := s.runtime.CancelInstance(ctx, instanceID, req.GetString("reason", "")); err != nil {
		return toolError("cancel failed", err), nil
	}
	return marshalResult(map[string]any{
		"ok":          true,
		"instance_id": instanceID,
		"status":      schema.InstanceStatusCancelled,
	})
}

// handleActivities lists the activity catalog.
func (s *Server) handleActivities(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	category := req.GetString("category", "")
	list := make([]activities.Descriptor, 0)
	for _, d := range s.runtime.Catalog().List() {
		if category != "" && d.Category != category {
			continue
		}
		list = append(list, d)
	}
	return marshalResult(map[string]any{"activities": list})
}

// handleQuery lists instances, journal events, or definitions.
func (s *Server) handleQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resource, err := req.RequireString("resource")
	if err != nil {
		return mcp.NewToolResultError("resource is required"), nil
	}
	filter := mcp.ParseStringMap(req, "filter", nil)

	switch resource {
	case "instances":
		f := store.InstanceFilter{
			Limit:  extractInt(filter, "limit", 50),
			Offset: extractInt(filter, "offset", 0),
		}
		if status, ok := filter["status"].(string); ok && status != "" {
			is := schema.InstanceStatus(status)
			f.Status = &is
		}
		if defID, ok := filter["definition_id"].(string); ok {
			f.DefinitionID = defID
		}
		list, err := s.runtime.ListInstances(ctx, f)
		if err != nil {
			return toolError("query failed", err), nil
		}
		return marshalResult(map[string]any{"instances": list})
	case "events":
		instanceID, _ := filter["instance_id"].(string)
		if instanceID == "" {
			return mcp.NewToolResultError("event query requires 'instance_id' in filter"), nil
		}
		events, err := s.runtime.History(ctx, instanceID, int64(extractInt(filter, "since", 0)))
		if err != nil {
			return toolError("query failed", err), nil
		}
		return marshalResult(map[string]any{"events": events})
	case "definitions":
		return marshalResult(map[string]any{"definitions": s.runtime.Definitions()})
	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown resource type: %s", resource)), nil
	}
}

// --- Internal helpers ---

// eventFrom reads kind, payload and input. The payload is taken as sent, so
// clients may pass any JSON value even though the tool advertises a string.
// handleDiagram renders a definition or instance in the requested format.
func (s *Server) handleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	format, err := req.RequireString("format")
	if err != nil {
		return mcp.NewToolResultError("format is required"), nil
	}
	if format != "ascii" && format != "mermaid" && format != "image" {
		return mcp.NewToolResultError("format must be ascii, mermaid, or image"), nil
	}
	definitionID := req.GetString("definition_id", "")
	instanceID := req.GetString("instance_id", "")
	if definitionID == "" && instanceID == "" {
		return mcp.NewToolResultError("at least one of definition_id or instance_id is required"), nil
	}

	model, err := s.runtime.Diagram(ctx, definitionID, 0, instanceID)
	if err != nil {
		return toolError("diagram build failed", err), nil
	}

	switch format {
	case "ascii":
		return mcp.NewToolResultText(diagram.RenderASCII(model)), nil
	case "mermaid":
		return mcp.NewToolResultText(diagram.RenderMermaid(model)), nil
	default:
		png, err := diagram.RenderImage(ctx, model)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("image render failed: %v", err)), nil
		}
		return mcp.NewToolResultText(base64.StdEncoding.EncodeToString(png)), nil
	}
}

func eventFrom(req mcp.CallToolRequest) (schema.Event, *mcp.CallToolResult) {
	kind, err := req.RequireString("kind")
	if err != nil {
		return schema.Event{}, mcp.NewToolResultError("kind is required")
	}
	return schema.Event{
		Kind:    kind,
		Payload: req.GetArguments()["payload"],
		Input:   mcp.ParseStringMap(req, "input", nil),
	}, nil
}

func remarshal(in any, out any) error {
	data, err := xjson.Marshal(in)
	if err != nil {
		return err
	}
	return xjson.Unmarshal(data, out)
}

// toolError renders an error, keeping the structured code when there is one.
func toolError(prefix string, err error) *mcp.CallToolResult {
	var se *schema.Error
	if errors.As(err, &se) {
		return mcp.NewToolResultError(fmt.Sprintf("%s: [%s] %s", prefix, se.Code, se.Message))
	}
	return mcp.NewToolResultError(fmt.Sprintf("%s: %v", prefix, err))
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

// extractInt safely extracts an integer from a filter map.
func extractInt(filter map[string]any, key string, defaultVal int) int {
	if filter == nil {
		return defaultVal
	}
	v, ok := filter[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

// captureSession maps the client ID to its current MCP session for notifications.
func (s *Server) captureSession(ctx context.Context, clientID string) {
	if session := server.ClientSessionFromContext(ctx); session != nil {
		s.sessions.Bind(clientID, session.SessionID())
	}
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := xjson.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
