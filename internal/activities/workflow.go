package activities

import (
	"context"
	"fmt"

	"github.com/rendis/waypoint/internal/binding"
	"github.com/rendis/waypoint/internal/engine"
	"github.com/rendis/waypoint/pkg/schema"
)

// KindWorkflowCompleted is the bookmark kind of a DispatchWorkflow waiting
// for its child; the payload is the child instance ID. The event input
// carries "status", "variables" and, for a faulted child, "fault".
const KindWorkflowCompleted = "WorkflowCompleted"

// ChildWorkflow asks for a new instance of another definition.
type ChildWorkflow struct {
	DefinitionID     string
	Input            map[string]any
	ParentInstanceID string
	ParentActivityID string
}

// WorkflowDispatcher starts child instances. It is looked up under
// engine.ServiceWorkflows.
type WorkflowDispatcher interface {
	// DispatchWorkflow reserves the child and returns its instance ID. The
	// child may start after the call returns, once the parent is at rest.
	DispatchWorkflow(ctx context.Context, req ChildWorkflow) (string, error)
}

// DispatchWorkflow starts an instance of another definition with resolved
// input. With WaitForCompletion it suspends until the child reaches a
// terminal status and commits the child's variables as "result"; a faulted
// or cancelled child faults this activity.
type DispatchWorkflow struct {
	engine.Node
	DefinitionID      binding.Input[string]
	Input             binding.Input[map[string]any]
	WaitForCompletion bool
}

// NewDispatchWorkflow creates a DispatchWorkflow with literal arguments.
func NewDispatchWorkflow(definitionID string, input map[string]any, wait bool) *DispatchWorkflow {
	return &DispatchWorkflow{
		Node:              engine.Node{Type: TypeDispatchWorkflow},
		DefinitionID:      binding.Value(definitionID),
		Input:             binding.Value(input),
		WaitForCompletion: wait,
	}
}

func (a *DispatchWorkflow) Execute(ctx *engine.ActivityContext) (engine.Signal, error) {
	defID, err := engine.Resolve(ctx, a.DefinitionID)
	if err != nil {
		return engine.SignalNone, err
	}
	if defID == "" {
		return engine.SignalNone, schema.NewError(schema.ErrCodeBinding, "definition id resolved to an empty string").WithActivity(a.ID)
	}
	input, err := engine.Resolve(ctx, a.Input)
	if err != nil {
		return engine.SignalNone, err
	}
	d, ok := engine.ServiceAs[WorkflowDispatcher](ctx.Services(), engine.ServiceWorkflows)
	if !ok {
		return engine.SignalNone, schema.NewError(schema.ErrCodeExecutionFault, "no workflow dispatcher registered").WithActivity(a.ID)
	}
	childID, err := d.DispatchWorkflow(ctx.Context(), ChildWorkflow{
		DefinitionID:     defID,
		Input:            input,
		ParentInstanceID: ctx.InstanceID(),
		ParentActivityID: a.ID,
	})
	if err != nil {
		return engine.SignalNone, err
	}
	if err := ctx.Commit("instance_id", childID); err != nil {
		return engine.SignalNone, err
	}
	if !a.WaitForCompletion {
		return ctx.Complete(), nil
	}
	return ctx.Suspend(KindWorkflowCompleted, childID)
}

func (a *DispatchWorkflow) OnResume(ctx *engine.ActivityContext, b schema.Bookmark) (engine.Signal, error) {
	var in map[string]any
	if ev := ctx.ResumeEvent(); ev != nil {
		in = ev.Input
	}
	status, _ := in["status"].(string)
	if status != string(schema.InstanceStatusCompleted) {
		msg := fmt.Sprintf("child workflow %v ended %s", b.Payload, status)
		if f, ok := in["fault"].(map[string]any); ok {
			if m, ok := f["message"].(string); ok {
				msg += ": " + m
			}
		}
		return engine.SignalNone, schema.NewError(schema.ErrCodeExecutionFault, msg).WithActivity(a.ID)
	}
	if vars, ok := in["variables"]; ok && vars != nil {
		if err := ctx.Commit("result", vars); err != nil {
			return engine.SignalNone, err
		}
	}
	return ctx.Complete(), nil
}
