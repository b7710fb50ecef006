package activities

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/waypoint/internal/engine"
	"github.com/rendis/waypoint/pkg/schema"
)

type fakeDispatcher struct {
	reqs []ChildWorkflow
	err  error
}

func (f *fakeDispatcher) DispatchWorkflow(_ context.Context, req ChildWorkflow) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.reqs = append(f.reqs, req)
	return "child-1", nil
}

func spawn(wait bool) *DispatchWorkflow {
	a := NewDispatchWorkflow("child", map[string]any{"name": "ana"}, wait)
	a.ID = "spawn"
	return a
}

func TestDispatchWorkflow_FireAndForget(t *testing.T) {
	r := newRunner(t)
	d := &fakeDispatcher{}
	r.services.Register(engine.ServiceWorkflows, d)

	_, st := r.run(NewSequence(spawn(false), NewWriteLine("after")))
	assert.Equal(t, schema.InstanceStatusCompleted, st.Status)
	assert.Equal(t, []string{"after"}, r.lines())
	require.Len(t, d.reqs, 1)
	assert.Equal(t, ChildWorkflow{
		DefinitionID:     "child",
		Input:            map[string]any{"name": "ana"},
		ParentInstanceID: "inst-1",
		ParentActivityID: "spawn",
	}, d.reqs[0])
	assert.Equal(t, "child-1", st.Outputs["spawn"]["instance_id"])
}

func TestDispatchWorkflow_WaitsForChild(t *testing.T) {
	r := newRunner(t)
	r.services.Register(engine.ServiceWorkflows, &fakeDispatcher{})

	def, st := r.run(NewSequence(spawn(true), NewWriteLine("after")))
	assert.Equal(t, schema.InstanceStatusSuspended, st.Status)
	require.Len(t, st.Bookmarks, 1)
	assert.Equal(t, KindWorkflowCompleted, st.Bookmarks[0].Kind)
	assert.Equal(t, "child-1", st.Bookmarks[0].Payload)
	assert.Empty(t, r.lines())

	r.dispatch(def, st, schema.Event{Kind: KindWorkflowCompleted, Payload: "child-1", Input: map[string]any{
		"status":    "completed",
		"variables": map[string]any{"greeting": "hello ana"},
	}})
	assert.Equal(t, schema.InstanceStatusCompleted, st.Status)
	assert.Equal(t, []string{"after"}, r.lines())
	assert.Equal(t, map[string]any{"greeting": "hello ana"}, st.Outputs["spawn"]["result"])
}

func TestDispatchWorkflow_FaultedChildFaultsParent(t *testing.T) {
	r := newRunner(t)
	r.services.Register(engine.ServiceWorkflows, &fakeDispatcher{})

	def, st := r.run(NewSequence(spawn(true), NewWriteLine("after")))
	r.dispatch(def, st, schema.Event{Kind: KindWorkflowCompleted, Payload: "child-1", Input: map[string]any{
		"status": "faulted",
		"fault":  map[string]any{"message": "boom"},
	}})
	assert.Equal(t, schema.InstanceStatusFaulted, st.Status)
	require.NotNil(t, st.Fault)
	assert.Equal(t, schema.ErrCodeExecutionFault, st.Fault.Code)
	assert.Contains(t, st.Fault.Message, "child workflow child-1 ended faulted: boom")
	assert.Empty(t, r.lines())
}

func TestDispatchWorkflow_Errors(t *testing.T) {
	t.Run("no dispatcher", func(t *testing.T) {
		r := newRunner(t)
		_, st := r.run(spawn(true))
		assert.Equal(t, schema.InstanceStatusFaulted, st.Status)
		require.NotNil(t, st.Fault)
		assert.Contains(t, st.Fault.Message, "no workflow dispatcher")
	})

	t.Run("dispatcher error", func(t *testing.T) {
		r := newRunner(t)
		r.services.Register(engine.ServiceWorkflows, &fakeDispatcher{
			err: schema.NewError(schema.ErrCodeNotFound, "definition \"child\" not found"),
		})
		_, st := r.run(spawn(true))
		assert.Equal(t, schema.InstanceStatusFaulted, st.Status)
		require.NotNil(t, st.Fault)
		assert.Equal(t, schema.ErrCodeNotFound, st.Fault.Code)
	})

	t.Run("empty definition id", func(t *testing.T) {
		r := newRunner(t)
		d := &fakeDispatcher{}
		r.services.Register(engine.ServiceWorkflows, d)
		a := NewDispatchWorkflow("", nil, false)
		_, st := r.run(a)
		assert.Equal(t, schema.InstanceStatusFaulted, st.Status)
		assert.Empty(t, d.reqs)
	})
}
