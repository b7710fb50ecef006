package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/waypoint/internal/xjson"
	"github.com/rendis/waypoint/pkg/schema"
)

func TestScheduler_LeafCompletes(t *testing.T) {
	h := newHarness(t)
	st := h.start(h.build(record("a")))

	assert.Equal(t, schema.InstanceStatusCompleted, st.Status)
	assert.Empty(t, st.Executions)
	assert.Empty(t, st.WorkList)
	assert.Equal(t, []any{"a"}, logOf(st))
	assert.NotNil(t, st.CompletedAt)
}

func TestScheduler_SequenceSuspendsAndResumes(t *testing.T) {
	h := newHarness(t)
	def := h.build(&seq{Node: Node{Type: "Sequence"}, kids: []Activity{
		record("a"),
		&wait{Node: Node{ID: "wait", Type: "Event"}, kind: "Event", payload: "MyEvent"},
		record("b"),
	}})
	st := h.start(def)

	require.Equal(t, schema.InstanceStatusSuspended, st.Status)
	require.Len(t, st.Bookmarks, 1)
	bm := st.Bookmarks[0]
	assert.Equal(t, "Event", bm.Kind)
	assert.Equal(t, "MyEvent", bm.Payload)
	assert.Equal(t, "wait", bm.ActivityID)
	assert.Equal(t, []any{"a"}, logOf(st))

	err := h.s.Resume(context.Background(), def, st, bm.ID, schema.Event{Kind: "Event", Payload: "MyEvent"})
	require.NoError(t, err)
	assert.Equal(t, schema.InstanceStatusCompleted, st.Status)
	assert.Empty(t, st.Bookmarks)
	assert.Equal(t, []any{"a", "b"}, logOf(st))
}

func TestScheduler_ResumeAfterPersistenceMatchesInMemory(t *testing.T) {
	build := func(h *harness) *Definition {
		return h.build(&seq{Node: Node{Type: "Sequence"}, kids: []Activity{
			record("a"),
			&wait{Node: Node{ID: "wait", Type: "Event", Outputs: map[string]string{"input": "payload"}}, kind: "Event", payload: "Go"},
			record("b"),
		}})
	}
	event := schema.Event{Kind: "Event", Payload: "Go", Input: map[string]any{"n": 1}}

	direct := newHarness(t)
	defA := build(direct)
	a := direct.start(defA)
	require.NoError(t, direct.s.Resume(context.Background(), defA, a, a.Bookmarks[0].ID, event))

	persisted := newHarness(t)
	defB := build(persisted)
	b := persisted.start(defB)
	data, err := xjson.Marshal(b)
	require.NoError(t, err)
	var reloaded schema.InstanceState
	require.NoError(t, xjson.Unmarshal(data, &reloaded))
	assert.Equal(t, b.Variables, reloaded.Variables)
	assert.Equal(t, b.Bookmarks[0].ID, reloaded.Bookmarks[0].ID)
	require.NoError(t, persisted.s.Resume(context.Background(), defB, &reloaded, reloaded.Bookmarks[0].ID, event))

	assert.Equal(t, a.Status, reloaded.Status)
	assert.Equal(t, a.Variables, reloaded.Variables)
	assert.Equal(t, a.Outputs, reloaded.Outputs)
	assert.Equal(t, map[string]any{"n": 1.0}, reloaded.Variables["payload"])
}

func TestScheduler_ForkCompletesAfterAllChildren(t *testing.T) {
	h := newHarness(t)
	var completions int
	parent := &fork{Node: Node{ID: "fork", Type: "Fork"}, kids: []Activity{
		&wait{Node: Node{ID: "w1", Type: "Event"}, kind: "Event", payload: "one"},
		&wait{Node: Node{ID: "w2", Type: "Event"}, kind: "Event", payload: "two"},
		&wait{Node: Node{ID: "w3", Type: "Event"}, kind: "Event", payload: "three"},
	}}
	h.s.ActivityFSM().OnAfter(schema.ActivityStatusRunning, schema.ActivityStatusCompleted, func(_, _, _ string) error {
		completions++
		return nil
	})
	def := h.build(parent)
	st := h.start(def)
	require.Len(t, st.Bookmarks, 3)

	byPayload := map[string]string{}
	for _, b := range st.Bookmarks {
		byPayload[b.Payload.(string)] = b.ID
	}
	for i, p := range []string{"three", "one", "two"} {
		require.NoError(t, h.s.Resume(context.Background(), def, st, byPayload[p], schema.Event{Kind: "Event", Payload: p}))
		if i < 2 {
			assert.Equal(t, schema.InstanceStatusSuspended, st.Status, "after %d callbacks", i+1)
			assert.Contains(t, st.Executions, executionOf(st, "fork"))
		}
	}
	assert.Equal(t, schema.InstanceStatusCompleted, st.Status)
	assert.Equal(t, 4, completions)
}

func executionOf(st *schema.InstanceState, activityID string) string {
	for id, e := range st.Executions {
		if e.ActivityID == activityID {
			return id
		}
	}
	return ""
}

func TestScheduler_ChildrenRunInSchedulingOrder(t *testing.T) {
	h := newHarness(t)
	st := h.start(h.build(&fork{Node: Node{Type: "Fork"}, kids: []Activity{record("x"), record("y"), record("z")}}))
	assert.Equal(t, []any{"x", "y", "z"}, logOf(st))
}

func TestScheduler_InvariantViolations(t *testing.T) {
	cases := map[string]func(ctx *ActivityContext) (Signal, error){
		"no signal": func(*ActivityContext) (Signal, error) { return SignalNone, nil },
		"suspended without bookmark": func(*ActivityContext) (Signal, error) {
			return Suspended, nil
		},
		"children without scheduling": func(*ActivityContext) (Signal, error) {
			return ScheduledChildren, nil
		},
	}
	for name, fn := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			st := h.start(h.build(&leaf{Node: Node{ID: "bad", Type: "Bad"}, fn: fn}))
			assert.Equal(t, schema.InstanceStatusFaulted, st.Status)
			require.NotNil(t, st.Fault)
			assert.Equal(t, schema.ErrCodeSchedulingInvariant, st.Fault.Code)
			assert.Equal(t, "bad", st.Fault.ActivityID)
		})
	}
}

func TestScheduler_CompletedWithPendingChildren(t *testing.T) {
	h := newHarness(t)
	child := record("child")
	parent := &ownerLeaf{leaf: &leaf{Node: Node{ID: "parent", Type: "Eager"}}, kid: child}
	parent.fn = func(ctx *ActivityContext) (Signal, error) {
		if err := ctx.Schedule(child, ""); err != nil {
			return SignalNone, err
		}
		return ctx.Complete(), nil
	}
	st := h.start(h.build(parent))

	assert.Equal(t, schema.InstanceStatusFaulted, st.Status)
	assert.Equal(t, schema.ErrCodeSchedulingInvariant, st.Fault.Code)
	assert.Equal(t, "parent", st.Fault.ActivityID)
	assert.Empty(t, logOf(st), "the child never ran")
}

type ownerLeaf struct {
	*leaf
	kid Activity
}

func (o *ownerLeaf) Children() []Activity { return []Activity{o.kid} }

func TestScheduler_PanicBecomesExecutionFault(t *testing.T) {
	h := newHarness(t)
	st := h.start(h.build(&leaf{Node: Node{ID: "boom", Type: "Boom"}, fn: func(*ActivityContext) (Signal, error) {
		panic("kaboom")
	}}))
	assert.Equal(t, schema.InstanceStatusFaulted, st.Status)
	assert.Equal(t, schema.ErrCodeExecutionFault, st.Fault.Code)
	assert.Contains(t, st.Fault.Message, "kaboom")
}

func TestScheduler_FaultHaltsInstanceKeepsCommittedOutputs(t *testing.T) {
	h := newHarness(t)
	st := h.start(h.build(&seq{Node: Node{Type: "Sequence"}, kids: []Activity{
		record("a"),
		failing("f", errors.New("disk full")),
		record("never"),
	}}))
	assert.Equal(t, schema.InstanceStatusFaulted, st.Status)
	assert.Equal(t, "f", st.Fault.ActivityID)
	assert.Equal(t, schema.ErrCodeExecutionFault, st.Fault.Code)
	assert.Equal(t, "disk full", st.Fault.Message)
	assert.Equal(t, []any{"a"}, logOf(st))
	assert.Empty(t, st.Executions)
	assert.Empty(t, st.Bookmarks)
}

func TestScheduler_FaultContainedByHandler(t *testing.T) {
	h := newHarness(t)
	st := h.start(h.build(&seq{Node: Node{Type: "Sequence"}, kids: []Activity{
		&catch{Node: Node{ID: "catch", Type: "Catch"}, body: &seq{Node: Node{Type: "Sequence"}, kids: []Activity{
			record("a"),
			failing("f", schema.NewError(schema.ErrCodeBinding, "missing input")),
			record("skipped"),
		}}},
		record("after"),
	}}))
	assert.Equal(t, schema.InstanceStatusCompleted, st.Status)
	assert.Equal(t, "missing input", st.Variables["caught"])
	assert.Equal(t, []any{"a", "after"}, logOf(st))
}

func TestScheduler_Cancel(t *testing.T) {
	h := newHarness(t)
	def := h.build(&wait{Node: Node{ID: "w", Type: "Event"}, kind: "Event", payload: "x"})
	st := h.start(def)
	require.Equal(t, schema.InstanceStatusSuspended, st.Status)

	require.NoError(t, h.s.Cancel(context.Background(), def, st, "operator request"))
	assert.Equal(t, schema.InstanceStatusCancelled, st.Status)
	assert.Empty(t, st.Bookmarks)
	assert.Empty(t, st.Executions)
	assert.Equal(t, schema.ErrCodeCancelled, st.Fault.Code)

	err := h.s.Cancel(context.Background(), def, st, "again")
	assert.True(t, schema.IsCode(err, schema.ErrCodeInvalidTransition))
}

func TestScheduler_TriggerOfWorkflowConsumedOnce(t *testing.T) {
	h := newHarness(t)
	def := h.build(&seq{Node: Node{Type: "Sequence"}, kids: []Activity{
		&wait{Node: Node{ID: "start", Type: "Event"}, kind: "Event", payload: "Go"},
		record("a"),
	}})
	st, err := def.NewInstance("inst-t", nil, h.s.now())
	require.NoError(t, err)
	require.NoError(t, h.s.Start(context.Background(), def, st, "start", &schema.Event{Kind: "Event", Payload: "Go"}))

	assert.Equal(t, schema.InstanceStatusCompleted, st.Status)
	assert.Equal(t, true, st.Variables["triggered_start"])
	assert.Equal(t, []any{"a"}, logOf(st))
	assert.Empty(t, st.TriggerActivityID)
}

func TestScheduler_ResumeUnknownBookmark(t *testing.T) {
	h := newHarness(t)
	def := h.build(&wait{Node: Node{ID: "w", Type: "Event"}, kind: "Event", payload: "x"})
	st := h.start(def)
	before, err := xjson.Marshal(st)
	require.NoError(t, err)

	err = h.s.Resume(context.Background(), def, st, "nope", schema.Event{Kind: "Event", Payload: "x"})
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
	after, err := xjson.Marshal(st)
	require.NoError(t, err)
	assert.JSONEq(t, string(before), string(after))
}

func TestScheduler_StepLimit(t *testing.T) {
	h := newHarness(t)
	s, err := NewScheduler(WithMaxSteps(5))
	require.NoError(t, err)
	h.s = s
	loop := &seq{Node: Node{Type: "Sequence"}}
	for i := 0; i < 10; i++ {
		loop.kids = append(loop.kids, &leaf{Node: Node{Type: "Noop"}, fn: func(ctx *ActivityContext) (Signal, error) { return ctx.Complete(), nil }})
	}
	st := h.start(h.build(loop))
	assert.Equal(t, schema.InstanceStatusFaulted, st.Status)
	assert.Contains(t, st.Fault.Message, "step limit")
}

func TestScheduler_JournalsTransitions(t *testing.T) {
	h := newHarness(t)
	st := h.start(h.build(record("a")))
	events, err := h.store.GetEvents(context.Background(), st.ID, 0)
	require.NoError(t, err)

	var types []string
	for _, e := range events {
		types = append(types, e.Type)
	}
	assert.Equal(t, []string{
		schema.EventInstanceStarted,
		schema.EventActivityScheduled,
		schema.EventActivityStarted,
		schema.EventVariableSet,
		schema.EventActivityCompleted,
		schema.EventInstanceCompleted,
	}, types)
}

func TestScheduler_StartRejectsForeignInstance(t *testing.T) {
	h := newHarness(t)
	def := h.build(record("a"))
	st := &schema.InstanceState{ID: "x", DefinitionID: "other", Status: schema.InstanceStatusPending}
	err := h.s.Start(context.Background(), def, st, "", nil)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
}
