package engine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/waypoint/internal/store"
	"github.com/rendis/waypoint/pkg/schema"
)

// mockAppender records appended events for assertions.
type mockAppender struct {
	mu     sync.Mutex
	events []*store.Event
}

func (m *mockAppender) AppendEvent(_ context.Context, event *store.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *mockAppender) Events() []*store.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]*store.Event, len(m.events))
	copy(cp, m.events)
	return cp
}

// failAppender always returns an error.
type failAppender struct{}

func (f *failAppender) AppendEvent(_ context.Context, _ *store.Event) error {
	return errors.New("store unavailable")
}

// --- InstanceFSM Tests ---

func TestInstanceFSM_ValidTransitions(t *testing.T) {
	app := &mockAppender{}
	fsm := NewInstanceFSM(app)
	ctx := context.Background()
	st := &schema.InstanceState{ID: "inst-1", Status: schema.InstanceStatusPending}

	require.NoError(t, fsm.Transition(ctx, st, schema.InstanceStatusRunning, nil))
	require.NoError(t, fsm.Transition(ctx, st, schema.InstanceStatusSuspended, nil))
	require.NoError(t, fsm.Transition(ctx, st, schema.InstanceStatusRunning, nil))
	require.NoError(t, fsm.Transition(ctx, st, schema.InstanceStatusCompleted, nil))
	assert.Equal(t, schema.InstanceStatusCompleted, st.Status)

	events := app.Events()
	require.Len(t, events, 4)
	assert.Equal(t, schema.EventInstanceStarted, events[0].Type)
	assert.Equal(t, schema.EventInstanceSuspended, events[1].Type)
	assert.Equal(t, schema.EventInstanceResumed, events[2].Type)
	assert.Equal(t, schema.EventInstanceCompleted, events[3].Type)
	for _, e := range events {
		assert.Equal(t, "inst-1", e.InstanceID)
	}
}

func TestInstanceFSM_InvalidTransitions(t *testing.T) {
	cases := []struct {
		from, to schema.InstanceStatus
	}{
		{schema.InstanceStatusPending, schema.InstanceStatusCompleted},
		{schema.InstanceStatusPending, schema.InstanceStatusSuspended},
		{schema.InstanceStatusSuspended, schema.InstanceStatusCompleted},
		{schema.InstanceStatusCompleted, schema.InstanceStatusRunning},
		{schema.InstanceStatusFaulted, schema.InstanceStatusRunning},
		{schema.InstanceStatusCancelled, schema.InstanceStatusRunning},
	}
	for _, tc := range cases {
		t.Run(string(tc.from)+"->"+string(tc.to), func(t *testing.T) {
			app := &mockAppender{}
			st := &schema.InstanceState{ID: "inst-1", Status: tc.from}
			err := NewInstanceFSM(app).Transition(context.Background(), st, tc.to, nil)
			require.Error(t, err)
			assert.True(t, schema.IsCode(err, schema.ErrCodeInvalidTransition))
			assert.Equal(t, tc.from, st.Status)
			assert.Empty(t, app.Events())
		})
	}
}

func TestInstanceFSM_PayloadIsJournaled(t *testing.T) {
	app := &mockAppender{}
	st := &schema.InstanceState{ID: "inst-1", Status: schema.InstanceStatusRunning}
	require.NoError(t, NewInstanceFSM(app).Transition(context.Background(), st, schema.InstanceStatusCancelled, map[string]any{"reason": "stop"}))

	events := app.Events()
	require.Len(t, events, 1)
	assert.Equal(t, schema.EventInstanceCancelled, events[0].Type)
	assert.JSONEq(t, `{"reason":"stop"}`, string(events[0].Payload))
}

func TestInstanceFSM_BeforeHookAborts(t *testing.T) {
	app := &mockAppender{}
	fsm := NewInstanceFSM(app)
	fsm.OnBefore(schema.InstanceStatusPending, schema.InstanceStatusRunning, func(string, string, string) error {
		return errors.New("quota exceeded")
	})
	st := &schema.InstanceState{ID: "inst-1", Status: schema.InstanceStatusPending}

	err := fsm.Transition(context.Background(), st, schema.InstanceStatusRunning, nil)
	require.EqualError(t, err, "quota exceeded")
	assert.Equal(t, schema.InstanceStatusPending, st.Status)
	assert.Empty(t, app.Events())
}

func TestInstanceFSM_AfterHookSeesTransition(t *testing.T) {
	fsm := NewInstanceFSM(nil)
	var got []string
	fsm.OnAfter(schema.InstanceStatusRunning, schema.InstanceStatusFaulted, func(id, from, to string) error {
		got = append(got, id, from, to)
		return nil
	})
	st := &schema.InstanceState{ID: "inst-9", Status: schema.InstanceStatusRunning}
	require.NoError(t, fsm.Transition(context.Background(), st, schema.InstanceStatusFaulted, nil))
	assert.Equal(t, []string{"inst-9", "running", "faulted"}, got)
}

func TestInstanceFSM_AppendFailure(t *testing.T) {
	st := &schema.InstanceState{ID: "inst-1", Status: schema.InstanceStatusPending}
	err := NewInstanceFSM(&failAppender{}).Transition(context.Background(), st, schema.InstanceStatusRunning, nil)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeStore))
	assert.Equal(t, schema.InstanceStatusPending, st.Status)
}

func TestInstanceFSM_ConcurrentHookRegistration(t *testing.T) {
	fsm := NewInstanceFSM(nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fsm.OnAfter(schema.InstanceStatusPending, schema.InstanceStatusRunning, func(string, string, string) error { return nil })
			st := &schema.InstanceState{ID: "x", Status: schema.InstanceStatusPending}
			_ = fsm.Transition(context.Background(), st, schema.InstanceStatusRunning, nil)
		}()
	}
	wg.Wait()
}

// --- ActivityFSM Tests ---

func TestActivityFSM_Lifecycle(t *testing.T) {
	app := &mockAppender{}
	fsm := NewActivityFSM(app)
	ctx := context.Background()
	exec := &schema.Execution{ID: "e1", ActivityID: "wait", Status: schema.ActivityStatusPending}

	require.NoError(t, fsm.Transition(ctx, "inst-1", exec, schema.ActivityStatusRunning, nil))
	require.NoError(t, fsm.Transition(ctx, "inst-1", exec, schema.ActivityStatusSuspended, nil))
	require.NoError(t, fsm.Transition(ctx, "inst-1", exec, schema.ActivityStatusRunning, nil))
	require.NoError(t, fsm.Transition(ctx, "inst-1", exec, schema.ActivityStatusCompleted, map[string]any{"outcomes": []string{"Done"}}))

	events := app.Events()
	require.Len(t, events, 4)
	assert.Equal(t, schema.EventActivityStarted, events[0].Type)
	assert.Equal(t, schema.EventActivitySuspended, events[1].Type)
	assert.Equal(t, schema.EventActivityCompleted, events[3].Type)
	assert.Equal(t, "wait", events[3].ActivityID)
	assert.Equal(t, "e1", events[3].ExecutionID)
	assert.JSONEq(t, `{"outcomes":["Done"]}`, string(events[3].Payload))
}

func TestActivityFSM_WaitingIsNotJournaled(t *testing.T) {
	app := &mockAppender{}
	exec := &schema.Execution{ID: "e1", ActivityID: "seq", Status: schema.ActivityStatusRunning}
	require.NoError(t, NewActivityFSM(app).Transition(context.Background(), "inst-1", exec, schema.ActivityStatusWaiting, nil))
	assert.Equal(t, schema.ActivityStatusWaiting, exec.Status)
	assert.Empty(t, app.Events())
}

func TestActivityFSM_InvalidTransition(t *testing.T) {
	exec := &schema.Execution{ID: "e1", ActivityID: "a", Status: schema.ActivityStatusCompleted}
	err := NewActivityFSM(nil).Transition(context.Background(), "inst-1", exec, schema.ActivityStatusRunning, nil)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeInvalidTransition))

	var se *schema.Error
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "a", se.ActivityID)
}

func TestActivityFSM_AfterHook(t *testing.T) {
	fsm := NewActivityFSM(nil)
	calls := 0
	fsm.OnAfter(schema.ActivityStatusRunning, schema.ActivityStatusFaulted, func(string, string, string) error {
		calls++
		return nil
	})
	exec := &schema.Execution{ID: "e1", ActivityID: "a", Status: schema.ActivityStatusRunning}
	require.NoError(t, fsm.Transition(context.Background(), "inst-1", exec, schema.ActivityStatusFaulted, nil))
	assert.Equal(t, 1, calls)
}

func TestTransitionTables_TerminalStatesHaveNoExits(t *testing.T) {
	for _, s := range []schema.InstanceStatus{schema.InstanceStatusCompleted, schema.InstanceStatusFaulted, schema.InstanceStatusCancelled} {
		assert.Empty(t, ValidInstanceTransitions[s], s)
		assert.True(t, s.Terminal(), s)
	}
	for _, s := range []schema.ActivityStatus{schema.ActivityStatusCompleted, schema.ActivityStatusFaulted, schema.ActivityStatusCancelled} {
		assert.Empty(t, ValidActivityTransitions[s], s)
	}
}
