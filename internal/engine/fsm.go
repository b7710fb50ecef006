package engine

import (
	"context"
	"sync"

	"github.com/rendis/waypoint/internal/store"
	"github.com/rendis/waypoint/internal/xjson"
	"github.com/rendis/waypoint/pkg/schema"
)

// TransitionHook is called before or after a state transition.
type TransitionHook func(instanceID string, from, to string) error

// EventAppender is satisfied by store.Store and store.EventLog; FSMs use it
// to journal transitions.
type EventAppender interface {
	AppendEvent(ctx context.Context, event *store.Event) error
}

type discardAppender struct{}

func (discardAppender) AppendEvent(context.Context, *store.Event) error { return nil }

// --- Instance FSM ---

type instanceHookKey struct {
	from, to schema.InstanceStatus
}

// InstanceFSM manages instance lifecycle transitions.
type InstanceFSM struct {
	mu       sync.Mutex
	appender EventAppender
	before   map[instanceHookKey][]TransitionHook
	after    map[instanceHookKey][]TransitionHook
}

// NewInstanceFSM creates an InstanceFSM that journals via the given appender.
// A nil appender discards events.
func NewInstanceFSM(appender EventAppender) *InstanceFSM {
	if appender == nil {
		appender = discardAppender{}
	}
	return &InstanceFSM{
		appender: appender,
		before:   make(map[instanceHookKey][]TransitionHook),
		after:    make(map[instanceHookKey][]TransitionHook),
	}
}

// OnBefore registers a hook called before an instance transition. A hook
// error aborts the transition.
func (f *InstanceFSM) OnBefore(from, to schema.InstanceStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := instanceHookKey{from, to}
	f.before[key] = append(f.before[key], hook)
}

// OnAfter registers a hook called after an instance transition.
func (f *InstanceFSM) OnAfter(from, to schema.InstanceStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := instanceHookKey{from, to}
	f.after[key] = append(f.after[key], hook)
}

// Transition validates the move from state.Status to `to`, journals it and
// updates state.Status. The caller persists the state.
func (f *InstanceFSM) Transition(ctx context.Context, state *schema.InstanceState, to schema.InstanceStatus, payload any) error {
	from := state.Status
	if !isValidInstanceTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid instance transition: %s -> %s", from, to).
			WithDetails(map[string]any{"instance_id": state.ID, "from": string(from), "to": string(to)})
	}

	key := instanceHookKey{from, to}
	f.mu.Lock()
	before := append([]TransitionHook(nil), f.before[key]...)
	after := append([]TransitionHook(nil), f.after[key]...)
	f.mu.Unlock()

	for _, hook := range before {
		if err := hook(state.ID, string(from), string(to)); err != nil {
			return err
		}
	}

	if eventType := instanceEventType(from, to); eventType != "" {
		event := &store.Event{InstanceID: state.ID, Type: eventType, Payload: encodePayload(payload)}
		if err := f.appender.AppendEvent(ctx, event); err != nil {
			return schema.NewErrorf(schema.ErrCodeStore, "emit instance event: %s", err.Error()).WithCause(err)
		}
	}
	state.Status = to

	for _, hook := range after {
		if err := hook(state.ID, string(from), string(to)); err != nil {
			return err
		}
	}
	return nil
}

func isValidInstanceTransition(from, to schema.InstanceStatus) bool {
	for _, a := range ValidInstanceTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

func instanceEventType(from, to schema.InstanceStatus) string {
	switch to {
	case schema.InstanceStatusRunning:
		if from == schema.InstanceStatusSuspended {
			return schema.EventInstanceResumed
		}
		return schema.EventInstanceStarted
	case schema.InstanceStatusSuspended:
		return schema.EventInstanceSuspended
	case schema.InstanceStatusCompleted:
		return schema.EventInstanceCompleted
	case schema.InstanceStatusFaulted:
		return schema.EventInstanceFaulted
	case schema.InstanceStatusCancelled:
		return schema.EventInstanceCancelled
	default:
		return ""
	}
}

// --- Activity FSM ---

type activityHookKey struct {
	from, to schema.ActivityStatus
}

// ActivityFSM manages activity execution transitions.
type ActivityFSM struct {
	mu       sync.Mutex
	appender EventAppender
	after    map[activityHookKey][]TransitionHook
}

// NewActivityFSM creates an ActivityFSM that journals via the given appender.
func NewActivityFSM(appender EventAppender) *ActivityFSM {
	if appender == nil {
		appender = discardAppender{}
	}
	return &ActivityFSM{
		appender: appender,
		after:    make(map[activityHookKey][]TransitionHook),
	}
}

// OnAfter registers a hook called after an activity transition.
func (f *ActivityFSM) OnAfter(from, to schema.ActivityStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := activityHookKey{from, to}
	f.after[key] = append(f.after[key], hook)
}

// Transition validates and applies an execution status change and journals it.
func (f *ActivityFSM) Transition(ctx context.Context, instanceID string, exec *schema.Execution, to schema.ActivityStatus, payload any) error {
	from := exec.Status
	if !isValidActivityTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid activity transition: %s -> %s", from, to).
			WithActivity(exec.ActivityID).
			WithDetails(map[string]any{"instance_id": instanceID, "execution_id": exec.ID, "from": string(from), "to": string(to)})
	}

	if eventType := activityEventType(to); eventType != "" {
		event := &store.Event{
			InstanceID:  instanceID,
			ActivityID:  exec.ActivityID,
			ExecutionID: exec.ID,
			Type:        eventType,
			Payload:     encodePayload(payload),
		}
		if err := f.appender.AppendEvent(ctx, event); err != nil {
			return schema.NewErrorf(schema.ErrCodeStore, "emit activity event: %s", err.Error()).
				WithActivity(exec.ActivityID).WithCause(err)
		}
	}
	exec.Status = to

	f.mu.Lock()
	after := append([]TransitionHook(nil), f.after[activityHookKey{from, to}]...)
	f.mu.Unlock()
	for _, hook := range after {
		if err := hook(instanceID, string(from), string(to)); err != nil {
			return err
		}
	}
	return nil
}

func isValidActivityTransition(from, to schema.ActivityStatus) bool {
	for _, a := range ValidActivityTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

func activityEventType(to schema.ActivityStatus) string {
	switch to {
	case schema.ActivityStatusRunning:
		return schema.EventActivityStarted
	case schema.ActivityStatusSuspended:
		return schema.EventActivitySuspended
	case schema.ActivityStatusCompleted:
		return schema.EventActivityCompleted
	case schema.ActivityStatusFaulted:
		return schema.EventActivityFaulted
	case schema.ActivityStatusCancelled:
		return schema.EventActivityCancelled
	default:
		return ""
	}
}

func encodePayload(payload any) xjson.RawMessage {
	if payload == nil {
		return nil
	}
	data, err := xjson.Marshal(payload)
	if err != nil {
		return nil
	}
	return data
}

// --- Transition tables ---

// ValidInstanceTransitions defines the allowed instance state transitions.
var ValidInstanceTransitions = map[schema.InstanceStatus][]schema.InstanceStatus{
	schema.InstanceStatusPending:   {schema.InstanceStatusRunning, schema.InstanceStatusCancelled},
	schema.InstanceStatusRunning:   {schema.InstanceStatusSuspended, schema.InstanceStatusCompleted, schema.InstanceStatusFaulted, schema.InstanceStatusCancelled},
	schema.InstanceStatusSuspended: {schema.InstanceStatusRunning, schema.InstanceStatusCancelled, schema.InstanceStatusFaulted},
	schema.InstanceStatusCompleted: {},
	schema.InstanceStatusFaulted:   {},
	schema.InstanceStatusCancelled: {},
}

// ValidActivityTransitions defines the allowed activity execution transitions.
var ValidActivityTransitions = map[schema.ActivityStatus][]schema.ActivityStatus{
	schema.ActivityStatusPending:   {schema.ActivityStatusRunning, schema.ActivityStatusFaulted, schema.ActivityStatusCancelled},
	schema.ActivityStatusRunning:   {schema.ActivityStatusCompleted, schema.ActivityStatusFaulted, schema.ActivityStatusSuspended, schema.ActivityStatusWaiting, schema.ActivityStatusCancelled},
	schema.ActivityStatusWaiting:   {schema.ActivityStatusRunning, schema.ActivityStatusFaulted, schema.ActivityStatusCancelled},
	schema.ActivityStatusSuspended: {schema.ActivityStatusRunning, schema.ActivityStatusFaulted, schema.ActivityStatusCancelled},
	schema.ActivityStatusCompleted: {},
	schema.ActivityStatusFaulted:   {},
	schema.ActivityStatusCancelled: {},
}
