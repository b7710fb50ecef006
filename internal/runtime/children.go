package runtime

import (
	"context"
	"log/slog"
	"sync"

	"github.com/rendis/waypoint/internal/activities"
	"github.com/rendis/waypoint/internal/engine"
	"github.com/rendis/waypoint/pkg/schema"
)

type followUpsKey struct{}

// followUps is work queued while an instance lock is held and run after the
// entry point released it: child starts and completion notices to parents.
type followUps struct {
	mu       sync.Mutex
	children []pendingChild
	notices  []schema.Event
}

type pendingChild struct {
	id  string
	def *engine.Definition
	req activities.ChildWorkflow
}

func withFollowUps(ctx context.Context) (context.Context, *followUps) {
	q := &followUps{}
	return context.WithValue(ctx, followUpsKey{}, q), q
}

func followUpsFrom(ctx context.Context) (*followUps, bool) {
	q, ok := ctx.Value(followUpsKey{}).(*followUps)
	return q, ok
}

func (q *followUps) take() ([]pendingChild, []schema.Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	c, n := q.children, q.notices
	q.children, q.notices = nil, nil
	return c, n
}

// DispatchWorkflow reserves a child instance for a DispatchWorkflow
// activity. The child starts once the calling entry point has persisted the
// parent and released its lock.
func (r *Runtime) DispatchWorkflow(ctx context.Context, req activities.ChildWorkflow) (string, error) {
	q, ok := followUpsFrom(ctx)
	if !ok {
		return "", schema.NewError(schema.ErrCodeExecutionFault, "child workflows can only be dispatched from a running instance")
	}
	def, err := r.Definition(ctx, req.DefinitionID, 0)
	if err != nil {
		return "", err
	}
	id := r.newID()
	q.mu.Lock()
	q.children = append(q.children, pendingChild{id: id, def: def, req: req})
	q.mu.Unlock()
	return id, nil
}

// noteCompletion queues the completion notice of a terminal child instance.
func (r *Runtime) noteCompletion(ctx context.Context, st *schema.InstanceState) {
	if st.ParentInstanceID == "" || !st.Status.Terminal() {
		return
	}
	q, ok := followUpsFrom(ctx)
	if !ok {
		r.logger.Warn("child completion not delivered",
			slog.String("instance_id", st.ID),
			slog.String("parent_instance_id", st.ParentInstanceID))
		return
	}
	q.mu.Lock()
	q.notices = append(q.notices, completionEvent(st.ID, st.Status, st.Variables, st.Fault))
	q.mu.Unlock()
}

func completionEvent(childID string, status schema.InstanceStatus, vars map[string]any, fault *schema.Fault) schema.Event {
	in := map[string]any{
		"instance_id": childID,
		"status":      string(status),
		"variables":   vars,
	}
	if fault != nil {
		in["fault"] = map[string]any{
			"code":        fault.Code,
			"message":     fault.Message,
			"activity_id": fault.ActivityID,
		}
	}
	return schema.Event{Kind: activities.KindWorkflowCompleted, Payload: childID, Input: in}
}

// drain runs queued follow-ups until none are left and reports whether
// there were any.
func (r *Runtime) drain(ctx context.Context, q *followUps) bool {
	ran := false
	for {
		children, notices := q.take()
		if len(children) == 0 && len(notices) == 0 {
			return ran
		}
		ran = true
		for _, c := range children {
			r.startChild(ctx, c)
		}
		for _, ev := range notices {
			if _, err := r.Dispatch(ctx, ev); err != nil {
				r.logger.Warn("child completion dispatch failed",
					slog.Any("instance_id", ev.Payload),
					slog.String("error", err.Error()))
			}
		}
	}
}

// startChild starts a reserved child. A child that cannot start is reported
// to its parent as faulted.
func (r *Runtime) startChild(ctx context.Context, c pendingChild) {
	ctx, q := withFollowUps(ctx)
	defer r.drain(ctx, q)

	if _, err := r.start(ctx, c.def, c.req.Input, "", nil, &c); err != nil {
		r.logger.Warn("child workflow failed to start",
			slog.String("instance_id", c.id),
			slog.String("definition_id", c.def.ID()),
			slog.String("parent_instance_id", c.req.ParentInstanceID),
			slog.String("error", err.Error()))
		if _, serr := r.store.GetInstance(ctx, c.id); serr == nil {
			// A persisted child reports through its own completion.
			return
		}
		q.mu.Lock()
		q.notices = append(q.notices, completionEvent(c.id, schema.InstanceStatusFaulted, nil,
			&schema.Fault{Code: schema.CodeOf(err), Message: err.Error()}))
		q.mu.Unlock()
	}
}

var _ activities.WorkflowDispatcher = (*Runtime)(nil)
