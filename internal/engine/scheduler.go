package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/waypoint/internal/expressions"
	"github.com/rendis/waypoint/internal/logging"
	"github.com/rendis/waypoint/internal/store"
	"github.com/rendis/waypoint/pkg/schema"
)

// DefaultMaxSteps bounds the work items one Run or Resume may process.
const DefaultMaxSteps = 100_000

// Scheduler drives an instance's work list. It holds no per-instance state:
// everything lives in the schema.InstanceState passed to each call, so a
// single Scheduler serves any number of instances, one call per instance at
// a time.
type Scheduler struct {
	evaluator   *expressions.Evaluator
	services    ServiceLocator
	appender    EventAppender
	instanceFSM *InstanceFSM
	activityFSM *ActivityFSM
	logger      *slog.Logger
	now         func() time.Time
	newID       func() string
	maxSteps    int
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithEvaluator sets the expression evaluator used for computed bindings.
func WithEvaluator(ev *expressions.Evaluator) SchedulerOption {
	return func(s *Scheduler) { s.evaluator = ev }
}

// WithServices sets the service locator handed to activities.
func WithServices(loc ServiceLocator) SchedulerOption {
	return func(s *Scheduler) { s.services = loc }
}

// WithAppender sets the journal sink.
func WithAppender(a EventAppender) SchedulerOption {
	return func(s *Scheduler) { s.appender = a }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) SchedulerOption {
	return func(s *Scheduler) { s.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// WithIDGenerator overrides execution and bookmark ID generation.
func WithIDGenerator(gen func() string) SchedulerOption {
	return func(s *Scheduler) { s.newID = gen }
}

// WithMaxSteps bounds the work items processed per call.
func WithMaxSteps(n int) SchedulerOption {
	return func(s *Scheduler) { s.maxSteps = n }
}

// NewScheduler creates a Scheduler. Without WithEvaluator it uses the default
// cel/expr/jq evaluator.
func NewScheduler(opts ...SchedulerOption) (*Scheduler, error) {
	s := &Scheduler{
		services: noServices{},
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
		maxSteps: DefaultMaxSteps,
	}
	for _, o := range opts {
		o(s)
	}
	if s.evaluator == nil {
		ev, err := expressions.NewDefaultEvaluator()
		if err != nil {
			return nil, err
		}
		s.evaluator = ev
	}
	if s.services == nil {
		s.services = noServices{}
	}
	if s.appender == nil {
		s.appender = discardAppender{}
	}
	s.logger = logging.OrDiscard(s.logger)
	s.instanceFSM = NewInstanceFSM(s.appender)
	s.activityFSM = NewActivityFSM(s.appender)
	return s, nil
}

// InstanceFSM exposes the instance FSM so hosts can register hooks.
func (s *Scheduler) InstanceFSM() *InstanceFSM { return s.instanceFSM }

// ActivityFSM exposes the activity FSM so hosts can register hooks.
func (s *Scheduler) ActivityFSM() *ActivityFSM { return s.activityFSM }

// Start schedules the root activity of a pending instance and runs until the
// instance completes, suspends or faults. When triggerActivityID is set, that
// activity will see IsTriggerOfWorkflow() == true the first time it runs.
func (s *Scheduler) Start(ctx context.Context, def *Definition, state *schema.InstanceState, triggerActivityID string, event *schema.Event) error {
	if state.DefinitionID != def.ID() {
		return schema.NewErrorf(schema.ErrCodeValidation, "instance %s belongs to definition %s, not %s",
			state.ID, state.DefinitionID, def.ID())
	}
	r := s.newRun(ctx, def, state)
	if err := s.instanceFSM.Transition(ctx, state, schema.InstanceStatusRunning, nil); err != nil {
		return err
	}
	if triggerActivityID != "" {
		if _, ok := def.Node(triggerActivityID); !ok {
			return schema.NewErrorf(schema.ErrCodeNotFound, "trigger activity %q not found", triggerActivityID)
		}
		state.TriggerActivityID = triggerActivityID
		state.TriggerEvent = event
	}

	root := def.Root().Meta()
	state.Sequence++
	exec := &schema.Execution{
		ID:         s.newID(),
		ActivityID: root.ID,
		Status:     schema.ActivityStatusPending,
		Seq:        state.Sequence,
	}
	state.Executions[exec.ID] = exec
	r.journal(exec, schema.EventActivityScheduled, nil)
	state.WorkList = append(state.WorkList, schema.WorkItem{Kind: schema.WorkExecute, ExecutionID: exec.ID})
	return r.loop()
}

// Run continues a Running instance whose work list is not empty, e.g. one
// that was persisted mid-run.
func (s *Scheduler) Run(ctx context.Context, def *Definition, state *schema.InstanceState) error {
	if state.Status != schema.InstanceStatusRunning {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition, "instance %s is %s, not running", state.ID, state.Status)
	}
	return s.newRun(ctx, def, state).loop()
}

// Resume applies a claimed bookmark to a Suspended instance: every bookmark
// of the owning execution is removed, the activity is re-invoked (OnResume,
// or completion by default) and the work list runs to the next rest point.
func (s *Scheduler) Resume(ctx context.Context, def *Definition, state *schema.InstanceState, bookmarkID string, event schema.Event) error {
	b, ok := state.Bookmark(bookmarkID)
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "bookmark %q not found on instance %s", bookmarkID, state.ID)
	}
	if state.Status != schema.InstanceStatusSuspended && state.Status != schema.InstanceStatusRunning {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition, "instance %s is %s and cannot resume", state.ID, state.Status)
	}
	r := s.newRun(ctx, def, state)
	if state.Status == schema.InstanceStatusSuspended {
		if err := s.instanceFSM.Transition(ctx, state, schema.InstanceStatusRunning, map[string]any{"bookmark_id": b.ID, "kind": event.Kind}); err != nil {
			return err
		}
	}

	exec, ok := state.Executions[b.ExecutionID]
	r.removeBookmarks(b.ExecutionID)
	if !ok {
		r.faultInstance(schema.Fault{
			ActivityID: b.ActivityID, ExecutionID: b.ExecutionID,
			Code:    schema.ErrCodeSchedulingInvariant,
			Message: "bookmark refers to an execution that is no longer live",
			At:      s.now(),
		})
		return nil
	}
	r.journal(exec, schema.EventBookmarkResumed, map[string]any{"bookmark_id": b.ID, "kind": b.Kind})

	act, ok := def.Node(exec.ActivityID)
	if !ok {
		r.fault(exec, missingNode(exec.ActivityID))
		return r.loop()
	}
	actx := r.newContext(exec, act)
	actx.event = &event
	actx.bookmark = &b
	if err := r.transition(exec, schema.ActivityStatusRunning, nil); err != nil {
		return err
	}
	sig, err := r.invoke(actx, func() (Signal, error) {
		if res, ok := act.(Resumer); ok {
			return res.OnResume(actx, b)
		}
		return actx.Complete(), nil
	})
	r.apply(actx, sig, err)
	return r.loop()
}

// Cancel stops an instance without running further activities. Committed
// variables and outputs are kept.
func (s *Scheduler) Cancel(ctx context.Context, def *Definition, state *schema.InstanceState, reason string) error {
	if state.Status.Terminal() {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition, "instance %s is already %s", state.ID, state.Status)
	}
	r := s.newRun(ctx, def, state)
	for _, exec := range state.ChildrenOf("") {
		r.removeSubtree(exec.ID, "")
	}
	state.WorkList = nil
	state.Bookmarks = nil
	state.TriggerActivityID = ""
	state.TriggerEvent = nil
	state.Fault = &schema.Fault{Code: schema.ErrCodeCancelled, Message: reason, At: s.now()}
	state.UpdatedAt = s.now()
	return s.instanceFSM.Transition(ctx, state, schema.InstanceStatusCancelled, map[string]any{"reason": reason})
}

// --- run: one call's worth of scheduler state ---

type run struct {
	s      *Scheduler
	ctx    context.Context
	def    *Definition
	state  *schema.InstanceState
	logger *slog.Logger
	steps  int
}

func (s *Scheduler) newRun(ctx context.Context, def *Definition, state *schema.InstanceState) *run {
	ctx = logging.WithDefinitionID(logging.WithInstanceID(ctx, state.ID), def.ID())
	if state.Executions == nil {
		state.Executions = make(map[string]*schema.Execution)
	}
	return &run{
		s:      s,
		ctx:    ctx,
		def:    def,
		state:  state,
		logger: logging.LogWith(ctx, s.logger),
	}
}

func (r *run) newContext(exec *schema.Execution, act Activity) *ActivityContext {
	return &ActivityContext{r: r, exec: exec, activity: act}
}

// loop pops work items (LIFO) until the list is empty, then settles the
// instance status.
func (r *run) loop() error {
	st := r.state
	for len(st.WorkList) > 0 && st.Status == schema.InstanceStatusRunning {
		if err := r.ctx.Err(); err != nil {
			st.UpdatedAt = r.s.now()
			return schema.NewError(schema.ErrCodeCancelled, "run interrupted").WithCause(err)
		}
		r.steps++
		if r.s.maxSteps > 0 && r.steps > r.s.maxSteps {
			r.faultInstance(schema.Fault{
				Code:    schema.ErrCodeSchedulingInvariant,
				Message: fmt.Sprintf("step limit of %d exceeded", r.s.maxSteps),
				At:      r.s.now(),
			})
			break
		}

		item := st.WorkList[len(st.WorkList)-1]
		st.WorkList = st.WorkList[:len(st.WorkList)-1]
		if err := r.process(item); err != nil {
			return err
		}
	}
	return r.settle()
}

func (r *run) process(item schema.WorkItem) error {
	exec, ok := r.state.Executions[item.ExecutionID]
	if !ok {
		// Removed by cancellation or fault containment.
		return nil
	}
	act, ok := r.def.Node(exec.ActivityID)
	if !ok {
		r.fault(exec, missingNode(exec.ActivityID))
		return nil
	}
	actx := r.newContext(exec, act)
	if err := r.transition(exec, schema.ActivityStatusRunning, nil); err != nil {
		return err
	}

	var sig Signal
	var err error
	switch item.Kind {
	case schema.WorkExecute:
		if r.state.TriggerActivityID != "" && r.state.TriggerActivityID == exec.ActivityID {
			actx.trigger = true
			actx.event = r.state.TriggerEvent
			r.state.TriggerActivityID = ""
			r.state.TriggerEvent = nil
		}
		sig, err = r.invoke(actx, func() (Signal, error) { return act.Execute(actx) })

	case schema.WorkComplete:
		child := ChildResult{ExecutionID: item.ChildID, ActivityID: item.ChildActivityID, Tag: item.Tag, Outcomes: item.Outcomes}
		sig, err = r.invoke(actx, func() (Signal, error) {
			if h, ok := act.(CompletionHandler); ok {
				return h.OnChildCompleted(actx, child)
			}
			if actx.PendingChildren() > 0 {
				return ScheduledChildren, nil
			}
			return actx.Complete(), nil
		})

	case schema.WorkFault:
		child := ChildResult{ExecutionID: item.ChildID, ActivityID: item.ChildActivityID, Tag: item.Tag, Fault: item.Fault}
		sig, err = r.invoke(actx, func() (Signal, error) {
			h, ok := act.(FaultHandler)
			if !ok {
				return SignalNone, item.Fault.AsError()
			}
			return h.OnChildFaulted(actx, child)
		})

	default:
		err = schema.NewErrorf(schema.ErrCodeSchedulingInvariant, "unknown work item kind %q", item.Kind)
	}
	r.apply(actx, sig, err)
	return nil
}

// invoke calls fn, converting panics into EXECUTION_FAULT errors.
func (r *run) invoke(actx *ActivityContext, fn func() (Signal, error)) (sig Signal, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("activity panicked",
				"activity_id", actx.exec.ActivityID, "panic", p, "stack", string(debug.Stack()))
			sig = SignalNone
			err = schema.NewErrorf(schema.ErrCodeExecutionFault, "panic: %v", p).WithActivity(actx.exec.ActivityID)
		}
	}()
	return fn()
}

// apply enforces the signal contract and advances the execution.
func (r *run) apply(actx *ActivityContext, sig Signal, err error) {
	exec := actx.exec
	if err != nil {
		r.fault(exec, err)
		return
	}

	// Children scheduled in one invocation run in scheduling order.
	for i := len(actx.scheduled) - 1; i >= 0; i-- {
		r.state.WorkList = append(r.state.WorkList, actx.scheduled[i])
	}
	actx.scheduled = nil

	switch sig {
	case Completed:
		if n := len(r.state.ChildrenOf(exec.ID)); n > 0 {
			r.fault(exec, invariant(exec, "completed with %d pending children", n))
			return
		}
		r.complete(exec, actx.outcomes)
	case Suspended:
		if len(r.state.BookmarksOf(exec.ID)) == 0 {
			r.fault(exec, invariant(exec, "suspended without creating a bookmark"))
			return
		}
		r.mustTransition(exec, schema.ActivityStatusSuspended, nil)
	case ScheduledChildren:
		if len(r.state.ChildrenOf(exec.ID)) == 0 {
			r.fault(exec, invariant(exec, "returned scheduled_children without live children"))
			return
		}
		r.mustTransition(exec, schema.ActivityStatusWaiting, nil)
	default:
		r.fault(exec, invariant(exec, "returned no signal"))
	}
}

func (r *run) complete(exec *schema.Execution, outcomes []string) {
	if len(outcomes) == 0 {
		outcomes = []string{OutcomeDone}
	}
	r.removeBookmarks(exec.ID)
	r.mustTransition(exec, schema.ActivityStatusCompleted, map[string]any{"outcomes": outcomes})
	delete(r.state.Executions, exec.ID)
	if exec.ParentID == "" {
		return
	}
	r.state.WorkList = append(r.state.WorkList, schema.WorkItem{
		Kind:            schema.WorkComplete,
		ExecutionID:     exec.ParentID,
		ChildID:         exec.ID,
		ChildActivityID: exec.ActivityID,
		Tag:             exec.Tag,
		Outcomes:        outcomes,
	})
}

// fault records an execution fault and routes it to the nearest ancestor
// implementing FaultHandler. Without one the instance faults.
func (r *run) fault(exec *schema.Execution, err error) {
	f := schema.Fault{
		ActivityID:  exec.ActivityID,
		ExecutionID: exec.ID,
		Code:        schema.CodeOf(err),
		Message:     faultMessage(err),
		At:          r.s.now(),
	}
	r.logger.Warn("activity faulted", "activity_id", exec.ActivityID, "code", f.Code, "error", f.Message)
	r.mustTransition(exec, schema.ActivityStatusFaulted, f)

	child := exec
	for child.ParentID != "" {
		parent, ok := r.state.Executions[child.ParentID]
		if !ok {
			break
		}
		if act, ok := r.def.Node(parent.ActivityID); ok {
			if _, handles := act.(FaultHandler); handles {
				r.removeSubtree(child.ID, exec.ID)
				r.state.WorkList = append(r.state.WorkList, schema.WorkItem{
					Kind:            schema.WorkFault,
					ExecutionID:     parent.ID,
					ChildID:         child.ID,
					ChildActivityID: child.ActivityID,
					Tag:             child.Tag,
					Fault:           &f,
				})
				return
			}
		}
		child = parent
	}
	r.faultInstance(f)
}

// faultInstance halts the instance. Outputs and variables stay as committed.
func (r *run) faultInstance(f schema.Fault) {
	st := r.state
	for _, exec := range st.ChildrenOf("") {
		r.removeSubtree(exec.ID, f.ExecutionID)
	}
	st.WorkList = nil
	st.Bookmarks = nil
	st.TriggerActivityID = ""
	st.TriggerEvent = nil
	st.Fault = &f
	now := r.s.now()
	st.UpdatedAt = now
	st.CompletedAt = &now
	if err := r.s.instanceFSM.Transition(r.ctx, st, schema.InstanceStatusFaulted, f); err != nil {
		r.logger.Error("fault transition failed", "error", err)
		st.Status = schema.InstanceStatusFaulted
	}
}

// settle moves a Running instance with an empty work list to its rest state.
func (r *run) settle() error {
	st := r.state
	if st.Status != schema.InstanceStatusRunning {
		return nil
	}
	now := r.s.now()
	st.UpdatedAt = now
	switch {
	case len(st.Executions) == 0:
		st.CompletedAt = &now
		return r.s.instanceFSM.Transition(r.ctx, st, schema.InstanceStatusCompleted, nil)
	case len(st.Bookmarks) > 0:
		return r.s.instanceFSM.Transition(r.ctx, st, schema.InstanceStatusSuspended,
			map[string]any{"bookmarks": len(st.Bookmarks)})
	default:
		var stuck *schema.Execution
		for _, e := range st.Executions {
			if stuck == nil || e.Seq > stuck.Seq {
				stuck = e
			}
		}
		r.faultInstance(schema.Fault{
			ActivityID:  stuck.ActivityID,
			ExecutionID: stuck.ID,
			Code:        schema.ErrCodeSchedulingInvariant,
			Message:     "no runnable work and no active bookmark; instance would never finish",
			At:          now,
		})
		return nil
	}
}

// removeSubtree deletes an execution and all its descendants together with
// their bookmarks and queued work. skipJournal names an execution whose
// terminal event was already journaled.
func (r *run) removeSubtree(rootID, skipJournal string) {
	st := r.state
	removed := map[string]bool{}
	queue := []string{rootID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		exec, ok := st.Executions[id]
		if !ok || removed[id] {
			continue
		}
		removed[id] = true
		for _, c := range st.ChildrenOf(id) {
			queue = append(queue, c.ID)
		}
		if id != skipJournal && exec.Status != schema.ActivityStatusFaulted {
			r.mustTransition(exec, schema.ActivityStatusCancelled, nil)
		}
		r.removeBookmarks(id)
		delete(st.Executions, id)
	}
	if len(removed) == 0 {
		return
	}
	kept := st.WorkList[:0]
	for _, w := range st.WorkList {
		if !removed[w.ExecutionID] {
			kept = append(kept, w)
		}
	}
	st.WorkList = kept
}

func (r *run) removeBookmarks(executionID string) {
	st := r.state
	kept := st.Bookmarks[:0]
	for _, b := range st.Bookmarks {
		if b.ExecutionID != executionID {
			kept = append(kept, b)
		}
	}
	st.Bookmarks = kept
	if len(st.Bookmarks) == 0 {
		st.Bookmarks = nil
	}
}

func (r *run) transition(exec *schema.Execution, to schema.ActivityStatus, payload any) error {
	return r.s.activityFSM.Transition(r.ctx, r.state.ID, exec, to, payload)
}

// mustTransition applies a transition whose validity the scheduler
// guarantees; journal failures are logged and the status is forced.
func (r *run) mustTransition(exec *schema.Execution, to schema.ActivityStatus, payload any) {
	if err := r.transition(exec, to, payload); err != nil {
		r.logger.Error("activity transition", "activity_id", exec.ActivityID, "to", to, "error", err)
		exec.Status = to
	}
}

func (r *run) journal(exec *schema.Execution, eventType string, payload any) {
	event := &store.Event{
		InstanceID:  r.state.ID,
		ActivityID:  exec.ActivityID,
		ExecutionID: exec.ID,
		Type:        eventType,
		Payload:     encodePayload(payload),
	}
	if err := r.s.appender.AppendEvent(r.ctx, event); err != nil {
		r.logger.Warn("journal append failed", "event_type", eventType, "error", err)
	}
}

func invariant(exec *schema.Execution, format string, args ...any) error {
	return schema.NewErrorf(schema.ErrCodeSchedulingInvariant, "activity %s "+format, append([]any{exec.ActivityID}, args...)...).
		WithActivity(exec.ActivityID)
}

func missingNode(id string) error {
	return schema.NewErrorf(schema.ErrCodeSchedulingInvariant, "activity %q is not part of the definition", id).WithActivity(id)
}

func faultMessage(err error) string {
	var e *schema.Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}

func asError(err error, target **schema.Error) bool {
	return errors.As(err, target)
}
