package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/rendis/waypoint/internal/binding"
	"github.com/rendis/waypoint/internal/bookmarks"
	"github.com/rendis/waypoint/internal/expressions"
	"github.com/rendis/waypoint/internal/xjson"
	"github.com/rendis/waypoint/pkg/schema"
)

// ActivityContext is handed to an activity for one invocation. It is the only
// way activities read and change instance state.
type ActivityContext struct {
	r        *run
	exec     *schema.Execution
	activity Activity

	trigger  bool
	event    *schema.Event
	bookmark *schema.Bookmark

	outcomes  []string
	scheduled []schema.WorkItem
}

var _ binding.Scope = (*ActivityContext)(nil)

// BookmarkOption customizes CreateBookmark.
type BookmarkOption func(*schema.Bookmark)

// WithCallback tags a bookmark so the activity can tell its waits apart on resume.
func WithCallback(tag string) BookmarkOption {
	return func(b *schema.Bookmark) { b.Callback = tag }
}

func (c *ActivityContext) Context() context.Context { return c.r.ctx }
func (c *ActivityContext) Logger() *slog.Logger {
	return c.r.logger.With("activity_id", c.exec.ActivityID)
}
func (c *ActivityContext) Node() *Node              { return c.activity.Meta() }
func (c *ActivityContext) Activity() Activity       { return c.activity }
func (c *ActivityContext) Definition() *Definition  { return c.r.def }
func (c *ActivityContext) InstanceID() string       { return c.r.state.ID }
func (c *ActivityContext) ExecutionID() string      { return c.exec.ID }
func (c *ActivityContext) Now() time.Time           { return c.r.s.now() }
func (c *ActivityContext) Services() ServiceLocator { return c.r.s.services }
func (c *ActivityContext) Service(name string) (any, bool) {
	return c.r.s.services.Service(name)
}

// IsTriggerOfWorkflow reports whether this invocation runs because an event
// selected this activity to start the instance. It is true at most once per
// instance.
func (c *ActivityContext) IsTriggerOfWorkflow() bool { return c.trigger }

// ResumeEvent returns the event that resumed or started this invocation, if any.
func (c *ActivityContext) ResumeEvent() *schema.Event { return c.event }

// ResumedBookmark returns the bookmark being resumed, if any.
func (c *ActivityContext) ResumedBookmark() *schema.Bookmark { return c.bookmark }

// Schedule adds a child execution. The child runs after the current
// invocation returns, in scheduling order, and reports back through the
// parent's CompletionHandler.
func (c *ActivityContext) Schedule(child Activity, tag string) error {
	if child == nil {
		return schema.NewError(schema.ErrCodeSchedulingInvariant, "cannot schedule a nil activity").
			WithActivity(c.exec.ActivityID)
	}
	id := child.Meta().ID
	if a, ok := c.r.def.Node(id); !ok || a.Meta() != child.Meta() {
		return schema.NewErrorf(schema.ErrCodeSchedulingInvariant,
			"activity %q is not part of definition %s", id, c.r.def.ID()).WithActivity(c.exec.ActivityID)
	}
	st := c.r.state
	st.Sequence++
	exec := &schema.Execution{
		ID:         c.r.s.newID(),
		ActivityID: id,
		ParentID:   c.exec.ID,
		Tag:        tag,
		Status:     schema.ActivityStatusPending,
		Seq:        st.Sequence,
	}
	st.Executions[exec.ID] = exec
	c.scheduled = append(c.scheduled, schema.WorkItem{Kind: schema.WorkExecute, ExecutionID: exec.ID})
	c.r.journal(exec, schema.EventActivityScheduled, map[string]any{"parent_id": c.exec.ID, "tag": tag})
	return nil
}

// Complete records the outcomes this activity completes with and returns
// the Completed signal. No outcomes means OutcomeDone.
func (c *ActivityContext) Complete(outcomes ...string) Signal {
	c.outcomes = append(c.outcomes[:0], outcomes...)
	return Completed
}

// CreateBookmark registers a wait for an event of the given kind whose
// payload equals payload. The bookmark is owned by this execution.
func (c *ActivityContext) CreateBookmark(kind string, payload any, opts ...BookmarkOption) (schema.Bookmark, error) {
	if kind == "" {
		return schema.Bookmark{}, schema.NewError(schema.ErrCodeValidation, "bookmark kind is required").
			WithActivity(c.exec.ActivityID)
	}
	norm, err := xjson.Normalize(payload)
	if err != nil {
		return schema.Bookmark{}, schema.NewErrorf(schema.ErrCodeValidation, "bookmark payload: %s", err.Error()).
			WithActivity(c.exec.ActivityID)
	}
	h, err := bookmarks.Hash(norm)
	if err != nil {
		return schema.Bookmark{}, err
	}
	b := schema.Bookmark{
		ID:          c.r.s.newID(),
		InstanceID:  c.r.state.ID,
		Kind:        kind,
		Payload:     norm,
		PayloadHash: h,
		ActivityID:  c.exec.ActivityID,
		ExecutionID: c.exec.ID,
		CreatedAt:   c.r.s.now(),
	}
	for _, o := range opts {
		o(&b)
	}
	c.r.state.Bookmarks = append(c.r.state.Bookmarks, b)
	c.r.journal(c.exec, schema.EventBookmarkCreated, map[string]any{"bookmark_id": b.ID, "kind": kind, "payload": norm})
	return b, nil
}

// Suspend creates a bookmark and returns the Suspended signal.
func (c *ActivityContext) Suspend(kind string, payload any, opts ...BookmarkOption) (Signal, error) {
	if _, err := c.CreateBookmark(kind, payload, opts...); err != nil {
		return SignalNone, err
	}
	return Suspended, nil
}

// Variable returns the current value of a workflow variable.
func (c *ActivityContext) Variable(name string) (any, bool) {
	v, ok := c.r.state.Variables[name]
	return v, ok
}

// SetVariable writes a workflow variable. Values are normalized to their
// JSON form so they survive persistence unchanged.
func (c *ActivityContext) SetVariable(name string, value any) error {
	norm, err := xjson.Normalize(value)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeBinding, "variable %q: %s", name, err.Error()).
			WithActivity(c.exec.ActivityID).WithCause(err)
	}
	if c.r.state.Variables == nil {
		c.r.state.Variables = make(map[string]any)
	}
	c.r.state.Variables[name] = norm
	c.r.journal(c.exec, schema.EventVariableSet, map[string]any{"name": name})
	return nil
}

// Input returns a workflow input value.
func (c *ActivityContext) Input(name string) (any, bool) {
	v, ok := c.r.state.Inputs[name]
	return v, ok
}

// Output returns a value recorded by another activity, addressed by ID or name.
func (c *ActivityContext) Output(activity, name string) (any, bool) {
	id, ok := c.r.def.Resolve(activity)
	if !ok {
		return nil, false
	}
	v, ok := c.r.state.Outputs[id][name]
	return v, ok
}

// SetOutput records a raw output of this activity under its ID.
func (c *ActivityContext) SetOutput(name string, value any) error {
	norm, err := xjson.Normalize(value)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeBinding, "output %q: %s", name, err.Error()).
			WithActivity(c.exec.ActivityID).WithCause(err)
	}
	st := c.r.state
	if st.Outputs == nil {
		st.Outputs = make(map[string]map[string]any)
	}
	if st.Outputs[c.exec.ActivityID] == nil {
		st.Outputs[c.exec.ActivityID] = make(map[string]any)
	}
	st.Outputs[c.exec.ActivityID][name] = norm
	return nil
}

// Commit records an output and copies it into the variable the node's
// output mapping names, if any.
func (c *ActivityContext) Commit(name string, value any) error {
	return binding.Output{Name: name, Variable: c.Node().Outputs[name]}.Commit(c, value)
}

// Property returns per-execution state that persists across invocations.
func (c *ActivityContext) Property(key string) (any, bool) {
	v, ok := c.exec.Properties[key]
	return v, ok
}

// SetProperty stores per-execution state.
func (c *ActivityContext) SetProperty(key string, value any) error {
	norm, err := xjson.Normalize(value)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeBinding, "property %q: %s", key, err.Error()).
			WithActivity(c.exec.ActivityID).WithCause(err)
	}
	if c.exec.Properties == nil {
		c.exec.Properties = make(map[string]any)
	}
	c.exec.Properties[key] = norm
	return nil
}

// IntProperty reads a numeric property as int, defaulting to def.
func (c *ActivityContext) IntProperty(key string, def int) int {
	v, ok := c.Property(key)
	if !ok {
		return def
	}
	n, err := binding.Convert[int](v)
	if err != nil {
		return def
	}
	return n
}

// ExpressionData is the read-only data model expressions evaluate against.
func (c *ActivityContext) ExpressionData() map[string]any {
	st := c.r.state
	outputs := make(map[string]any, len(st.Outputs))
	for id, vals := range st.Outputs {
		outputs[id] = vals
		if a, ok := c.r.def.Node(id); ok {
			if name := a.Meta().Name; name != "" {
				if resolved, ok := c.r.def.Resolve(name); ok && resolved == id {
					outputs[name] = vals
				}
			}
		}
	}
	vars := st.Variables
	if vars == nil {
		vars = map[string]any{}
	}
	inputs := st.Inputs
	if inputs == nil {
		inputs = map[string]any{}
	}
	return map[string]any{
		expressions.KeyVariables: vars,
		expressions.KeyOutputs:   outputs,
		expressions.KeyInputs:    inputs,
		expressions.KeyWorkflow: map[string]any{
			"instance_id":   st.ID,
			"definition_id": st.DefinitionID,
			"activity_id":   c.exec.ActivityID,
		},
	}
}

// Evaluate runs an expression against ExpressionData.
func (c *ActivityContext) Evaluate(language, source string) (any, error) {
	v, err := c.r.s.evaluator.Evaluate(c.r.ctx, language, source, c.ExpressionData())
	if err != nil {
		var e *schema.Error
		if asError(err, &e) && e.ActivityID == "" {
			e.ActivityID = c.exec.ActivityID
		}
		return nil, err
	}
	return v, nil
}

// Children returns the live child executions of this activity.
func (c *ActivityContext) Children() []*schema.Execution {
	return c.r.state.ChildrenOf(c.exec.ID)
}

// PendingChildren returns how many children have not reported back.
func (c *ActivityContext) PendingChildren() int {
	return len(c.r.state.ChildrenOf(c.exec.ID))
}

// CancelChildren removes every live child subtree, along with their
// bookmarks and pending work.
func (c *ActivityContext) CancelChildren() {
	for _, child := range c.r.state.ChildrenOf(c.exec.ID) {
		c.r.removeSubtree(child.ID, "")
	}
	c.scheduled = c.scheduled[:0]
}

// Resolve resolves a typed input against this context.
func Resolve[T any](c *ActivityContext, in binding.Input[T]) (T, error) {
	v, err := in.Resolve(c)
	if err != nil {
		var e *schema.Error
		if asError(err, &e) && e.ActivityID == "" {
			e.ActivityID = c.exec.ActivityID
		}
	}
	return v, err
}
