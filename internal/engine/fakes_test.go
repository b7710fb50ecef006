package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rendis/waypoint/internal/store"
	"github.com/rendis/waypoint/pkg/schema"
)

// leaf runs fn on Execute.
type leaf struct {
	Node
	fn func(ctx *ActivityContext) (Signal, error)
}

func (l *leaf) Execute(ctx *ActivityContext) (Signal, error) { return l.fn(ctx) }

// record appends the activity's ID to the "log" variable and completes.
func record(id string) *leaf {
	return &leaf{Node: Node{ID: id, Type: "Record"}, fn: func(ctx *ActivityContext) (Signal, error) {
		v, _ := ctx.Variable("log")
		list, _ := v.([]any)
		if err := ctx.SetVariable("log", append(list, ctx.Node().ID)); err != nil {
			return SignalNone, err
		}
		return ctx.Complete(), nil
	}}
}

// seq runs children one at a time.
type seq struct {
	Node
	kids []Activity
}

func (s *seq) Children() []Activity { return s.kids }

func (s *seq) Execute(ctx *ActivityContext) (Signal, error) {
	return s.next(ctx, 0)
}

func (s *seq) next(ctx *ActivityContext, i int) (Signal, error) {
	if i >= len(s.kids) {
		return ctx.Complete(), nil
	}
	if err := ctx.SetProperty("index", i); err != nil {
		return SignalNone, err
	}
	if err := ctx.Schedule(s.kids[i], ""); err != nil {
		return SignalNone, err
	}
	return ScheduledChildren, nil
}

func (s *seq) OnChildCompleted(ctx *ActivityContext, _ ChildResult) (Signal, error) {
	return s.next(ctx, ctx.IntProperty("index", 0)+1)
}

// fork schedules all children and relies on default completion.
type fork struct {
	Node
	kids []Activity
}

func (f *fork) Children() []Activity { return f.kids }

func (f *fork) Execute(ctx *ActivityContext) (Signal, error) {
	for _, k := range f.kids {
		if err := ctx.Schedule(k, ""); err != nil {
			return SignalNone, err
		}
	}
	return ScheduledChildren, nil
}

// wait is a trigger that suspends on (kind, payload).
type wait struct {
	Node
	kind, payload string
}

func (w *wait) TriggerKind() string          { return w.kind }
func (w *wait) TriggerPayload() (any, error) { return w.payload, nil }

func (w *wait) Execute(ctx *ActivityContext) (Signal, error) {
	if ctx.IsTriggerOfWorkflow() {
		_ = ctx.SetVariable("triggered_"+w.ID, true)
		return ctx.Complete(), nil
	}
	return ctx.Suspend(w.kind, w.payload)
}

func (w *wait) OnResume(ctx *ActivityContext, b schema.Bookmark) (Signal, error) {
	if ev := ctx.ResumeEvent(); ev != nil && ev.Input != nil {
		if err := ctx.Commit("input", ev.Input); err != nil {
			return SignalNone, err
		}
	}
	return ctx.Complete(), nil
}

// catch runs body and swallows its faults.
type catch struct {
	Node
	body Activity
}

func (c *catch) Children() []Activity { return []Activity{c.body} }

func (c *catch) Execute(ctx *ActivityContext) (Signal, error) {
	if err := ctx.Schedule(c.body, "try"); err != nil {
		return SignalNone, err
	}
	return ScheduledChildren, nil
}

func (c *catch) OnChildFaulted(ctx *ActivityContext, child ChildResult) (Signal, error) {
	if err := ctx.SetVariable("caught", child.Fault.Message); err != nil {
		return SignalNone, err
	}
	return ctx.Complete("Caught"), nil
}

func failing(id string, err error) *leaf {
	return &leaf{Node: Node{ID: id, Type: "Fail"}, fn: func(*ActivityContext) (Signal, error) { return SignalNone, err }}
}

type harness struct {
	t     *testing.T
	s     *Scheduler
	store *store.MemoryStore
	ids   int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{t: t, store: store.NewMemoryStore()}
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s, err := NewScheduler(
		WithAppender(h.store),
		WithClock(func() time.Time { clock = clock.Add(time.Millisecond); return clock }),
		WithIDGenerator(func() string { h.ids++; return fmt.Sprintf("id-%d", h.ids) }),
	)
	require.NoError(t, err)
	h.s = s
	return h
}

func (h *harness) build(root Activity) *Definition {
	h.t.Helper()
	def, err := NewBuilder("test").WithRoot(root).WithVariable("log", []any{}).Build()
	require.NoError(h.t, err)
	return def
}

func (h *harness) start(def *Definition) *schema.InstanceState {
	h.t.Helper()
	st, err := def.NewInstance("inst-1", nil, time.Now())
	require.NoError(h.t, err)
	require.NoError(h.t, h.s.Start(context.Background(), def, st, "", nil))
	return st
}

func logOf(st *schema.InstanceState) []any {
	v, _ := st.Variables["log"].([]any)
	return v
}
