package activities

import (
	"github.com/rendis/waypoint/internal/binding"
	"github.com/rendis/waypoint/internal/engine"
	"github.com/rendis/waypoint/pkg/schema"
)

// Sequence runs its activities one after another.
type Sequence struct {
	engine.Node
	Activities []engine.Activity
}

// NewSequence creates a Sequence.
func NewSequence(acts ...engine.Activity) *Sequence {
	return &Sequence{Node: engine.Node{Type: TypeSequence}, Activities: acts}
}

func (a *Sequence) Children() []engine.Activity { return a.Activities }

func (a *Sequence) Execute(ctx *engine.ActivityContext) (engine.Signal, error) {
	return a.scheduleAt(ctx, 0)
}

func (a *Sequence) OnChildCompleted(ctx *engine.ActivityContext, _ engine.ChildResult) (engine.Signal, error) {
	return a.scheduleAt(ctx, ctx.IntProperty("index", 0)+1)
}

func (a *Sequence) scheduleAt(ctx *engine.ActivityContext, i int) (engine.Signal, error) {
	if i >= len(a.Activities) {
		return ctx.Complete(), nil
	}
	if err := ctx.SetProperty("index", i); err != nil {
		return engine.SignalNone, err
	}
	if err := ctx.Schedule(a.Activities[i], ""); err != nil {
		return engine.SignalNone, err
	}
	return engine.ScheduledChildren, nil
}

// If schedules Then or Else depending on Condition and completes with the
// outcome "True" or "False" once that branch finishes.
type If struct {
	engine.Node
	Condition binding.Input[bool]
	Then      engine.Activity
	Else      engine.Activity
}

const (
	OutcomeTrue  = "True"
	OutcomeFalse = "False"
)

// NewIf creates an If.
func NewIf(cond binding.Binding, then, els engine.Activity) *If {
	return &If{Node: engine.Node{Type: TypeIf}, Condition: binding.In[bool](cond), Then: then, Else: els}
}

func (a *If) Outcomes() []string { return []string{OutcomeTrue, OutcomeFalse} }

func (a *If) Children() []engine.Activity {
	var out []engine.Activity
	if a.Then != nil {
		out = append(out, a.Then)
	}
	if a.Else != nil {
		out = append(out, a.Else)
	}
	return out
}

func (a *If) Execute(ctx *engine.ActivityContext) (engine.Signal, error) {
	cond, err := engine.Resolve(ctx, a.Condition)
	if err != nil {
		return engine.SignalNone, err
	}
	branch, outcome := a.Else, OutcomeFalse
	if cond {
		branch, outcome = a.Then, OutcomeTrue
	}
	if branch == nil {
		return ctx.Complete(outcome), nil
	}
	if err := ctx.Schedule(branch, outcome); err != nil {
		return engine.SignalNone, err
	}
	return engine.ScheduledChildren, nil
}

func (a *If) OnChildCompleted(ctx *engine.ActivityContext, child engine.ChildResult) (engine.Signal, error) {
	return ctx.Complete(child.Tag), nil
}

// JoinMode decides when a Fork completes.
type JoinMode string

const (
	// WaitAll completes after every branch has completed.
	WaitAll JoinMode = "WaitAll"
	// WaitAny completes after the first branch and cancels the rest.
	WaitAny JoinMode = "WaitAny"
)

// Fork schedules all branches at once.
type Fork struct {
	engine.Node
	Mode     JoinMode
	Branches []engine.Activity
}

// NewFork creates a Fork.
func NewFork(mode JoinMode, branches ...engine.Activity) *Fork {
	return &Fork{Node: engine.Node{Type: TypeFork}, Mode: mode, Branches: branches}
}

func (a *Fork) Children() []engine.Activity { return a.Branches }

func (a *Fork) Execute(ctx *engine.ActivityContext) (engine.Signal, error) {
	if len(a.Branches) == 0 {
		return ctx.Complete(), nil
	}
	for _, b := range a.Branches {
		if err := ctx.Schedule(b, ""); err != nil {
			return engine.SignalNone, err
		}
	}
	return engine.ScheduledChildren, nil
}

func (a *Fork) OnChildCompleted(ctx *engine.ActivityContext, _ engine.ChildResult) (engine.Signal, error) {
	if a.Mode == WaitAny {
		ctx.CancelChildren()
		return ctx.Complete(), nil
	}
	if ctx.PendingChildren() > 0 {
		return engine.ScheduledChildren, nil
	}
	return ctx.Complete(), nil
}

func (a *Fork) Validate(*engine.Definition) error {
	switch a.Mode {
	case "", WaitAll, WaitAny:
		return nil
	default:
		return schema.NewErrorf(schema.ErrCodeValidation, "unknown fork mode %q", a.Mode).WithActivity(a.ID)
	}
}

// ForEach runs Body once per item, sequentially, with the current item in
// the Variable variable and its index in the "index" output.
type ForEach struct {
	engine.Node
	Items    binding.Input[[]any]
	Variable string
	Body     engine.Activity
}

// NewForEach creates a ForEach.
func NewForEach(items binding.Binding, variable string, body engine.Activity) *ForEach {
	return &ForEach{Node: engine.Node{Type: TypeForEach}, Items: binding.In[[]any](items), Variable: variable, Body: body}
}

func (a *ForEach) Children() []engine.Activity {
	if a.Body == nil {
		return nil
	}
	return []engine.Activity{a.Body}
}

func (a *ForEach) Execute(ctx *engine.ActivityContext) (engine.Signal, error) {
	items, err := engine.Resolve(ctx, a.Items)
	if err != nil {
		return engine.SignalNone, err
	}
	if err := ctx.SetProperty("items", items); err != nil {
		return engine.SignalNone, err
	}
	return a.iterate(ctx, items, 0)
}

func (a *ForEach) OnChildCompleted(ctx *engine.ActivityContext, _ engine.ChildResult) (engine.Signal, error) {
	raw, _ := ctx.Property("items")
	items, _ := raw.([]any)
	return a.iterate(ctx, items, ctx.IntProperty("index", 0)+1)
}

func (a *ForEach) iterate(ctx *engine.ActivityContext, items []any, i int) (engine.Signal, error) {
	if i >= len(items) || a.Body == nil {
		return ctx.Complete(), nil
	}
	if err := ctx.SetProperty("index", i); err != nil {
		return engine.SignalNone, err
	}
	if a.Variable != "" {
		if err := ctx.SetVariable(a.Variable, items[i]); err != nil {
			return engine.SignalNone, err
		}
	}
	if err := ctx.SetOutput("index", i); err != nil {
		return engine.SignalNone, err
	}
	if err := ctx.Schedule(a.Body, ""); err != nil {
		return engine.SignalNone, err
	}
	return engine.ScheduledChildren, nil
}

// TryCatch contains faults raised inside Try. On a fault the fault is stored
// in FaultVariable (as {code, message, activity_id}) and Catch runs; the
// activity then completes with "Caught". Faults raised by Catch propagate.
type TryCatch struct {
	engine.Node
	Try           engine.Activity
	Catch         engine.Activity
	FaultVariable string
}

// OutcomeCaught is reported by TryCatch after handling a fault.
const OutcomeCaught = "Caught"

// NewTryCatch creates a TryCatch.
func NewTryCatch(try, catch engine.Activity) *TryCatch {
	return &TryCatch{Node: engine.Node{Type: TypeTryCatch}, Try: try, Catch: catch}
}

func (a *TryCatch) Outcomes() []string { return []string{engine.OutcomeDone, OutcomeCaught} }

func (a *TryCatch) Children() []engine.Activity {
	var out []engine.Activity
	if a.Try != nil {
		out = append(out, a.Try)
	}
	if a.Catch != nil {
		out = append(out, a.Catch)
	}
	return out
}

func (a *TryCatch) Execute(ctx *engine.ActivityContext) (engine.Signal, error) {
	if a.Try == nil {
		return ctx.Complete(), nil
	}
	if err := ctx.Schedule(a.Try, "try"); err != nil {
		return engine.SignalNone, err
	}
	return engine.ScheduledChildren, nil
}

func (a *TryCatch) OnChildCompleted(ctx *engine.ActivityContext, child engine.ChildResult) (engine.Signal, error) {
	if child.Tag == "catch" {
		return ctx.Complete(OutcomeCaught), nil
	}
	return ctx.Complete(), nil
}

func (a *TryCatch) OnChildFaulted(ctx *engine.ActivityContext, child engine.ChildResult) (engine.Signal, error) {
	if child.Tag == "catch" {
		return engine.SignalNone, child.Fault.AsError()
	}
	ctx.Logger().Info("fault caught", "faulted_activity", child.Fault.ActivityID, "code", child.Fault.Code)
	if a.FaultVariable != "" {
		err := ctx.SetVariable(a.FaultVariable, map[string]any{
			"code":        child.Fault.Code,
			"message":     child.Fault.Message,
			"activity_id": child.Fault.ActivityID,
		})
		if err != nil {
			return engine.SignalNone, err
		}
	}
	if a.Catch == nil {
		return ctx.Complete(OutcomeCaught), nil
	}
	if err := ctx.Schedule(a.Catch, "catch"); err != nil {
		return engine.SignalNone, err
	}
	return engine.ScheduledChildren, nil
}
