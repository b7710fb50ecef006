package activities

import (
	"fmt"
	"io"
	"os"

	"github.com/rendis/waypoint/internal/binding"
	"github.com/rendis/waypoint/internal/engine"
	"github.com/rendis/waypoint/pkg/schema"
)

// Activity type names.
const (
	TypeWriteLine        = "WriteLine"
	TypeSetVariable      = "SetVariable"
	TypeCode             = "Code"
	TypeFault            = "Fault"
	TypeOutcome          = "Outcome"
	TypeSendHTTPRequest  = "SendHttpRequest"
	TypeSequence         = "Sequence"
	TypeIf               = "If"
	TypeFork             = "Fork"
	TypeForEach          = "ForEach"
	TypeFlowchart        = "Flowchart"
	TypeFlowDecision     = "FlowDecision"
	TypeFlowSwitch       = "FlowSwitch"
	TypeTryCatch         = "TryCatch"
	TypeEvent            = "Event"
	TypeCron             = "Cron"
	TypeDispatchWorkflow = "DispatchWorkflow"
)

// WriteLine writes a line of text to the engine.ServiceOutput writer, or
// stdout when none is registered.
type WriteLine struct {
	engine.Node
	Text binding.Input[string]
}

// NewWriteLine creates a WriteLine with a literal text.
func NewWriteLine(text string) *WriteLine {
	return &WriteLine{Node: engine.Node{Type: TypeWriteLine}, Text: binding.Value(text)}
}

func (a *WriteLine) Execute(ctx *engine.ActivityContext) (engine.Signal, error) {
	text, err := engine.Resolve(ctx, a.Text)
	if err != nil {
		return engine.SignalNone, err
	}
	w, ok := engine.ServiceAs[io.Writer](ctx.Services(), engine.ServiceOutput)
	if !ok {
		w = os.Stdout
	}
	if _, err := fmt.Fprintln(w, text); err != nil {
		return engine.SignalNone, schema.NewErrorf(schema.ErrCodeExecutionFault, "write line: %s", err.Error()).WithCause(err)
	}
	return ctx.Complete(), nil
}

// SetVariable assigns a resolved value to a workflow variable.
type SetVariable struct {
	engine.Node
	Variable string
	Value    binding.Input[any]
}

// NewSetVariable creates a SetVariable activity.
func NewSetVariable(variable string, value binding.Binding) *SetVariable {
	return &SetVariable{Node: engine.Node{Type: TypeSetVariable}, Variable: variable, Value: binding.In[any](value)}
}

func (a *SetVariable) Execute(ctx *engine.ActivityContext) (engine.Signal, error) {
	v, err := engine.Resolve(ctx, a.Value)
	if err != nil {
		return engine.SignalNone, err
	}
	if err := ctx.SetVariable(a.Variable, v); err != nil {
		return engine.SignalNone, err
	}
	return ctx.Complete(), nil
}

func (a *SetVariable) Validate(*engine.Definition) error {
	if a.Variable == "" {
		return schema.NewError(schema.ErrCodeValidation, "SetVariable requires a variable name").WithActivity(a.ID)
	}
	return nil
}

// CodeFunc is the body of a Code activity. A non-nil result is committed as
// the "result" output.
type CodeFunc func(ctx *engine.ActivityContext) (any, error)

// Code runs a Go function as a leaf activity.
type Code struct {
	engine.Node
	Fn CodeFunc
}

// NewCode creates a Code activity.
func NewCode(fn CodeFunc) *Code {
	return &Code{Node: engine.Node{Type: TypeCode}, Fn: fn}
}

func (a *Code) Execute(ctx *engine.ActivityContext) (engine.Signal, error) {
	if a.Fn == nil {
		return ctx.Complete(), nil
	}
	result, err := a.Fn(ctx)
	if err != nil {
		return engine.SignalNone, err
	}
	if result != nil {
		if err := ctx.Commit("result", result); err != nil {
			return engine.SignalNone, err
		}
	}
	return ctx.Complete(), nil
}

// Fault raises an execution fault with a resolved message.
type Fault struct {
	engine.Node
	Code    string
	Message binding.Input[string]
}

// NewFault creates a Fault activity.
func NewFault(message string) *Fault {
	return &Fault{Node: engine.Node{Type: TypeFault}, Message: binding.Value(message)}
}

func (a *Fault) Execute(ctx *engine.ActivityContext) (engine.Signal, error) {
	msg, err := engine.Resolve(ctx, a.Message)
	if err != nil {
		return engine.SignalNone, err
	}
	code := a.Code
	if code == "" {
		code = schema.ErrCodeExecutionFault
	}
	return engine.SignalNone, schema.NewError(code, msg).WithActivity(a.ID)
}

// Outcome completes with a resolved outcome name. It models task-like flow
// nodes whose exits are declared up front ("Pass", "Fail").
type Outcome struct {
	engine.Node
	Declared []string
	Value    binding.Input[string]
}

// NewOutcome creates an Outcome activity that completes with outcome, out of
// the declared set.
func NewOutcome(outcome string, declared ...string) *Outcome {
	return &Outcome{Node: engine.Node{Type: TypeOutcome}, Declared: declared, Value: binding.Value(outcome)}
}

func (a *Outcome) Outcomes() []string { return a.Declared }

func (a *Outcome) Execute(ctx *engine.ActivityContext) (engine.Signal, error) {
	name, err := engine.Resolve(ctx, a.Value)
	if err != nil {
		return engine.SignalNone, err
	}
	if len(a.Declared) > 0 && !contains(a.Declared, name) {
		return engine.SignalNone, schema.NewErrorf(schema.ErrCodeExecutionFault,
			"outcome %q is not one of %v", name, a.Declared).WithActivity(a.ID)
	}
	return ctx.Complete(name), nil
}

func (a *Outcome) Validate(*engine.Definition) error {
	v, ok := a.Value.LiteralValue()
	if !ok || len(a.Declared) == 0 {
		return nil
	}
	if s, _ := v.(string); !contains(a.Declared, s) {
		return schema.NewErrorf(schema.ErrCodeValidation, "outcome %v is not one of %v", v, a.Declared).WithActivity(a.ID)
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
