package activities

import (
	"github.com/robfig/cron/v3"

	"github.com/rendis/waypoint/internal/binding"
	"github.com/rendis/waypoint/internal/engine"
	"github.com/rendis/waypoint/pkg/schema"
)

// KindCron is the bookmark kind of Cron. Event bookmarks use the event name
// itself as their kind.
const KindCron = "Cron"

// CronParser parses the five-field expressions accepted by Cron (plus the
// @hourly style descriptors).
var CronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Event waits for a named event. As the trigger of a new instance it
// completes at once; anywhere else it suspends on a bookmark whose kind is
// the event name, so {kind: name} resumes it. The event's input is committed
// as the "input" output either way.
type Event struct {
	engine.Node
	EventName binding.Input[string]
}

// NewEvent creates an Event waiting for name.
func NewEvent(name string) *Event {
	return &Event{Node: engine.Node{Type: TypeEvent}, EventName: binding.Value(name)}
}

// TriggerKind is the literal event name, "" when the name is computed.
func (a *Event) TriggerKind() string {
	name, _ := a.literalName()
	return name
}

// TriggerPayload is always nil; it fails when the name is not a non-empty
// literal since no instance exists to evaluate it against.
func (a *Event) TriggerPayload() (any, error) {
	if _, err := a.literalName(); err != nil {
		return nil, err
	}
	return nil, nil
}

func (a *Event) literalName() (string, error) {
	v, ok := a.EventName.LiteralValue()
	if !ok {
		return "", schema.NewError(schema.ErrCodeValidation, "a startable event needs a literal event name").WithActivity(a.ID)
	}
	name, err := binding.Convert[string](v)
	if err != nil {
		return "", err
	}
	if name == "" {
		return "", schema.NewError(schema.ErrCodeValidation, "event name is empty").WithActivity(a.ID)
	}
	return name, nil
}

func (a *Event) Execute(ctx *engine.ActivityContext) (engine.Signal, error) {
	if ctx.IsTriggerOfWorkflow() {
		return a.accept(ctx)
	}
	name, err := engine.Resolve(ctx, a.EventName)
	if err != nil {
		return engine.SignalNone, err
	}
	if name == "" {
		return engine.SignalNone, schema.NewError(schema.ErrCodeBinding, "event name resolved to an empty string").WithActivity(a.ID)
	}
	return ctx.Suspend(name, nil)
}

func (a *Event) OnResume(ctx *engine.ActivityContext, _ schema.Bookmark) (engine.Signal, error) {
	return a.accept(ctx)
}

func (a *Event) accept(ctx *engine.ActivityContext) (engine.Signal, error) {
	if ev := ctx.ResumeEvent(); ev != nil && ev.Input != nil {
		if err := ctx.Commit("input", ev.Input); err != nil {
			return engine.SignalNone, err
		}
	}
	return ctx.Complete(), nil
}

// Cron waits for the cron driver to dispatch {kind: "Cron", payload:
// expression}. As a startable trigger it starts a new instance on every tick.
type Cron struct {
	engine.Node
	Expression string
}

// NewCron creates a Cron trigger.
func NewCron(expr string) *Cron {
	return &Cron{Node: engine.Node{Type: TypeCron}, Expression: expr}
}

func (a *Cron) TriggerKind() string          { return KindCron }
func (a *Cron) TriggerPayload() (any, error) { return a.Expression, nil }

func (a *Cron) Execute(ctx *engine.ActivityContext) (engine.Signal, error) {
	if ctx.IsTriggerOfWorkflow() {
		return ctx.Complete(), nil
	}
	return ctx.Suspend(KindCron, a.Expression)
}

func (a *Cron) Validate(*engine.Definition) error {
	if _, err := CronParser.Parse(a.Expression); err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "invalid cron expression %q: %s", a.Expression, err.Error()).
			WithActivity(a.ID).WithCause(err)
	}
	return nil
}
