package activities

import (
	"github.com/rendis/waypoint/internal/binding"
	"github.com/rendis/waypoint/internal/engine"
	"github.com/rendis/waypoint/pkg/schema"
)

// Connection routes the named outcome of Source to Target.
type Connection struct {
	Source  engine.Activity
	Outcome string // defaults to "Done"
	Target  engine.Activity
}

func (c Connection) outcome() string {
	if c.Outcome == "" {
		return engine.OutcomeDone
	}
	return c.Outcome
}

// Flowchart executes a graph of activities connected by outcome-labelled
// edges. When a node completes, every edge whose outcome the node reported
// schedules its target. A target with several inbound edges runs once per
// edge that fires; there is no implicit join. The flowchart completes when
// no node is left running.
type Flowchart struct {
	engine.Node
	Activities  []engine.Activity
	Connections []Connection
	// Start is the entry node. When nil, the first activity without inbound
	// connections is used.
	Start engine.Activity
}

// NewFlowchart creates a Flowchart.
func NewFlowchart(acts ...engine.Activity) *Flowchart {
	return &Flowchart{Node: engine.Node{Type: TypeFlowchart}, Activities: acts}
}

// Connect adds an edge and returns the flowchart for chaining.
func (f *Flowchart) Connect(source engine.Activity, outcome string, target engine.Activity) *Flowchart {
	f.Connections = append(f.Connections, Connection{Source: source, Outcome: outcome, Target: target})
	return f
}

func (f *Flowchart) Children() []engine.Activity { return f.Activities }

func (f *Flowchart) Execute(ctx *engine.ActivityContext) (engine.Signal, error) {
	start := f.startNode()
	if start == nil {
		return ctx.Complete(), nil
	}
	if err := ctx.Schedule(start, ""); err != nil {
		return engine.SignalNone, err
	}
	return engine.ScheduledChildren, nil
}

func (f *Flowchart) OnChildCompleted(ctx *engine.ActivityContext, child engine.ChildResult) (engine.Signal, error) {
	for _, c := range f.Connections {
		if c.Source.Meta().ID != child.ActivityID || !child.HasOutcome(c.outcome()) {
			continue
		}
		if err := ctx.Schedule(c.Target, ""); err != nil {
			return engine.SignalNone, err
		}
	}
	if ctx.PendingChildren() > 0 {
		return engine.ScheduledChildren, nil
	}
	return ctx.Complete(), nil
}

func (f *Flowchart) startNode() engine.Activity {
	if f.Start != nil {
		return f.Start
	}
	inbound := make(map[*engine.Node]bool, len(f.Connections))
	for _, c := range f.Connections {
		inbound[c.Target.Meta()] = true
	}
	for _, a := range f.Activities {
		if !inbound[a.Meta()] {
			return a
		}
	}
	if len(f.Activities) > 0 {
		return f.Activities[0]
	}
	return nil
}

// Validate checks that every edge connects member nodes and that each
// outcome is one its source declares.
func (f *Flowchart) Validate(*engine.Definition) error {
	members := make(map[*engine.Node]engine.Activity, len(f.Activities))
	for _, a := range f.Activities {
		members[a.Meta()] = a
	}
	res := &schema.ValidationResult{}
	path := "activities." + f.ID
	if f.Start != nil && members[f.Start.Meta()] == nil {
		res.Fail(path+".start", "start node is not part of the flowchart")
	}
	for i, c := range f.Connections {
		if c.Source == nil || c.Target == nil {
			res.Failf(path, "connection %d has a nil endpoint", i)
			continue
		}
		src, ok := members[c.Source.Meta()]
		if !ok {
			res.Failf(path, "connection source %s is not part of the flowchart", c.Source.Meta().ID)
			continue
		}
		if members[c.Target.Meta()] == nil {
			res.Failf(path, "connection target %s is not part of the flowchart", c.Target.Meta().ID)
			continue
		}
		if d, ok := src.(engine.OutcomeDeclarer); ok && !contains(d.Outcomes(), c.outcome()) {
			res.Failf(path, "activity %s does not declare outcome %q (declares %v)",
				src.Meta().ID, c.outcome(), d.Outcomes())
		}
	}
	return res.Err()
}

// FlowDecision completes with "True" or "False" depending on Condition.
type FlowDecision struct {
	engine.Node
	Condition binding.Input[bool]
}

// NewFlowDecision creates a FlowDecision.
func NewFlowDecision(cond binding.Binding) *FlowDecision {
	return &FlowDecision{Node: engine.Node{Type: TypeFlowDecision}, Condition: binding.In[bool](cond)}
}

func (a *FlowDecision) Outcomes() []string { return []string{OutcomeTrue, OutcomeFalse} }

func (a *FlowDecision) Execute(ctx *engine.ActivityContext) (engine.Signal, error) {
	ok, err := engine.Resolve(ctx, a.Condition)
	if err != nil {
		return engine.SignalNone, err
	}
	if ok {
		return ctx.Complete(OutcomeTrue), nil
	}
	return ctx.Complete(OutcomeFalse), nil
}

// SwitchCase is one labelled condition of a FlowSwitch.
type SwitchCase struct {
	Label     string
	Condition binding.Input[bool]
}

// FlowSwitch branches N ways: it completes with the label of the first case
// whose condition holds (or every such label when MatchAll is set), and with
// "Default" when none does.
type FlowSwitch struct {
	engine.Node
	Cases    []SwitchCase
	MatchAll bool
}

// OutcomeDefault is reported by FlowSwitch when no case matches.
const OutcomeDefault = "Default"

func (a *FlowSwitch) Outcomes() []string {
	out := make([]string, 0, len(a.Cases)+1)
	for _, c := range a.Cases {
		out = append(out, c.Label)
	}
	return append(out, OutcomeDefault)
}

func (a *FlowSwitch) Execute(ctx *engine.ActivityContext) (engine.Signal, error) {
	var matched []string
	for _, c := range a.Cases {
		ok, err := engine.Resolve(ctx, c.Condition)
		if err != nil {
			return engine.SignalNone, err
		}
		if !ok {
			continue
		}
		matched = append(matched, c.Label)
		if !a.MatchAll {
			break
		}
	}
	if len(matched) == 0 {
		matched = []string{OutcomeDefault}
	}
	return ctx.Complete(matched...), nil
}

func (a *FlowSwitch) Validate(*engine.Definition) error {
	seen := map[string]bool{OutcomeDefault: true}
	for _, c := range a.Cases {
		if c.Label == "" || seen[c.Label] {
			return schema.NewErrorf(schema.ErrCodeValidation, "switch case label %q is empty or duplicated", c.Label).WithActivity(a.ID)
		}
		seen[c.Label] = true
	}
	return nil
}
