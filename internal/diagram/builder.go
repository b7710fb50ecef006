package diagram

import (
	"fmt"

	"github.com/rendis/waypoint/internal/activities"
	"github.com/rendis/waypoint/internal/engine"
	"github.com/rendis/waypoint/internal/store"
	"github.com/rendis/waypoint/internal/xjson"
)

const (
	startID = "__start__"
	endID   = "__end__"
)

// Build constructs a DiagramModel from a definition and optional activity
// records (from store.EventLog.Replay). A root Sequence is drawn as the main
// chain; every other composite gets SubGraph children.
func Build(def *engine.Definition, records map[string]*store.ActivityRecord) (*DiagramModel, error) {
	if def == nil || def.Root() == nil {
		return nil, fmt.Errorf("diagram: definition has no root activity")
	}

	top := []engine.Activity{def.Root()}
	if seq, ok := def.Root().(*activities.Sequence); ok && len(seq.Activities) > 0 {
		top = seq.Activities
	}

	nodes := make([]*Node, 0, len(top)+2)
	nodes = append(nodes, &Node{ID: startID, Label: "Start", Kind: NodeKindStart})
	levels := [][]string{{startID}}
	for _, act := range top {
		n := buildNode(act, records)
		nodes = append(nodes, n)
		levels = append(levels, []string{n.ID})
	}
	nodes = append(nodes, &Node{ID: endID, Label: "End", Kind: NodeKindEnd})
	levels = append(levels, []string{endID})

	edges := make([]Edge, 0, len(nodes)-1)
	for i := 1; i < len(nodes); i++ {
		edges = append(edges, Edge{From: nodes[i-1].ID, To: nodes[i].ID})
	}

	return &DiagramModel{
		Title:  titleFromDef(def),
		Nodes:  nodes,
		Edges:  edges,
		Levels: levels,
	}, nil
}

// buildNode maps an activity, and recursively its children, to a Node.
func buildNode(act engine.Activity, records map[string]*store.ActivityRecord) *Node {
	meta := act.Meta()
	node := &Node{
		ID:    meta.ID,
		Label: nodeLabel(act),
		Kind:  activityKind(act),
	}
	overlayStatus(node, records)

	switch a := act.(type) {
	case *activities.Sequence:
		node.Children = append(node.Children, chain("steps", a.Activities, records))
	case *activities.If:
		if a.Then != nil {
			node.Children = append(node.Children, chain(activities.OutcomeTrue, []engine.Activity{a.Then}, records))
		}
		if a.Else != nil {
			node.Children = append(node.Children, chain(activities.OutcomeFalse, []engine.Activity{a.Else}, records))
		}
	case *activities.Fork:
		for i, b := range a.Branches {
			node.Children = append(node.Children, chain(fmt.Sprintf("branch_%d", i), []engine.Activity{b}, records))
		}
	case *activities.ForEach:
		if a.Body != nil {
			node.Children = append(node.Children, chain("body", []engine.Activity{a.Body}, records))
		}
	case *activities.TryCatch:
		if a.Try != nil {
			node.Children = append(node.Children, chain("try", []engine.Activity{a.Try}, records))
		}
		if a.Catch != nil {
			node.Children = append(node.Children, chain("catch", []engine.Activity{a.Catch}, records))
		}
	case *activities.Flowchart:
		node.Children = append(node.Children, flow(a, records))
	default:
		if c, ok := act.(engine.Container); ok && len(c.Children()) > 0 {
			node.Children = append(node.Children, chain("children", c.Children(), records))
		}
	}
	return node
}

// chain draws acts in order, each connected to the next.
func chain(label string, acts []engine.Activity, records map[string]*store.ActivityRecord) *SubGraph {
	sg := &SubGraph{Label: label}
	for i, act := range acts {
		n := buildNode(act, records)
		if i > 0 {
			sg.Edges = append(sg.Edges, Edge{From: sg.Nodes[i-1].ID, To: n.ID})
		}
		sg.Nodes = append(sg.Nodes, n)
	}
	return sg
}

// flow draws a flowchart's nodes and its outcome-labelled connections.
// Connections reporting the default outcome are unlabelled.
func flow(f *activities.Flowchart, records map[string]*store.ActivityRecord) *SubGraph {
	sg := &SubGraph{Label: "flow"}
	for _, act := range f.Activities {
		sg.Nodes = append(sg.Nodes, buildNode(act, records))
	}
	for _, c := range f.Connections {
		if c.Source == nil || c.Target == nil {
			continue
		}
		label := c.Outcome
		if label == engine.OutcomeDone {
			label = ""
		}
		sg.Edges = append(sg.Edges, Edge{From: c.Source.Meta().ID, To: c.Target.Meta().ID, Label: label})
	}
	return sg
}

// activityKind picks the drawing shape for an activity.
func activityKind(act engine.Activity) NodeKind {
	if _, ok := act.(engine.Trigger); ok {
		return NodeKindTrigger
	}
	switch act.(type) {
	case *activities.If, *activities.FlowDecision, *activities.FlowSwitch:
		return NodeKindDecision
	case *activities.Fork:
		return NodeKindFork
	case *activities.ForEach:
		return NodeKindLoop
	case *activities.Sequence, *activities.TryCatch, *activities.Flowchart:
		return NodeKindScope
	default:
		return NodeKindActivity
	}
}

// nodeLabel creates a human-readable label for a node: the activity name
// (or ID) and, on a second line, its type.
func nodeLabel(act engine.Activity) string {
	meta := act.Meta()
	name := meta.Name
	if name == "" {
		name = meta.ID
	}
	detail := meta.Type
	switch a := act.(type) {
	case engine.Trigger:
		if kind := a.TriggerKind(); kind != "" && kind != meta.Type {
			detail += " " + kind
		}
		if payload, err := a.TriggerPayload(); err == nil && payload != nil {
			detail += fmt.Sprintf(" %v", payload)
		}
	case *activities.Fork:
		if a.Mode != "" {
			detail = fmt.Sprintf("%s %s", meta.Type, a.Mode)
		}
	}
	return fmt.Sprintf("%s\n(%s)", name, detail)
}

// overlayStatus applies the replayed activity record to a node.
func overlayStatus(node *Node, records map[string]*store.ActivityRecord) {
	rec, ok := records[node.ID]
	if !ok || rec == nil {
		return
	}
	node.Status = &StatusOverlay{
		Status:   string(rec.Status),
		Runs:     rec.Runs,
		Outcomes: rec.Outcomes,
	}
	if len(rec.Fault) > 0 {
		var fault struct {
			Message string `json:"message"`
		}
		if xjson.Unmarshal(rec.Fault, &fault) == nil && fault.Message != "" {
			node.Status.Error = fault.Message
		} else {
			node.Status.Error = string(rec.Fault)
		}
	}
}

// titleFromDef prefers the definition name over its ID.
func titleFromDef(def *engine.Definition) string {
	if def.Name() != "" {
		return def.Name()
	}
	return def.ID()
}
