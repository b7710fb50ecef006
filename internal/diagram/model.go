package diagram

import "strings"

// NodeKind classifies a diagram node by the activity it draws.
type NodeKind string

const (
	NodeKindActivity NodeKind = "activity"
	NodeKindDecision NodeKind = "decision"
	NodeKindFork     NodeKind = "fork"
	NodeKindLoop     NodeKind = "loop"
	NodeKindTrigger  NodeKind = "trigger"
	NodeKindScope    NodeKind = "scope"
	NodeKindStart    NodeKind = "start"
	NodeKindEnd      NodeKind = "end"
)

// DiagramModel is the intermediate representation used by all renderers.
type DiagramModel struct {
	Title  string
	Nodes  []*Node
	Edges  []Edge
	Levels [][]string
}

// Node represents a single activity in the diagram.
type Node struct {
	ID       string
	Label    string
	Kind     NodeKind
	Status   *StatusOverlay
	Children []*SubGraph // branches, loop body, scope contents
}

// SubGraph holds the activities nested in a composite: one per branch for
// If, Fork and TryCatch, the body for ForEach, the contents otherwise.
type SubGraph struct {
	Label string
	Nodes []*Node
	Edges []Edge
}

// StatusOverlay carries runtime state for a node.
type StatusOverlay struct {
	Status   string // from schema.ActivityStatus
	Runs     int
	Outcomes []string
	Error    string
}

// Edge connects two nodes; flowchart edges carry the outcome as Label.
type Edge struct {
	From  string
	To    string
	Label string
}

// walk calls fn for every node, nested ones included, depth first.
func (m *DiagramModel) walk(fn func(*Node)) {
	var visit func(nodes []*Node)
	visit = func(nodes []*Node) {
		for _, n := range nodes {
			fn(n)
			for _, sg := range n.Children {
				visit(sg.Nodes)
			}
		}
	}
	visit(m.Nodes)
}

func findNode(nodes []*Node, id string) *Node {
	for _, n := range nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

func firstLine(s string) string {
	head, _, _ := strings.Cut(s, "\n")
	return head
}
