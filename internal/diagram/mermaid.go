package diagram

import (
	"fmt"
	"strings"
)

// RenderMermaid renders a DiagramModel as a Mermaid flowchart string.
func RenderMermaid(model *DiagramModel) string {
	var b strings.Builder

	b.WriteString("graph TD\n")

	// Title as comment.
	if model.Title != "" {
		b.WriteString(fmt.Sprintf("    %%%% %s\n", model.Title))
	}

	writeMermaidNodes(&b, model.Nodes, "    ")

	for _, edge := range model.Edges {
		writeMermaidEdge(&b, edge, "    ")
	}

	// Status class definitions.
	b.WriteString("\n")
	b.WriteString("    classDef completed fill:#2d6a2d,stroke:#1a4a1a,color:#fff\n")
	b.WriteString("    classDef faulted fill:#8b1a1a,stroke:#5c0e0e,color:#fff\n")
	b.WriteString("    classDef running fill:#1a5276,stroke:#0e3a52,color:#fff\n")
	b.WriteString("    classDef suspended fill:#b7791a,stroke:#8a5c14,color:#fff\n")
	b.WriteString("    classDef pending fill:#6b6b6b,stroke:#4a4a4a,color:#fff\n")
	b.WriteString("    classDef cancelled fill:#4a4a4a,stroke:#333,color:#aaa,stroke-dasharray:5 5\n")

	model.walk(func(node *Node) {
		if node.Status == nil {
			return
		}
		if cls := mermaidStatusClass(node.Status.Status); cls != "" {
			b.WriteString(fmt.Sprintf("    class %s %s\n", mermaidSafeID(node.ID), cls))
		}
	})

	return b.String()
}

// writeMermaidNodes declares nodes and nests their children as subgraphs.
func writeMermaidNodes(b *strings.Builder, nodes []*Node, indent string) {
	for _, node := range nodes {
		b.WriteString(indent + mermaidNodeDef(node) + "\n")
		for _, sg := range node.Children {
			b.WriteString(fmt.Sprintf("%ssubgraph %s[\"%s: %s\"]\n",
				indent, mermaidSafeID(node.ID+"_"+sg.Label), node.ID, sg.Label))
			writeMermaidNodes(b, sg.Nodes, indent+"    ")
			for _, edge := range sg.Edges {
				writeMermaidEdge(b, edge, indent+"    ")
			}
			b.WriteString(indent + "end\n")
		}
	}
}

func writeMermaidEdge(b *strings.Builder, edge Edge, indent string) {
	label := ""
	if edge.Label != "" {
		label = fmt.Sprintf("|%s|", edge.Label)
	}
	b.WriteString(fmt.Sprintf("%s%s -->%s %s\n",
		indent, mermaidSafeID(edge.From), label, mermaidSafeID(edge.To)))
}

// mermaidNodeDef returns a Mermaid node definition with the appropriate shape.
func mermaidNodeDef(node *Node) string {
	id := mermaidSafeID(node.ID)
	label := mermaidEscapeLabel(firstLine(node.Label))

	switch node.Kind {
	case NodeKindDecision:
		return fmt.Sprintf("%s{%q}", id, label)
	case NodeKindTrigger:
		return fmt.Sprintf("%s([%q])", id, label)
	case NodeKindFork, NodeKindLoop:
		return fmt.Sprintf("%s[[%q]]", id, label)
	case NodeKindScope:
		return fmt.Sprintf("%s[/%q/]", id, label)
	case NodeKindStart, NodeKindEnd:
		return fmt.Sprintf("%s((%q))", id, label)
	default: // activity
		return fmt.Sprintf("%s[%q]", id, label)
	}
}

// mermaidSafeID converts a node ID to a Mermaid-safe identifier.
// Replaces dots, dashes and spaces with underscores.
func mermaidSafeID(id string) string {
	r := strings.NewReplacer(".", "_", "-", "_", " ", "_")
	return r.Replace(id)
}

// mermaidEscapeLabel replaces quotes, which %q would otherwise escape with
// backslashes Mermaid does not understand.
func mermaidEscapeLabel(s string) string {
	return strings.ReplaceAll(s, `"`, "'")
}

// mermaidStatusClass maps an activity status to a Mermaid class name.
func mermaidStatusClass(status string) string {
	switch status {
	case "completed":
		return "completed"
	case "faulted":
		return "faulted"
	case "running", "waiting":
		return "running"
	case "suspended":
		return "suspended"
	case "pending":
		return "pending"
	case "cancelled":
		return "cancelled"
	default:
		return ""
	}
}
