package diagram

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	boxStyle  = lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(0, 1)
	rowGap    = "  "
	connector = lipgloss.NewStyle().PaddingLeft(6).Render("│\n▼")
)

var statusTags = map[string]string{
	"completed": "[OK]",
	"faulted":   "[FAULT]",
	"running":   "[RUN]",
	"waiting":   "[RUN]",
	"suspended": "[WAIT]",
	"cancelled": "[CANCEL]",
	"pending":   "[PEND]",
}

// statusTag is the bracketed marker for an activity status, "" when unknown.
func statusTag(status string) string { return statusTags[status] }

// RenderASCII draws the top-level nodes as rows of boxes, one row per level,
// followed by an indented outline of every composite's nested activities.
func RenderASCII(model *DiagramModel) string {
	var rows []string
	drawn := false
	if model.Title != "" {
		rows = append(rows, fmt.Sprintf("=== %s ===\n", model.Title))
	}
	for _, level := range model.Levels {
		var boxes []string
		for _, id := range level {
			if n := findNode(model.Nodes, id); n != nil {
				if len(boxes) > 0 {
					boxes = append(boxes, rowGap)
				}
				boxes = append(boxes, boxStyle.Render(boxContent(n)))
			}
		}
		if len(boxes) == 0 {
			continue
		}
		if drawn {
			rows = append(rows, connector)
		}
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, boxes...))
		drawn = true
	}

	var b strings.Builder
	b.WriteString(strings.Join(rows, "\n"))
	b.WriteByte('\n')
	for _, n := range model.Nodes {
		if len(n.Children) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n--- %s ---\n", n.ID)
		for _, sg := range n.Children {
			writeOutline(&b, sg, "  ")
		}
	}
	return b.String()
}

func boxContent(n *Node) string {
	lines := []string{n.Label}
	if n.Status != nil {
		if tag := statusTag(n.Status.Status); tag != "" {
			lines = append(lines, tag)
		}
		if n.Status.Runs > 1 {
			lines = append(lines, fmt.Sprintf("x%d", n.Status.Runs))
		}
	}
	return strings.Join(lines, "\n")
}

func writeOutline(b *strings.Builder, sg *SubGraph, indent string) {
	fmt.Fprintf(b, "%s[%s]\n", indent, sg.Label)
	for _, n := range sg.Nodes {
		line := strings.ReplaceAll(n.Label, "\n", " ")
		if n.Status != nil {
			if tag := statusTag(n.Status.Status); tag != "" {
				line += " " + tag
			}
		}
		fmt.Fprintf(b, "%s  %s\n", indent, line)
		for _, child := range n.Children {
			writeOutline(b, child, indent+"    ")
		}
	}
	for _, e := range sg.Edges {
		fmt.Fprintf(b, "%s  %s ─→ %s", indent, e.From, e.To)
		if e.Label != "" {
			fmt.Fprintf(b, " [%s]", e.Label)
		}
		b.WriteByte('\n')
	}
}
