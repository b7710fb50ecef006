package validation

import (
	"fmt"

	"github.com/rendis/waypoint/pkg/schema"
)

// validateFlowGraphs runs reachability analysis on every flowchart: a BFS
// from the start node over the connections. Unreachable nodes are warnings,
// and so is a graph in which no node is free of inbound edges when no start
// is given.
func validateFlowGraphs(def *schema.WorkflowDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	walkDefinition(&def.Root, "root", func(a *schema.ActivityDefinition, path string) {
		if len(a.Connections) == 0 {
			return
		}
		checkReachability(a, path, result)
	})
	return result
}

func checkReachability(a *schema.ActivityDefinition, path string, result *schema.ValidationResult) {
	next := make(map[string][]string, len(a.Children))
	inbound := make(map[string]int, len(a.Children))
	for _, c := range a.Connections {
		next[c.Source] = append(next[c.Source], c.Target)
		inbound[c.Target]++
	}

	start := a.Start
	if start == "" {
		for _, c := range a.Children {
			if inbound[c.ID] == 0 {
				start = c.ID
				break
			}
		}
	}
	if start == "" {
		result.Warn(path, "flowchart has no start node: every child has an inbound connection")
		return
	}

	reachable := map[string]bool{start: true}
	queue := []string{start}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		for _, target := range next[node] {
			if !reachable[target] {
				reachable[target] = true
				queue = append(queue, target)
			}
		}
	}

	for i, c := range a.Children {
		if !reachable[c.ID] {
			result.Warnf(fmt.Sprintf("%s.children[%d]", path, i),
				"activity %q is unreachable from flowchart start %q", c.ID, start)
		}
	}
}
