package validation

import (
	"fmt"
	"sort"

	"github.com/rendis/waypoint/pkg/schema"
)

// treeIndex collects what semantic checks need to know about the whole tree.
type treeIndex struct {
	ids       map[string]string // id -> path of first occurrence
	names     map[string]bool
	variables map[string]bool
}

// validateSemantic checks what the JSON Schema cannot express: registered
// activity types, unique IDs, output references, declared variables and
// flowchart edges.
func validateSemantic(def *schema.WorkflowDefinition, lookup ActivityLookup) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	idx := &treeIndex{
		ids:       make(map[string]string),
		names:     make(map[string]bool),
		variables: make(map[string]bool, len(def.Variables)),
	}
	for _, v := range def.Variables {
		idx.variables[v.Name] = true
	}

	walkDefinition(&def.Root, "root", func(a *schema.ActivityDefinition, path string) {
		if lookup != nil && !lookup.Has(a.Type) {
			result.Failf(path+".type", "activity type %q not registered", a.Type)
		}
		if a.ID != "" {
			if first, dup := idx.ids[a.ID]; dup {
				result.Failf(path+".id", "duplicate activity id %q (first used at %s)", a.ID, first)
			} else {
				idx.ids[a.ID] = path
			}
		}
		if a.Name != "" {
			idx.names[a.Name] = true
		}
	})

	walkDefinition(&def.Root, "root", func(a *schema.ActivityDefinition, path string) {
		validateBindings(a, path, idx, result)
		validateConnections(a, path, result)
	})
	return result
}

func validateBindings(a *schema.ActivityDefinition, path string, idx *treeIndex, result *schema.ValidationResult) {
	for _, name := range sortedKeys(a.Inputs) {
		b := a.Inputs[name]
		p := path + ".inputs." + name
		if ref := b.Output; ref != nil {
			if _, ok := idx.ids[ref.Activity]; !ok && !idx.names[ref.Activity] {
				result.Failf(p, "references unknown activity %q", ref.Activity)
			}
		}
		if b.Variable != "" && !idx.variables[b.Variable] {
			result.Warnf(p, "variable %q is not declared", b.Variable)
		}
	}
	for _, out := range sortedKeys(a.Outputs) {
		if v := a.Outputs[out]; !idx.variables[v] {
			result.Warnf(path+".outputs."+out, "variable %q is not declared", v)
		}
	}
}

// validateConnections checks that flowchart edges and the start node name
// direct children.
func validateConnections(a *schema.ActivityDefinition, path string, result *schema.ValidationResult) {
	if len(a.Connections) == 0 && a.Start == "" {
		return
	}
	local := make(map[string]bool, len(a.Children))
	for _, c := range a.Children {
		if c.ID != "" {
			local[c.ID] = true
		}
	}
	for i, conn := range a.Connections {
		p := fmt.Sprintf("%s.connections[%d]", path, i)
		if !local[conn.Source] {
			result.Failf(p+".source", "references non-existent child %q", conn.Source)
		}
		if !local[conn.Target] {
			result.Failf(p+".target", "references non-existent child %q", conn.Target)
		}
	}
	if a.Start != "" && !local[a.Start] {
		result.Failf(path+".start", "references non-existent child %q", a.Start)
	}
}

// walkDefinition visits the tree depth-first: children in order, then slots
// sorted by name.
func walkDefinition(a *schema.ActivityDefinition, path string, visit func(*schema.ActivityDefinition, string)) {
	visit(a, path)
	for i := range a.Children {
		walkDefinition(&a.Children[i], fmt.Sprintf("%s.children[%d]", path, i), visit)
	}
	for _, name := range sortedKeys(a.Slots) {
		slot := a.Slots[name]
		walkDefinition(&slot, path+".slots."+name, visit)
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
