package engine

import (
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/rendis/waypoint/internal/bookmarks"
	"github.com/rendis/waypoint/internal/xjson"
	"github.com/rendis/waypoint/pkg/schema"
)

// Definition is an immutable, built workflow: a root activity plus declared
// inputs and variables, with every node indexed by ID.
type Definition struct {
	id        string
	version   int
	name      string
	inputs    []schema.InputDefinition
	variables []schema.VariableDefinition
	root      Activity
	nodes     map[string]Activity
	order     []string
	names     map[string]string
	triggers  []schema.TriggerDescriptor
	source    *schema.WorkflowDefinition
}

func (d *Definition) ID() string     { return d.id }
func (d *Definition) Version() int   { return d.version }
func (d *Definition) Name() string   { return d.name }
func (d *Definition) Root() Activity { return d.root }
func (d *Definition) Inputs() []schema.InputDefinition {
	return append([]schema.InputDefinition(nil), d.inputs...)
}
func (d *Definition) Variables() []schema.VariableDefinition {
	return append([]schema.VariableDefinition(nil), d.variables...)
}

// Source returns the JSON form the definition was loaded from, or nil for
// code-built definitions.
func (d *Definition) Source() *schema.WorkflowDefinition { return d.source }

// Node returns the activity with the given ID.
func (d *Definition) Node(id string) (Activity, bool) {
	a, ok := d.nodes[id]
	return a, ok
}

// Resolve maps an activity ID or unique name to its ID.
func (d *Definition) Resolve(idOrName string) (string, bool) {
	if _, ok := d.nodes[idOrName]; ok {
		return idOrName, true
	}
	id, ok := d.names[idOrName]
	return id, ok
}

// Nodes returns every activity in depth-first order.
func (d *Definition) Nodes() []Activity {
	out := make([]Activity, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.nodes[id])
	}
	return out
}

// Triggers returns the startable trigger descriptors.
func (d *Definition) Triggers() []schema.TriggerDescriptor {
	return append([]schema.TriggerDescriptor(nil), d.triggers...)
}

// NewInstance creates the initial state of an instance: variables set to
// their declared defaults, inputs recorded, nothing scheduled yet.
func (d *Definition) NewInstance(id string, inputs map[string]any, now time.Time) (*schema.InstanceState, error) {
	vars := make(map[string]any, len(d.variables))
	for _, v := range d.variables {
		norm, err := xjson.Normalize(v.Default)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "variable %q default: %s", v.Name, err.Error())
		}
		vars[v.Name] = norm
	}
	var in map[string]any
	if len(inputs) > 0 {
		norm, err := xjson.Normalize(inputs)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "inputs: %s", err.Error())
		}
		in, _ = norm.(map[string]any)
	}
	return &schema.InstanceState{
		ID:                id,
		DefinitionID:      d.id,
		DefinitionVersion: d.version,
		Status:            schema.InstanceStatusPending,
		Inputs:            in,
		Variables:         vars,
		Outputs:           make(map[string]map[string]any),
		Executions:        make(map[string]*schema.Execution),
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// Builder assembles a Definition. Activities without an ID get one derived
// from their type ("writeLine1", "writeLine2", ...) in depth-first order.
type Builder struct {
	id        string
	version   int
	name      string
	inputs    []schema.InputDefinition
	variables []schema.VariableDefinition
	root      Activity
	source    *schema.WorkflowDefinition
}

// NewBuilder starts a definition with the given ID.
func NewBuilder(id string) *Builder {
	return &Builder{id: id, version: 1}
}

func (b *Builder) WithVersion(v int) *Builder    { b.version = v; return b }
func (b *Builder) WithName(name string) *Builder { b.name = name; return b }
func (b *Builder) WithRoot(a Activity) *Builder  { b.root = a; return b }

// WithInput declares a workflow input.
func (b *Builder) WithInput(in schema.InputDefinition) *Builder {
	b.inputs = append(b.inputs, in)
	return b
}

// WithVariable declares a workflow variable with its initial value.
func (b *Builder) WithVariable(name string, initial any) *Builder {
	b.variables = append(b.variables, schema.VariableDefinition{Name: name, Default: initial})
	return b
}

// WithVariableDefinition declares a typed workflow variable.
func (b *Builder) WithVariableDefinition(v schema.VariableDefinition) *Builder {
	b.variables = append(b.variables, v)
	return b
}

// WithSource records the JSON form the definition was loaded from.
func (b *Builder) WithSource(src *schema.WorkflowDefinition) *Builder {
	b.source = src
	return b
}

// Build validates the tree and produces an immutable Definition.
func (b *Builder) Build() (*Definition, error) {
	res := &schema.ValidationResult{}
	if b.id == "" {
		res.Fail("id", "definition id is required")
	}
	if b.version < 1 {
		res.Failf("version", "version must be >= 1, got %d", b.version)
	}
	if b.root == nil {
		res.Fail("root", "root activity is required")
	}
	if !res.Valid() {
		return nil, res.Err()
	}

	walk, err := flatten(b.root)
	if err != nil {
		return nil, err
	}

	def := &Definition{
		id:        b.id,
		version:   b.version,
		name:      b.name,
		inputs:    append([]schema.InputDefinition(nil), b.inputs...),
		variables: append([]schema.VariableDefinition(nil), b.variables...),
		root:      b.root,
		nodes:     make(map[string]Activity, len(walk)),
		names:     make(map[string]string),
		source:    b.source,
	}

	assignIDs(walk, res)
	ambiguous := map[string]bool{}
	for i, a := range walk {
		n := a.Meta()
		if _, dup := def.nodes[n.ID]; dup {
			res.Failf(nodePath(i, n), "duplicate activity id %q", n.ID)
			continue
		}
		def.nodes[n.ID] = a
		def.order = append(def.order, n.ID)
		if n.Name != "" {
			if _, seen := def.names[n.Name]; seen {
				ambiguous[n.Name] = true
			}
			def.names[n.Name] = n.ID
		}
	}
	for name := range ambiguous {
		delete(def.names, name)
	}

	seenInputs := map[string]bool{}
	for i, in := range def.inputs {
		if in.Name == "" || seenInputs[in.Name] {
			res.Failf("inputs["+strconv.Itoa(i)+"]", "input name %q is empty or duplicated", in.Name)
		}
		seenInputs[in.Name] = true
	}
	seenVars := map[string]bool{}
	for i, v := range def.variables {
		if v.Name == "" || seenVars[v.Name] {
			res.Failf("variables["+strconv.Itoa(i)+"]", "variable name %q is empty or duplicated", v.Name)
		}
		seenVars[v.Name] = true
	}
	if !res.Valid() {
		return nil, res.Err()
	}

	for _, a := range walk {
		if v, ok := a.(Validator); ok {
			if err := v.Validate(def); err != nil {
				return nil, err
			}
		}
	}

	triggers, err := collectTriggers(def, walk)
	if err != nil {
		return nil, err
	}
	def.triggers = triggers
	return def, nil
}

// flatten lists the tree in depth-first pre-order using an explicit stack.
func flatten(root Activity) ([]Activity, error) {
	var out []Activity
	seen := make(map[*Node]bool)
	stack := []Activity{root}
	for len(stack) > 0 {
		a := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if a == nil {
			return nil, schema.NewError(schema.ErrCodeValidation, "nil activity in tree")
		}
		n := a.Meta()
		if n == nil {
			return nil, schema.NewError(schema.ErrCodeValidation, "activity has no metadata")
		}
		if seen[n] {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"activity %s (%s) appears more than once in the tree", n.ID, n.Type)
		}
		seen[n] = true
		out = append(out, a)
		if c, ok := a.(Container); ok {
			kids := c.Children()
			for i := len(kids) - 1; i >= 0; i-- {
				stack = append(stack, kids[i])
			}
		}
	}
	return out, nil
}

func assignIDs(walk []Activity, res *schema.ValidationResult) {
	taken := make(map[string]bool, len(walk))
	for _, a := range walk {
		if id := a.Meta().ID; id != "" {
			taken[id] = true
		}
	}
	counters := make(map[string]int)
	for i, a := range walk {
		n := a.Meta()
		if n.Type == "" {
			res.Fail(nodePath(i, n), "activity type is required")
			continue
		}
		if n.ID != "" {
			continue
		}
		prefix := lowerFirst(n.Type)
		for {
			counters[prefix]++
			id := prefix + strconv.Itoa(counters[prefix])
			if !taken[id] {
				n.ID = id
				taken[id] = true
				break
			}
		}
	}
}

func collectTriggers(def *Definition, walk []Activity) ([]schema.TriggerDescriptor, error) {
	var out []schema.TriggerDescriptor
	for i, a := range walk {
		n := a.Meta()
		trig, isTrigger := a.(Trigger)
		if n.CanStart && !isTrigger {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"activity %s (%s) is marked can_start but is not a trigger", n.ID, n.Type).WithActivity(n.ID)
		}
		if !isTrigger || (i != 0 && !n.CanStart) {
			continue
		}
		payload, err := trig.TriggerPayload()
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation,
				"trigger %s payload: %s", n.ID, err.Error()).WithActivity(n.ID).WithCause(err)
		}
		norm, err := xjson.Normalize(payload)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "trigger %s payload: %s", n.ID, err.Error()).WithActivity(n.ID)
		}
		h, err := bookmarks.Hash(norm)
		if err != nil {
			return nil, err
		}
		out = append(out, schema.TriggerDescriptor{
			DefinitionID: def.id,
			Version:      def.version,
			ActivityID:   n.ID,
			Kind:         trig.TriggerKind(),
			Payload:      norm,
			PayloadHash:  h,
		})
	}
	return out, nil
}

func nodePath(i int, n *Node) string {
	if n.ID != "" {
		return "activities." + n.ID
	}
	return "activities[" + strconv.Itoa(i) + "]"
}

func lowerFirst(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToLower(r[0])
	return string(r)
}
