package activities

import (
	"sort"
	"strconv"

	"github.com/rendis/waypoint/internal/binding"
	"github.com/rendis/waypoint/internal/engine"
	"github.com/rendis/waypoint/internal/xjson"
	"github.com/rendis/waypoint/pkg/schema"
)

// Loader turns JSON workflow definitions into engine definitions using the
// constructors of a Registry.
type Loader struct {
	registry *Registry
}

// NewLoader creates a Loader over r.
func NewLoader(r *Registry) *Loader {
	return &Loader{registry: r}
}

// Load builds and validates a definition.
func (l *Loader) Load(wd *schema.WorkflowDefinition) (*engine.Definition, error) {
	if wd == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "workflow definition is nil")
	}
	root, err := l.Activity(&wd.Root, "root")
	if err != nil {
		return nil, err
	}
	version := wd.Version
	if version == 0 {
		version = 1
	}
	b := engine.NewBuilder(wd.ID).
		WithVersion(version).
		WithName(wd.Name).
		WithRoot(root).
		WithSource(wd)
	for _, in := range wd.Inputs {
		b.WithInput(in)
	}
	for _, v := range wd.Variables {
		b.WithVariableDefinition(v)
	}
	return b.Build()
}

// Activity constructs a single activity and, through its constructor, its
// descendants.
func (l *Loader) Activity(def *schema.ActivityDefinition, path string) (engine.Activity, error) {
	if def.Type == "" {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "%s: activity type is required", path)
	}
	desc, err := l.registry.Get(def.Type)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "%s: unknown activity type %q", path, def.Type).WithCause(err)
	}
	names := make([]string, 0, len(def.Inputs))
	for name := range def.Inputs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if !desc.hasInput(name) {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "%s: %s has no input %q", path, def.Type, name)
		}
	}
	a, err := desc.Construct(&ConstructContext{Def: def, Descriptor: desc, loader: l, path: path})
	if err != nil {
		return nil, err
	}
	if a == nil || a.Meta() == nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "%s: constructor for %s returned no activity", path, def.Type)
	}
	return a, nil
}

// ConstructContext gives constructors access to the definition being loaded.
type ConstructContext struct {
	Def        *schema.ActivityDefinition
	Descriptor Descriptor
	loader     *Loader
	path       string
}

// Node returns the metadata block for the activity under construction.
func (c *ConstructContext) Node() engine.Node {
	return engine.Node{
		ID:          c.Def.ID,
		Name:        c.Def.Name,
		Type:        c.Def.Type,
		DisplayName: c.Descriptor.DisplayName,
		Category:    c.Descriptor.Category,
		Description: c.Descriptor.Description,
		CanStart:    c.Def.CanStart,
		Outputs:     c.Def.Outputs,
	}
}

// Binding returns the named input binding, or an unset binding.
func (c *ConstructContext) Binding(name string) (binding.Binding, error) {
	d, ok := c.Def.Inputs[name]
	if !ok {
		for _, in := range c.Descriptor.Inputs {
			if in.Name == name && in.Required {
				return binding.Binding{}, schema.NewErrorf(schema.ErrCodeValidation, "%s: input %q is required", c.path, name)
			}
		}
		return binding.Binding{}, nil
	}
	b, err := binding.FromDefinition(d)
	if err != nil {
		return binding.Binding{}, schema.NewErrorf(schema.ErrCodeValidation, "%s.inputs.%s: %s", c.path, name, err.Error()).WithCause(err)
	}
	return b, nil
}

// InputOf returns the named input as a typed input.
func InputOf[T any](c *ConstructContext, name string) (binding.Input[T], error) {
	b, err := c.Binding(name)
	if err != nil {
		return binding.Input[T]{}, err
	}
	return binding.In[T](b), nil
}

// Slot constructs a named child, or returns nil when the slot is empty.
func (c *ConstructContext) Slot(name string) (engine.Activity, error) {
	d, ok := c.Def.Slots[name]
	if !ok {
		return nil, nil
	}
	return c.loader.Activity(&d, c.path+".slots."+name)
}

// Children constructs the ordered children.
func (c *ConstructContext) Children() ([]engine.Activity, error) {
	out := make([]engine.Activity, 0, len(c.Def.Children))
	for i := range c.Def.Children {
		a, err := c.loader.Activity(&c.Def.Children[i], c.path+".children["+strconv.Itoa(i)+"]")
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// Config decodes the activity's config block into v. A missing block leaves
// v untouched.
func (c *ConstructContext) Config(v any) error {
	if len(c.Def.Config) == 0 {
		return nil
	}
	if err := xjson.Unmarshal(c.Def.Config, v); err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "%s.config: %s", c.path, err.Error()).WithCause(err)
	}
	return nil
}

// Errorf reports a construction problem at the activity's path.
func (c *ConstructContext) Errorf(format string, args ...any) error {
	return schema.NewErrorf(schema.ErrCodeValidation, c.path+": "+format, args...)
}
