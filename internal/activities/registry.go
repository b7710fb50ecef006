package activities

import (
	"context"
	"sort"
	"sync"

	"github.com/rendis/waypoint/internal/engine"
	"github.com/rendis/waypoint/pkg/schema"
)

// PropertyDescriptor documents one input or output of an activity type.
type PropertyDescriptor struct {
	Name        string           `json:"name"`
	Type        schema.ValueType `json:"type,omitempty"`
	Description string           `json:"description,omitempty"`
	Required    bool             `json:"required,omitempty"`
}

// Constructor builds an activity from its JSON definition.
type Constructor func(c *ConstructContext) (engine.Activity, error)

// Descriptor describes an activity type for tooling and for the JSON loader.
type Descriptor struct {
	Type        string               `json:"type"`
	DisplayName string               `json:"display_name,omitempty"`
	Category    string               `json:"category,omitempty"`
	Description string               `json:"description,omitempty"`
	Inputs      []PropertyDescriptor `json:"inputs,omitempty"`
	Outputs     []PropertyDescriptor `json:"outputs,omitempty"`
	Outcomes    []string             `json:"outcomes,omitempty"`
	Trigger     bool                 `json:"trigger,omitempty"`
	Construct   Constructor          `json:"-"`
}

func (d Descriptor) hasInput(name string) bool {
	for _, in := range d.Inputs {
		if in.Name == name {
			return true
		}
	}
	return false
}

// Provider contributes descriptors computed at runtime, e.g. one activity
// type per product in a catalog.
type Provider interface {
	Descriptors(ctx context.Context) ([]Descriptor, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context) ([]Descriptor, error)

func (f ProviderFunc) Descriptors(ctx context.Context) ([]Descriptor, error) { return f(ctx) }

// Registry is the thread-safe catalog of activity types.
type Registry struct {
	mu          sync.RWMutex
	descriptors map[string]Descriptor
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{descriptors: make(map[string]Descriptor)}
}

// NewDefaultRegistry creates a Registry holding the built-in activities.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	for _, d := range Builtins() {
		// Builtins have unique, non-empty types.
		_ = r.Register(d)
	}
	return r
}

// Register adds a descriptor. Returns error on duplicate type.
func (r *Registry) Register(d Descriptor) error {
	if d.Type == "" {
		return schema.NewError(schema.ErrCodeValidation, "activity type is empty")
	}
	if d.Construct == nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "activity type %q has no constructor", d.Type)
	}
	if d.DisplayName == "" {
		d.DisplayName = d.Type
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.descriptors[d.Type]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "activity type %q already registered", d.Type)
	}
	r.descriptors[d.Type] = d
	return nil
}

// RegisterProvider registers every descriptor a provider returns. It stops
// at the first conflict and reports how many were registered.
func (r *Registry) RegisterProvider(ctx context.Context, p Provider) (int, error) {
	descs, err := p.Descriptors(ctx)
	if err != nil {
		return 0, err
	}
	for i, d := range descs {
		if err := r.Register(d); err != nil {
			return i, err
		}
	}
	return len(descs), nil
}

// Get retrieves a descriptor by type.
func (r *Registry) Get(typeName string) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descriptors[typeName]
	if !ok {
		return Descriptor{}, schema.NewErrorf(schema.ErrCodeNotFound, "activity type %q not registered", typeName)
	}
	return d, nil
}

// Has checks if a type is registered.
func (r *Registry) Has(typeName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.descriptors[typeName]
	return ok
}

// List returns all descriptors sorted by category, then type.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Type < out[j].Type
	})
	return out
}

// Count returns the number of registered types.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.descriptors)
}

// CodeDescriptor wraps a Go function as a loadable activity type. The
// function's result becomes the "result" output.
func CodeDescriptor(typeName, category, description string, fn CodeFunc) Descriptor {
	return Descriptor{
		Type:        typeName,
		Category:    category,
		Description: description,
		Outputs:     []PropertyDescriptor{{Name: "result", Type: schema.TypeAny}},
		Construct: func(c *ConstructContext) (engine.Activity, error) {
			return &Code{Node: c.Node(), Fn: fn}, nil
		},
	}
}
