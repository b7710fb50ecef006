package activities

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/waypoint/internal/engine"
	"github.com/rendis/waypoint/pkg/schema"
)

func writeLineDescriptor(typeName, category string) Descriptor {
	return Descriptor{
		Type:     typeName,
		Category: category,
		Construct: func(c *ConstructContext) (engine.Activity, error) {
			return NewWriteLine(typeName), nil
		},
	}
}

func TestRegistry_Builtins(t *testing.T) {
	r := NewDefaultRegistry()
	for _, typ := range []string{
		TypeWriteLine, TypeSetVariable, TypeFault, TypeOutcome, TypeSendHTTPRequest,
		TypeSequence, TypeIf, TypeFork, TypeForEach, TypeFlowchart, TypeFlowDecision,
		TypeFlowSwitch, TypeTryCatch, TypeEvent, TypeCron,
	} {
		assert.True(t, r.Has(typ), typ)
	}
	assert.False(t, r.Has(TypeCode))
	assert.Equal(t, len(Builtins()), r.Count())

	d, err := r.Get(TypeEvent)
	require.NoError(t, err)
	assert.Equal(t, TypeEvent, d.DisplayName)
	assert.True(t, d.Trigger)
}

func TestRegistry_RegisterErrors(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(writeLineDescriptor("Greet", "Custom")))

	err := r.Register(writeLineDescriptor("Greet", "Custom"))
	assert.True(t, schema.IsCode(err, schema.ErrCodeConflict))

	err = r.Register(Descriptor{Construct: writeLineDescriptor("x", "").Construct})
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	err = r.Register(Descriptor{Type: "NoCtor"})
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	_, err = r.Get("Missing")
	assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
}

func TestRegistry_ListSorted(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(writeLineDescriptor("Zeta", "A")))
	require.NoError(t, r.Register(writeLineDescriptor("Beta", "B")))
	require.NoError(t, r.Register(writeLineDescriptor("Alpha", "B")))

	var types []string
	for _, d := range r.List() {
		types = append(types, d.Type)
	}
	assert.Equal(t, []string{"Zeta", "Alpha", "Beta"}, types)
}

func TestRegistry_Provider(t *testing.T) {
	fruits := ProviderFunc(func(context.Context) ([]Descriptor, error) {
		var out []Descriptor
		for _, fruit := range []string{"Apple", "Banana", "Cherry"} {
			name := fruit
			out = append(out, Descriptor{
				Type:     "Buy" + name,
				Category: "Fruits",
				Inputs:   []PropertyDescriptor{{Name: "quantity", Type: schema.TypeInteger}},
				Construct: func(c *ConstructContext) (engine.Activity, error) {
					qty, err := InputOf[int](c, "quantity")
					if err != nil {
						return nil, err
					}
					return &Code{Node: c.Node(), Fn: func(ctx *engine.ActivityContext) (any, error) {
						n, err := engine.Resolve(ctx, qty)
						if err != nil {
							return nil, err
						}
						return map[string]any{"fruit": name, "quantity": n}, nil
					}}, nil
				},
			})
		}
		return out, nil
	})

	r := NewDefaultRegistry()
	n, err := r.RegisterProvider(context.Background(), fruits)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.True(t, r.Has("BuyBanana"))

	n, err = r.RegisterProvider(context.Background(), fruits)
	assert.Equal(t, 0, n)
	assert.True(t, schema.IsCode(err, schema.ErrCodeConflict))

	boom := errors.New("catalog offline")
	_, err = r.RegisterProvider(context.Background(), ProviderFunc(func(context.Context) ([]Descriptor, error) {
		return nil, boom
	}))
	assert.ErrorIs(t, err, boom)
}

func TestCodeDescriptor(t *testing.T) {
	d := CodeDescriptor("Add", "Math", "adds", func(ctx *engine.ActivityContext) (any, error) {
		return 3, nil
	})
	require.Len(t, d.Outputs, 1)
	assert.Equal(t, "result", d.Outputs[0].Name)

	r := NewRegistry()
	require.NoError(t, r.Register(d))
	got, err := r.Get("Add")
	require.NoError(t, err)
	assert.Equal(t, "Add", got.DisplayName)
}
