// Package binding resolves activity inputs and commits activity outputs
// against an instance scope.
package binding

import (
	"context"
	"fmt"

	"github.com/rendis/waypoint/internal/xjson"
	"github.com/rendis/waypoint/pkg/schema"
)

// Kind identifies where a binding takes its value from.
type Kind string

const (
	KindNone       Kind = ""
	KindLiteral    Kind = "literal"
	KindVariable   Kind = "variable"
	KindOutput     Kind = "output"
	KindExpression Kind = "expression"
	KindFunc       Kind = "func"
)

// Scope is the read/write view of an instance that bindings operate on.
// The engine's activity context implements it.
type Scope interface {
	Context() context.Context
	Variable(name string) (any, bool)
	SetVariable(name string, value any) error
	// Output looks up a value recorded by another activity, by ID or name.
	Output(activity, name string) (any, bool)
	SetOutput(name string, value any) error
	Evaluate(language, source string) (any, error)
}

// Binding is a value source for an activity input.
type Binding struct {
	kind     Kind
	literal  any
	variable string
	activity string
	output   string
	language string
	source   string
	fn       func(Scope) (any, error)
}

// Literal binds a constant.
func Literal(v any) Binding {
	return Binding{kind: KindLiteral, literal: v}
}

// Var binds to the current value of a workflow variable.
func Var(name string) Binding {
	return Binding{kind: KindVariable, variable: name}
}

// OutputOf binds to an output recorded by another activity.
func OutputOf(activity, name string) Binding {
	return Binding{kind: KindOutput, activity: activity, output: name}
}

// Expression binds to a computed expression in the given language.
func Expression(language, source string) Binding {
	return Binding{kind: KindExpression, language: language, source: source}
}

// CEL is shorthand for Expression("cel", source).
func CEL(source string) Binding { return Expression("cel", source) }

// Expr is shorthand for Expression("expr", source).
func Expr(source string) Binding { return Expression("expr", source) }

// JQ is shorthand for Expression("jq", source).
func JQ(source string) Binding { return Expression("jq", source) }

// Template is shorthand for Expression("template", source).
func Template(source string) Binding { return Expression("template", source) }

// Func binds to a Go closure. Func bindings cannot be serialized.
func Func(fn func(Scope) (any, error)) Binding {
	return Binding{kind: KindFunc, fn: fn}
}

// Kind returns the binding kind; KindNone for the zero Binding.
func (b Binding) Kind() Kind { return b.kind }

// IsZero reports whether the binding is unset.
func (b Binding) IsZero() bool { return b.kind == KindNone }

// LiteralValue returns the constant of a literal binding.
func (b Binding) LiteralValue() (any, bool) {
	if b.kind != KindLiteral {
		return nil, false
	}
	return b.literal, true
}

func (b Binding) String() string {
	switch b.kind {
	case KindLiteral:
		return fmt.Sprintf("literal(%v)", b.literal)
	case KindVariable:
		return "variable(" + b.variable + ")"
	case KindOutput:
		return "output(" + b.activity + "." + b.output + ")"
	case KindExpression:
		return b.language + "(" + b.source + ")"
	case KindFunc:
		return "func"
	default:
		return "unset"
	}
}

// Resolve produces the bound value. Missing variables and outputs are
// BINDING_ERROR; an unset binding resolves to nil.
func (b Binding) Resolve(scope Scope) (any, error) {
	switch b.kind {
	case KindNone:
		return nil, nil
	case KindLiteral:
		return b.literal, nil
	case KindVariable:
		v, ok := scope.Variable(b.variable)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeBinding, "variable %q is not defined", b.variable)
		}
		return v, nil
	case KindOutput:
		v, ok := scope.Output(b.activity, b.output)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeBinding,
				"output %q of activity %q has not been recorded", b.output, b.activity)
		}
		return v, nil
	case KindExpression:
		v, err := scope.Evaluate(b.language, b.source)
		if err != nil {
			if _, ok := err.(*schema.Error); ok {
				return nil, err
			}
			return nil, schema.NewErrorf(schema.ErrCodeBinding, "evaluate %s: %s", b, err.Error()).WithCause(err)
		}
		return v, nil
	case KindFunc:
		return b.fn(scope)
	default:
		return nil, schema.NewErrorf(schema.ErrCodeBinding, "unknown binding kind %q", b.kind)
	}
}

// FromDefinition converts a serialized binding. Exactly one field must be set.
func FromDefinition(d schema.BindingDefinition) (Binding, error) {
	set := 0
	var b Binding
	if d.Variable != "" {
		set++
		b = Var(d.Variable)
	}
	if d.Output != nil {
		set++
		if d.Output.Activity == "" || d.Output.Name == "" {
			return Binding{}, schema.NewError(schema.ErrCodeValidation, "output binding requires activity and name")
		}
		b = OutputOf(d.Output.Activity, d.Output.Name)
	}
	if d.Expression != nil {
		set++
		if d.Expression.Source == "" {
			return Binding{}, schema.NewError(schema.ErrCodeValidation, "expression binding requires a source")
		}
		lang := d.Expression.Language
		if lang == "" {
			lang = "cel"
		}
		b = Expression(lang, d.Expression.Source)
	}
	if d.Literal != nil {
		set++
		b = Literal(d.Literal)
	}
	if set > 1 {
		return Binding{}, schema.NewError(schema.ErrCodeValidation, "binding must set exactly one of literal, variable, output, expression")
	}
	return b, nil
}

// Definition returns the serialized form. Func bindings report false.
func (b Binding) Definition() (schema.BindingDefinition, bool) {
	switch b.kind {
	case KindLiteral:
		return schema.BindingDefinition{Literal: b.literal}, true
	case KindVariable:
		return schema.BindingDefinition{Variable: b.variable}, true
	case KindOutput:
		return schema.BindingDefinition{Output: &schema.OutputRefDefinition{Activity: b.activity, Name: b.output}}, true
	case KindExpression:
		return schema.BindingDefinition{Expression: &schema.ExpressionDefinition{Language: b.language, Source: b.source}}, true
	case KindNone:
		return schema.BindingDefinition{}, true
	default:
		return schema.BindingDefinition{}, false
	}
}

// Input is a typed activity input.
type Input[T any] struct {
	Binding
}

// In wraps a binding as a typed input.
func In[T any](b Binding) Input[T] {
	return Input[T]{Binding: b}
}

// Value is shorthand for a literal typed input.
func Value[T any](v T) Input[T] {
	return Input[T]{Binding: Literal(v)}
}

// Resolve resolves the binding and converts the value to T.
func (in Input[T]) Resolve(scope Scope) (T, error) {
	v, err := in.Binding.Resolve(scope)
	if err != nil {
		var zero T
		return zero, err
	}
	out, err := Convert[T](v)
	if err != nil {
		return out, schema.NewErrorf(schema.ErrCodeBinding, "input %s: %s", in.Binding, err.Error()).WithCause(err)
	}
	return out, nil
}

// Convert coerces v to T. Values that are already T pass through; otherwise
// the value is converted through its JSON form, which widens numbers and maps
// generic objects onto structs.
func Convert[T any](v any) (T, error) {
	var zero T
	if v == nil {
		return zero, nil
	}
	if t, ok := v.(T); ok {
		return t, nil
	}
	data, err := xjson.Marshal(v)
	if err != nil {
		return zero, fmt.Errorf("cannot encode %T: %w", v, err)
	}
	var out T
	if err := xjson.Unmarshal(data, &out); err != nil {
		return zero, fmt.Errorf("cannot convert %T to %T", v, zero)
	}
	return out, nil
}

// Output names an activity output and, optionally, the variable it is
// copied into.
type Output struct {
	Name     string
	Variable string
}

// Commit records value as the activity's output and writes the bound
// variable. Later commits overwrite earlier ones.
func (o Output) Commit(scope Scope, value any) error {
	if o.Name == "" {
		return schema.NewError(schema.ErrCodeBinding, "output name is required")
	}
	if err := scope.SetOutput(o.Name, value); err != nil {
		return err
	}
	if o.Variable != "" {
		return scope.SetVariable(o.Variable, value)
	}
	return nil
}
