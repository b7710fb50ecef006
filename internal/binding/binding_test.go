package binding

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/waypoint/internal/expressions"
	"github.com/rendis/waypoint/pkg/schema"
)

type fakeScope struct {
	vars    map[string]any
	outputs map[string]map[string]any
	current string
	eval    *expressions.Evaluator
}

func newFakeScope(t *testing.T) *fakeScope {
	t.Helper()
	ev, err := expressions.NewDefaultEvaluator()
	require.NoError(t, err)
	return &fakeScope{
		vars:    map[string]any{},
		outputs: map[string]map[string]any{},
		current: "self",
		eval:    ev,
	}
}

func (s *fakeScope) Context() context.Context { return context.Background() }

func (s *fakeScope) Variable(name string) (any, bool) {
	v, ok := s.vars[name]
	return v, ok
}

func (s *fakeScope) SetVariable(name string, value any) error {
	s.vars[name] = value
	return nil
}

func (s *fakeScope) Output(activity, name string) (any, bool) {
	v, ok := s.outputs[activity][name]
	return v, ok
}

func (s *fakeScope) SetOutput(name string, value any) error {
	if s.outputs[s.current] == nil {
		s.outputs[s.current] = map[string]any{}
	}
	s.outputs[s.current][name] = value
	return nil
}

func (s *fakeScope) Evaluate(language, source string) (any, error) {
	return s.eval.Evaluate(context.Background(), language, source, map[string]any{
		expressions.KeyVariables: s.vars,
		expressions.KeyOutputs:   map[string]any{},
	})
}

func TestResolve_Literal(t *testing.T) {
	s := newFakeScope(t)
	v, err := Literal("hello").Resolve(s)
	require.NoError(t, err)
	assert.Equal(t, "hello", v)
}

func TestResolve_Variable(t *testing.T) {
	s := newFakeScope(t)
	s.vars["count"] = 3.0

	v, err := Var("count").Resolve(s)
	require.NoError(t, err)
	assert.Equal(t, 3.0, v)

	_, err = Var("missing").Resolve(s)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeBinding))
}

func TestResolve_Output(t *testing.T) {
	s := newFakeScope(t)
	s.outputs["http1"] = map[string]any{"status": 200.0}

	v, err := OutputOf("http1", "status").Resolve(s)
	require.NoError(t, err)
	assert.Equal(t, 200.0, v)

	_, err = OutputOf("http1", "body").Resolve(s)
	assert.True(t, schema.IsCode(err, schema.ErrCodeBinding))
}

func TestResolve_Expression(t *testing.T) {
	s := newFakeScope(t)
	s.vars["name"] = "ada"

	v, err := Expr(`"hi " + variables.name`).Resolve(s)
	require.NoError(t, err)
	assert.Equal(t, "hi ada", v)

	_, err = Expression("lua", "1").Resolve(s)
	assert.True(t, schema.IsCode(err, schema.ErrCodeBinding))
}

func TestResolve_ZeroAndFunc(t *testing.T) {
	s := newFakeScope(t)

	v, err := Binding{}.Resolve(s)
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = Func(func(Scope) (any, error) { return 42, nil }).Resolve(s)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestInput_Conversion(t *testing.T) {
	s := newFakeScope(t)
	s.vars["n"] = 7.0
	s.vars["word"] = "seven"

	n, err := In[int](Var("n")).Resolve(s)
	require.NoError(t, err)
	assert.Equal(t, 7, n)

	_, err = In[int](Var("word")).Resolve(s)
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeBinding))

	b, err := Value(true).Resolve(s)
	require.NoError(t, err)
	assert.True(t, b)

	items, err := In[[]string](Literal([]any{"a", "b"})).Resolve(s)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, items)
}

func TestOutput_Commit(t *testing.T) {
	s := newFakeScope(t)

	require.NoError(t, Output{Name: "result", Variable: "last"}.Commit(s, "one"))
	require.NoError(t, Output{Name: "result", Variable: "last"}.Commit(s, "two"))

	assert.Equal(t, "two", s.outputs["self"]["result"])
	assert.Equal(t, "two", s.vars["last"])

	err := Output{}.Commit(s, 1)
	assert.True(t, schema.IsCode(err, schema.ErrCodeBinding))
}

func TestFromDefinition(t *testing.T) {
	b, err := FromDefinition(schema.BindingDefinition{Variable: "x"})
	require.NoError(t, err)
	assert.Equal(t, KindVariable, b.Kind())

	b, err = FromDefinition(schema.BindingDefinition{Expression: &schema.ExpressionDefinition{Source: "1 + 1"}})
	require.NoError(t, err)
	assert.Equal(t, KindExpression, b.Kind())
	def, ok := b.Definition()
	require.True(t, ok)
	assert.Equal(t, "cel", def.Expression.Language)

	_, err = FromDefinition(schema.BindingDefinition{Variable: "x", Literal: 1})
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	b, err = FromDefinition(schema.BindingDefinition{})
	require.NoError(t, err)
	assert.True(t, b.IsZero())

	_, ok = Func(nil).Definition()
	assert.False(t, ok)
}
