package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/waypoint/pkg/schema"
)

func TestGoJQ_Evaluate(t *testing.T) {
	e := NewGoJQEngine()
	assert.Equal(t, "jq", e.Name())

	data := map[string]any{
		KeyVariables: map[string]any{
			"Orders": []any{
				map[string]any{"id": "a", "total": 10},
				map[string]any{"id": "b", "total": int64(30)},
			},
		},
	}

	out, err := e.Evaluate(context.Background(), `[.variables.Orders[] | select(.total > 15) | .id]`, data)
	require.NoError(t, err)
	assert.Equal(t, []any{"b"}, out)

	out, err = e.Evaluate(context.Background(), `.variables.Orders[].id`, data)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, out, "multiple outputs are collected")

	out, err = e.Evaluate(context.Background(), `empty`, data)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestGoJQ_SandboxedEnv(t *testing.T) {
	e := NewGoJQEngine()
	out, err := e.Evaluate(context.Background(), `$ENV | length`, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, out)
}

func TestGoJQ_Errors(t *testing.T) {
	e := NewGoJQEngine()

	_, err := e.Evaluate(context.Background(), "", nil)
	assert.True(t, schema.IsCode(err, schema.ErrCodeBinding))

	_, err = e.Evaluate(context.Background(), ".[", nil)
	assert.True(t, schema.IsCode(err, schema.ErrCodeBinding))

	_, err = e.Evaluate(context.Background(), `error("nope")`, nil)
	assert.True(t, schema.IsCode(err, schema.ErrCodeBinding))
}

func TestEvaluator_Dispatch(t *testing.T) {
	ev, err := NewDefaultEvaluator()
	require.NoError(t, err)
	assert.Equal(t, []string{"cel", "expr", "jq", "template"}, ev.Languages())

	data := map[string]any{KeyVariables: map[string]any{"N": int64(2)}}
	out, err := ev.Evaluate(context.Background(), "cel", "variables.N + 1", data)
	require.NoError(t, err)
	assert.Equal(t, int64(3), out)

	_, err = ev.Evaluate(context.Background(), "javascript", "1", data)
	assert.True(t, schema.IsCode(err, schema.ErrCodeBinding))
}
