package expressions

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/waypoint/pkg/schema"
)

func newCEL(t *testing.T) *CELEngine {
	t.Helper()
	e, err := NewCELEngine()
	require.NoError(t, err)
	return e
}

func TestCEL_Literals(t *testing.T) {
	e := newCEL(t)
	assert.Equal(t, "cel", e.Name())

	out, err := e.Evaluate(context.Background(), "1 + 2", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), out)

	out, err = e.Evaluate(context.Background(), `"hello" + " " + "world"`, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello world", out)
}

func TestCEL_VariablesAndOutputs(t *testing.T) {
	e := newCEL(t)
	data := map[string]any{
		KeyVariables: map[string]any{"Approved": true, "Count": float64(5)},
		KeyOutputs: map[string]any{
			"generate": map[string]any{"Result": float64(42)},
		},
		KeyInputs: map[string]any{"Name": "ada"},
	}

	t.Run("boolean variable", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), `variables.Approved`, data)
		require.NoError(t, err)
		assert.Equal(t, true, out)
	})

	t.Run("numeric comparison", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), `variables.Count > 3.0`, data)
		require.NoError(t, err)
		assert.Equal(t, true, out)
	})

	t.Run("activity output", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), `outputs.generate.Result == 42.0`, data)
		require.NoError(t, err)
		assert.Equal(t, true, out)
	})

	t.Run("list result is native", func(t *testing.T) {
		out, err := e.Evaluate(context.Background(), `[inputs.Name, "b"]`, data)
		require.NoError(t, err)
		assert.Equal(t, []any{"ada", "b"}, out)
	})
}

func TestCEL_MissingNamespacesDefaultToEmpty(t *testing.T) {
	e := newCEL(t)
	out, err := e.Evaluate(context.Background(), `size(variables) == 0`, map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestCEL_Errors(t *testing.T) {
	e := newCEL(t)

	_, err := e.Evaluate(context.Background(), "", nil)
	assert.True(t, schema.IsCode(err, schema.ErrCodeBinding))

	_, err = e.Evaluate(context.Background(), "1 +", nil)
	assert.True(t, schema.IsCode(err, schema.ErrCodeBinding))

	_, err = e.Evaluate(context.Background(), `variables.Missing.Field`, nil)
	assert.True(t, schema.IsCode(err, schema.ErrCodeBinding))
}

func TestCEL_CacheIsSharedAcrossGoroutines(t *testing.T) {
	e := newCEL(t)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := e.Evaluate(context.Background(), `variables.X * 2`,
				map[string]any{KeyVariables: map[string]any{"X": int64(21)}})
			assert.NoError(t, err)
			assert.Equal(t, int64(42), out)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, e.cache.len())
}
