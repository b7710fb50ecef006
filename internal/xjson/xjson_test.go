package xjson

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	type point struct {
		X int `json:"x"`
		Y int `json:"y"`
	}

	out, err := Normalize(map[string]any{"p": point{1, 2}, "n": 3, "s": []string{"a"}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"p": map[string]any{"x": float64(1), "y": float64(2)},
		"n": float64(3),
		"s": []any{"a"},
	}, out)

	out, err = Normalize(nil)
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestMarshal_SortsMapKeys(t *testing.T) {
	a, err := Marshal(map[string]any{"b": 1, "a": 2})
	require.NoError(t, err)
	assert.Equal(t, `{"a":2,"b":1}`, string(a))
}
