package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/waypoint/internal/bookmarks"
	"github.com/rendis/waypoint/pkg/schema"
)

func TestBuilder_AssignsIDsDepthFirst(t *testing.T) {
	a := &leaf{Node: Node{Type: "WriteLine"}}
	b := &leaf{Node: Node{Type: "WriteLine"}}
	c := &leaf{Node: Node{ID: "writeLine2", Type: "WriteLine"}}
	root := &seq{Node: Node{Type: "Sequence"}, kids: []Activity{a, b, c}}

	def, err := NewBuilder("wf").WithRoot(root).Build()
	require.NoError(t, err)

	assert.Equal(t, "sequence1", root.ID)
	assert.Equal(t, "writeLine1", a.ID)
	assert.Equal(t, "writeLine3", b.ID, "explicit ids are never reused")
	assert.Equal(t, "writeLine2", c.ID)

	var order []string
	for _, n := range def.Nodes() {
		order = append(order, n.Meta().ID)
	}
	assert.Equal(t, []string{"sequence1", "writeLine1", "writeLine3", "writeLine2"}, order)
}

func TestBuilder_RequiredFields(t *testing.T) {
	_, err := NewBuilder("").Build()
	require.Error(t, err)
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	_, err = NewBuilder("wf").WithVersion(0).WithRoot(record("a")).Build()
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))

	_, err = NewBuilder("wf").WithRoot(&leaf{Node: Node{ID: "x"}}).Build()
	assert.True(t, schema.IsCode(err, schema.ErrCodeValidation), "type is required")
}

func TestBuilder_RejectsDuplicates(t *testing.T) {
	t.Run("same node twice", func(t *testing.T) {
		shared := record("a")
		_, err := NewBuilder("wf").WithRoot(&seq{Node: Node{Type: "Sequence"}, kids: []Activity{shared, shared}}).Build()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "more than once")
	})
	t.Run("duplicate id", func(t *testing.T) {
		_, err := NewBuilder("wf").WithRoot(&seq{Node: Node{Type: "Sequence"}, kids: []Activity{record("a"), record("a")}}).Build()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate activity id")
	})
	t.Run("duplicate variable", func(t *testing.T) {
		_, err := NewBuilder("wf").WithRoot(record("a")).WithVariable("x", 1).WithVariable("x", 2).Build()
		require.Error(t, err)
	})
	t.Run("nil child", func(t *testing.T) {
		_, err := NewBuilder("wf").WithRoot(&seq{Node: Node{Type: "Sequence"}, kids: []Activity{nil}}).Build()
		require.Error(t, err)
	})
}

func TestDefinition_ResolveByName(t *testing.T) {
	a := &leaf{Node: Node{ID: "a", Name: "Greeter", Type: "WriteLine"}}
	b := &leaf{Node: Node{ID: "b", Name: "Twin", Type: "WriteLine"}}
	c := &leaf{Node: Node{ID: "c", Name: "Twin", Type: "WriteLine"}}
	def, err := NewBuilder("wf").WithRoot(&seq{Node: Node{Type: "Sequence"}, kids: []Activity{a, b, c}}).Build()
	require.NoError(t, err)

	id, ok := def.Resolve("Greeter")
	assert.True(t, ok)
	assert.Equal(t, "a", id)

	id, ok = def.Resolve("b")
	assert.True(t, ok)
	assert.Equal(t, "b", id)

	_, ok = def.Resolve("Twin")
	assert.False(t, ok, "ambiguous names do not resolve")
}

func TestDefinition_Triggers(t *testing.T) {
	t.Run("root trigger is startable", func(t *testing.T) {
		def, err := NewBuilder("wf").WithRoot(&wait{Node: Node{ID: "w", Type: "Event"}, kind: "Event", payload: "Go"}).Build()
		require.NoError(t, err)
		trs := def.Triggers()
		require.Len(t, trs, 1)
		assert.Equal(t, "w", trs[0].ActivityID)
		assert.Equal(t, "Event", trs[0].Kind)
		h, err := bookmarks.Hash("Go")
		require.NoError(t, err)
		assert.Equal(t, h, trs[0].PayloadHash)
	})
	t.Run("nested trigger needs can_start", func(t *testing.T) {
		def, err := NewBuilder("wf").WithRoot(&seq{Node: Node{Type: "Sequence"}, kids: []Activity{
			&wait{Node: Node{ID: "inner", Type: "Event"}, kind: "Event", payload: "A"},
			&wait{Node: Node{ID: "start", Type: "Event", CanStart: true}, kind: "Event", payload: "B"},
		}}).Build()
		require.NoError(t, err)
		trs := def.Triggers()
		require.Len(t, trs, 1)
		assert.Equal(t, "start", trs[0].ActivityID)
	})
	t.Run("can_start on a non-trigger", func(t *testing.T) {
		_, err := NewBuilder("wf").WithRoot(&leaf{Node: Node{ID: "x", Type: "WriteLine", CanStart: true}}).Build()
		require.Error(t, err)
		assert.True(t, schema.IsCode(err, schema.ErrCodeValidation))
	})
}

type rejecting struct {
	leaf
}

func (r *rejecting) Validate(*Definition) error {
	return schema.NewError(schema.ErrCodeValidation, "nope").WithActivity(r.ID)
}

func TestBuilder_RunsValidators(t *testing.T) {
	_, err := NewBuilder("wf").WithRoot(&rejecting{leaf{Node: Node{ID: "r", Type: "Reject"}}}).Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")
}

func TestDefinition_NewInstance(t *testing.T) {
	def, err := NewBuilder("wf").WithVersion(3).WithRoot(record("a")).
		WithVariable("count", 1).
		WithVariable("tags", []string{"x"}).
		Build()
	require.NoError(t, err)

	now := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	st, err := def.NewInstance("i1", map[string]any{"n": 2}, now)
	require.NoError(t, err)

	assert.Equal(t, "wf", st.DefinitionID)
	assert.Equal(t, 3, st.DefinitionVersion)
	assert.Equal(t, schema.InstanceStatusPending, st.Status)
	assert.Equal(t, 1.0, st.Variables["count"])
	assert.Equal(t, []any{"x"}, st.Variables["tags"])
	assert.Equal(t, 2.0, st.Inputs["n"])
	assert.Equal(t, now, st.CreatedAt)
	assert.Empty(t, st.Executions)
}
