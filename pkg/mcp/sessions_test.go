package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionRegistry_Bind(t *testing.T) {
	r := NewSessionRegistry()

	_, ok := r.SessionOf("ops")
	assert.False(t, ok)

	r.Bind("ops", "s1")
	r.Bind("ops", "s2")
	sid, ok := r.SessionOf("ops")
	require.True(t, ok)
	assert.Equal(t, "s2", sid)
}

func TestSessionRegistry_WatchAndRelease(t *testing.T) {
	r := NewSessionRegistry()
	r.Watch("inst-1", "ops")

	cid, ok := r.Watcher("inst-1")
	require.True(t, ok)
	assert.Equal(t, "ops", cid)

	r.Release("inst-1")
	_, ok = r.Watcher("inst-1")
	assert.False(t, ok)
}

func TestSessionRegistry_DropReleasesWatches(t *testing.T) {
	r := NewSessionRegistry()
	r.Bind("ops", "s1")
	r.Bind("audit", "s1")
	r.Bind("billing", "s2")
	r.Watch("inst-1", "ops")
	r.Watch("inst-2", "audit")
	r.Watch("inst-3", "billing")

	r.Drop("s1")

	for _, cid := range []string{"ops", "audit"} {
		_, ok := r.SessionOf(cid)
		assert.False(t, ok, cid)
	}
	_, ok := r.Watcher("inst-1")
	assert.False(t, ok)
	_, ok = r.Watcher("inst-2")
	assert.False(t, ok)

	sid, ok := r.SessionOf("billing")
	assert.True(t, ok)
	assert.Equal(t, "s2", sid)
	cid, ok := r.Watcher("inst-3")
	assert.True(t, ok)
	assert.Equal(t, "billing", cid)
}
