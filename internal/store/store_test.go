package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/waypoint/pkg/schema"
)

func newTestLibSQL(t *testing.T) *LibSQLStore {
	t.Helper()
	s, err := NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestBadger(t *testing.T) *BadgerStore {
	t.Helper()
	s, err := NewBadgerStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// forEachStore runs fn against every Store implementation.
func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryStore()) })
	t.Run("libsql", func(t *testing.T) { fn(t, newTestLibSQL(t)) })
	t.Run("badger", func(t *testing.T) { fn(t, newTestBadger(t)) })
}

func suspendedInstance(defID string, created time.Time) *schema.InstanceState {
	id := uuid.New().String()
	return &schema.InstanceState{
		ID:                id,
		DefinitionID:      defID,
		DefinitionVersion: 1,
		Status:            schema.InstanceStatusSuspended,
		Variables:         map[string]any{"count": 2.0, "name": "ada"},
		Outputs:           map[string]map[string]any{"writeLine1": {"text": "hi"}},
		Executions: map[string]*schema.Execution{
			"e1": {ID: "e1", ActivityID: "sequence1", Status: schema.ActivityStatusWaiting, Properties: map[string]any{"index": 1.0}},
			"e2": {ID: "e2", ActivityID: "event1", ParentID: "e1", Tag: "step", Status: schema.ActivityStatusSuspended},
		},
		Bookmarks: []schema.Bookmark{{
			ID: uuid.New().String(), InstanceID: id, Kind: "Event", Payload: "MyEvent",
			PayloadHash: "h1", ActivityID: "event1", ExecutionID: "e2", CreatedAt: created,
		}},
		Sequence:  4,
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestStore_InstanceRoundTrip(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		st := suspendedInstance("orders", time.Now().UTC().Truncate(time.Millisecond))

		require.NoError(t, s.SaveInstance(ctx, st))
		got, err := s.GetInstance(ctx, st.ID)
		require.NoError(t, err)

		assert.Equal(t, st.Variables, got.Variables)
		assert.Equal(t, st.Outputs, got.Outputs)
		assert.Equal(t, st.Executions, got.Executions)
		assert.Equal(t, st.Bookmarks[0].ID, got.Bookmarks[0].ID)
		assert.Equal(t, "MyEvent", got.Bookmarks[0].Payload)
		assert.Equal(t, schema.InstanceStatusSuspended, got.Status)

		// Mutating the returned copy does not affect the store.
		got.Variables["count"] = 99.0
		again, err := s.GetInstance(ctx, st.ID)
		require.NoError(t, err)
		assert.Equal(t, 2.0, again.Variables["count"])
	})
}

func TestStore_SaveInstanceUpserts(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		st := suspendedInstance("orders", time.Now().UTC())
		require.NoError(t, s.SaveInstance(ctx, st))

		st.Status = schema.InstanceStatusCompleted
		st.Bookmarks = nil
		require.NoError(t, s.SaveInstance(ctx, st))

		got, err := s.GetInstance(ctx, st.ID)
		require.NoError(t, err)
		assert.Equal(t, schema.InstanceStatusCompleted, got.Status)

		bms, err := s.ListBookmarks(ctx)
		require.NoError(t, err)
		assert.Empty(t, bms)
	})
}

func TestStore_GetInstance_NotFound(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		_, err := s.GetInstance(context.Background(), "nope")
		require.Error(t, err)
		assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
	})
}

func TestStore_ListInstances(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		base := time.Now().UTC().Truncate(time.Second)
		a := suspendedInstance("orders", base)
		b := suspendedInstance("orders", base.Add(time.Second))
		c := suspendedInstance("billing", base.Add(2*time.Second))
		c.Status = schema.InstanceStatusCompleted
		c.Bookmarks = nil
		for _, st := range []*schema.InstanceState{a, b, c} {
			require.NoError(t, s.SaveInstance(ctx, st))
		}

		all, err := s.ListInstances(ctx, InstanceFilter{})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, c.ID, all[0].ID, "newest first")

		suspended := schema.InstanceStatusSuspended
		got, err := s.ListInstances(ctx, InstanceFilter{Status: &suspended})
		require.NoError(t, err)
		assert.Len(t, got, 2)

		got, err = s.ListInstances(ctx, InstanceFilter{DefinitionID: "billing"})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, c.ID, got[0].ID)

		got, err = s.ListInstances(ctx, InstanceFilter{Limit: 1, Offset: 1})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, b.ID, got[0].ID)

		bms, err := s.ListBookmarks(ctx)
		require.NoError(t, err)
		require.Len(t, bms, 2)
		assert.Equal(t, a.Bookmarks[0].ID, bms[0].ID, "oldest bookmark first")
	})
}

func TestStore_DeleteInstance(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		st := suspendedInstance("orders", time.Now().UTC())
		require.NoError(t, s.SaveInstance(ctx, st))
		require.NoError(t, s.AppendEvent(ctx, &Event{InstanceID: st.ID, Type: schema.EventInstanceStarted}))

		require.NoError(t, s.DeleteInstance(ctx, st.ID))
		_, err := s.GetInstance(ctx, st.ID)
		assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))

		events, err := s.GetEvents(ctx, st.ID, 0)
		require.NoError(t, err)
		assert.Empty(t, events)

		err = s.DeleteInstance(ctx, st.ID)
		assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
	})
}

func TestStore_Definitions(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		v1 := &schema.WorkflowDefinition{ID: "greet", Version: 1, Name: "Greet", Root: schema.ActivityDefinition{Type: "WriteLine"}}
		v2 := &schema.WorkflowDefinition{ID: "greet", Version: 2, Name: "Greet v2", Root: schema.ActivityDefinition{Type: "Sequence"}}
		other := &schema.WorkflowDefinition{ID: "audit", Version: 1, Root: schema.ActivityDefinition{Type: "WriteLine"}}
		for _, d := range []*schema.WorkflowDefinition{v1, v2, other} {
			require.NoError(t, s.SaveDefinition(ctx, d))
		}

		latest, err := s.GetDefinition(ctx, "greet", 0)
		require.NoError(t, err)
		assert.Equal(t, 2, latest.Version)
		assert.Equal(t, "Sequence", latest.Root.Type)

		first, err := s.GetDefinition(ctx, "greet", 1)
		require.NoError(t, err)
		assert.Equal(t, "Greet", first.Name)

		_, err = s.GetDefinition(ctx, "greet", 7)
		assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
		_, err = s.GetDefinition(ctx, "missing", 0)
		assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))

		list, err := s.ListDefinitions(ctx)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, "audit", list[0].ID)
		assert.Equal(t, 2, list[1].Version)
	})
}

func TestStore_EventsMonotonicSequence(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for i := 0; i < 5; i++ {
			e := &Event{InstanceID: "inst-1", ActivityID: "a", Type: schema.EventActivityStarted}
			require.NoError(t, s.AppendEvent(ctx, e))
			assert.Equal(t, int64(i+1), e.Sequence)
		}
		require.NoError(t, s.AppendEvent(ctx, &Event{InstanceID: "inst-2", Type: schema.EventInstanceStarted}))

		events, err := s.GetEvents(ctx, "inst-1", 2)
		require.NoError(t, err)
		require.Len(t, events, 3)
		assert.Equal(t, int64(3), events[0].Sequence)
		assert.Equal(t, "a", events[0].ActivityID)

		other, err := s.GetEvents(ctx, "inst-2", 0)
		require.NoError(t, err)
		require.Len(t, other, 1)
		assert.Equal(t, int64(1), other[0].Sequence)
	})
}

func TestStore_Secrets(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.StoreSecret(ctx, "slack_token", []byte{0x01, 0x02}))
		require.NoError(t, s.StoreSecret(ctx, "api_key", []byte("v1")))
		require.NoError(t, s.StoreSecret(ctx, "api_key", []byte("v2")))

		got, err := s.GetSecret(ctx, "api_key")
		require.NoError(t, err)
		assert.Equal(t, []byte("v2"), got)

		keys, err := s.ListSecrets(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"api_key", "slack_token"}, keys)

		require.NoError(t, s.DeleteSecret(ctx, "api_key"))
		_, err = s.GetSecret(ctx, "api_key")
		assert.True(t, schema.IsCode(err, schema.ErrCodeNotFound))
		assert.True(t, schema.IsCode(s.DeleteSecret(ctx, "api_key"), schema.ErrCodeNotFound))
	})
}

func TestSplitStatements(t *testing.T) {
	stmts := splitStatements("-- header\nCREATE TABLE a (x INT);\n\n-- only a comment\n;CREATE INDEX i ON a(x);")
	require.Len(t, stmts, 2)
	assert.Equal(t, "CREATE TABLE a (x INT)", stmts[0])
	assert.Equal(t, "CREATE INDEX i ON a(x)", stmts[1])
}

func TestLoadMigrations(t *testing.T) {
	ms, err := loadMigrations()
	require.NoError(t, err)
	require.NotEmpty(t, ms)
	assert.Equal(t, 1, ms[0].Version)
	assert.Equal(t, "initial_schema", ms[0].Name)
	require.Len(t, ms, 2)
	assert.Equal(t, "secrets", ms[1].Name)
}

func TestLibSQL_MigrateIdempotent(t *testing.T) {
	s := newTestLibSQL(t)
	require.NoError(t, s.Migrate(context.Background()))
}
