package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rendis/waypoint/internal/xjson"
	"github.com/rendis/waypoint/pkg/schema"
)

// MemoryStore keeps everything in process memory. Instances and definitions
// are held in serialized form so callers never share state with the store.
type MemoryStore struct {
	mu          sync.RWMutex
	instances   map[string][]byte
	definitions map[string]map[int][]byte
	events      map[string][]*Event
	secrets     map[string][]byte
	nextEventID int64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		instances:   make(map[string][]byte),
		definitions: make(map[string]map[int][]byte),
		events:      make(map[string][]*Event),
		secrets:     make(map[string][]byte),
	}
}

func (s *MemoryStore) SaveInstance(_ context.Context, state *schema.InstanceState) error {
	if state == nil || state.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "instance id is required")
	}
	data, err := xjson.Marshal(state)
	if err != nil {
		return storeError("marshal instance", err)
	}
	s.mu.Lock()
	s.instances[state.ID] = data
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) GetInstance(_ context.Context, id string) (*schema.InstanceState, error) {
	s.mu.RLock()
	data, ok := s.instances[id]
	s.mu.RUnlock()
	if !ok {
		return nil, storeNotFound("instance", id)
	}
	return decodeInstance(data)
}

func (s *MemoryStore) ListInstances(_ context.Context, filter InstanceFilter) ([]*schema.InstanceState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*schema.InstanceState
	for _, data := range s.instances {
		st, err := decodeInstance(data)
		if err != nil {
			return nil, err
		}
		if filter.matches(st) {
			out = append(out, st)
		}
	}
	sortInstances(out)
	return page(out, filter.Offset, filter.Limit), nil
}

func (s *MemoryStore) DeleteInstance(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.instances[id]; !ok {
		return storeNotFound("instance", id)
	}
	delete(s.instances, id)
	delete(s.events, id)
	return nil
}

func (s *MemoryStore) ListBookmarks(ctx context.Context) ([]schema.Bookmark, error) {
	instances, err := s.ListInstances(ctx, InstanceFilter{})
	if err != nil {
		return nil, err
	}
	return collectBookmarks(instances), nil
}

func (s *MemoryStore) SaveDefinition(_ context.Context, def *schema.WorkflowDefinition) error {
	if def == nil || def.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "definition id is required")
	}
	data, err := xjson.Marshal(def)
	if err != nil {
		return storeError("marshal definition", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	versions := s.definitions[def.ID]
	if versions == nil {
		versions = make(map[int][]byte)
		s.definitions[def.ID] = versions
	}
	versions[def.Version] = data
	return nil
}

func (s *MemoryStore) GetDefinition(_ context.Context, id string, version int) (*schema.WorkflowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions := s.definitions[id]
	if len(versions) == 0 {
		return nil, storeNotFound("definition", id)
	}
	if version == 0 {
		version = latestVersion(versions)
	}
	data, ok := versions[version]
	if !ok {
		return nil, storeNotFound("definition", id)
	}
	def := &schema.WorkflowDefinition{}
	if err := xjson.Unmarshal(data, def); err != nil {
		return nil, storeError("unmarshal definition", err)
	}
	return def, nil
}

func (s *MemoryStore) ListDefinitions(ctx context.Context) ([]*schema.WorkflowDefinition, error) {
	s.mu.RLock()
	ids := make([]string, 0, len(s.definitions))
	for id := range s.definitions {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)

	out := make([]*schema.WorkflowDefinition, 0, len(ids))
	for _, id := range ids {
		def, err := s.GetDefinition(ctx, id, 0)
		if err != nil {
			return nil, err
		}
		out = append(out, def)
	}
	return out, nil
}

func (s *MemoryStore) AppendEvent(_ context.Context, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextEventID++
	event.ID = s.nextEventID
	event.Sequence = int64(len(s.events[event.InstanceID]) + 1)
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	cp := *event
	s.events[event.InstanceID] = append(s.events[event.InstanceID], &cp)
	return nil
}

func (s *MemoryStore) GetEvents(_ context.Context, instanceID string, since int64) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Event
	for _, e := range s.events[instanceID] {
		if e.Sequence > since {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) Migrate(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func decodeInstance(data []byte) (*schema.InstanceState, error) {
	st := &schema.InstanceState{}
	if err := xjson.Unmarshal(data, st); err != nil {
		return nil, storeError("unmarshal instance", err)
	}
	return st, nil
}

func (s *MemoryStore) StoreSecret(_ context.Context, key string, value []byte) error {
	if key == "" {
		return schema.NewError(schema.ErrCodeValidation, "secret key is required")
	}
	s.mu.Lock()
	s.secrets[key] = append([]byte(nil), value...)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) GetSecret(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.secrets[key]
	if !ok {
		return nil, storeNotFound("secret", key)
	}
	return append([]byte(nil), v...), nil
}

func (s *MemoryStore) DeleteSecret(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.secrets[key]; !ok {
		return storeNotFound("secret", key)
	}
	delete(s.secrets, key)
	return nil
}

func (s *MemoryStore) ListSecrets(_ context.Context) ([]string, error) {
	s.mu.RLock()
	keys := make([]string, 0, len(s.secrets))
	for k := range s.secrets {
		keys = append(keys, k)
	}
	s.mu.RUnlock()
	sort.Strings(keys)
	return keys, nil
}

// sortInstances orders newest first, ties broken by ID.
func sortInstances(items []*schema.InstanceState) {
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
}

func collectBookmarks(instances []*schema.InstanceState) []schema.Bookmark {
	var out []schema.Bookmark
	for _, st := range instances {
		out = append(out, st.Bookmarks...)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func latestVersion(versions map[int][]byte) int {
	latest := 0
	for v := range versions {
		if v > latest {
			latest = v
		}
	}
	return latest
}

var _ Store = (*MemoryStore)(nil)
