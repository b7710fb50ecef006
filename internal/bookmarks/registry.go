// Package bookmarks indexes active bookmarks and startable trigger
// descriptors by (kind, payload hash) for exact-match event routing.
package bookmarks

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"

	"github.com/rendis/waypoint/internal/xjson"
	"github.com/rendis/waypoint/pkg/schema"
)

// MatchPolicy decides how many bookmarks one event may resume.
type MatchPolicy string

const (
	// PolicyBroadcast resumes every matching bookmark.
	PolicyBroadcast MatchPolicy = "broadcast"
	// PolicyFirst resumes only the oldest matching bookmark.
	PolicyFirst MatchPolicy = "first"
)

// ParseMatchPolicy maps a config string to a policy; unknown values are broadcast.
func ParseMatchPolicy(s string) MatchPolicy {
	if MatchPolicy(strings.ToLower(strings.TrimSpace(s))) == PolicyFirst {
		return PolicyFirst
	}
	return PolicyBroadcast
}

// Hash returns the SHA-256 of the payload's canonical JSON. Payloads that
// differ only in Go type (int vs float64, struct vs map) hash the same.
func Hash(payload any) (string, error) {
	norm, err := xjson.Normalize(payload)
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeValidation, "payload is not JSON-serializable: %s", err.Error()).WithCause(err)
	}
	data, err := xjson.Marshal(norm)
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeValidation, "encode payload: %s", err.Error()).WithCause(err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

type matchKey struct {
	kind string
	hash string
}

// Registry is the process-wide index of active bookmarks and trigger
// descriptors. It is safe for concurrent use; Claim is the only way a
// bookmark is consumed for resumption.
type Registry struct {
	mu         sync.RWMutex
	policy     MatchPolicy
	bookmarks  map[string]schema.Bookmark
	index      map[matchKey]map[string]struct{}
	byInstance map[string]map[string]struct{}
	triggers   map[string][]schema.TriggerDescriptor
}

// NewRegistry creates an empty registry using the given policy.
func NewRegistry(policy MatchPolicy) *Registry {
	if policy == "" {
		policy = PolicyBroadcast
	}
	return &Registry{
		policy:     policy,
		bookmarks:  make(map[string]schema.Bookmark),
		index:      make(map[matchKey]map[string]struct{}),
		byInstance: make(map[string]map[string]struct{}),
		triggers:   make(map[string][]schema.TriggerDescriptor),
	}
}

// Policy returns the configured match policy.
func (r *Registry) Policy() MatchPolicy { return r.policy }

// Register adds a bookmark. The payload hash is computed when missing.
// Registering an ID twice is a BOOKMARK_CONFLICT.
func (r *Registry) Register(b schema.Bookmark) error {
	if b.ID == "" || b.InstanceID == "" || b.Kind == "" {
		return schema.NewError(schema.ErrCodeValidation, "bookmark requires id, instance id and kind")
	}
	if b.PayloadHash == "" {
		h, err := Hash(b.Payload)
		if err != nil {
			return err
		}
		b.PayloadHash = h
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.bookmarks[b.ID]; exists {
		return schema.NewErrorf(schema.ErrCodeBookmarkConflict, "bookmark %q already registered", b.ID).
			WithActivity(b.ActivityID)
	}
	r.add(b)
	return nil
}

// Remove drops a bookmark. It reports whether the bookmark was present.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.drop(id)
	return ok
}

// Claim atomically removes a bookmark and returns it. Exactly one of any
// number of concurrent callers for the same ID wins.
func (r *Registry) Claim(id string) (schema.Bookmark, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.drop(id)
}

// RemoveInstance drops every bookmark owned by an instance and returns how many.
func (r *Registry) RemoveInstance(instanceID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := r.byInstance[instanceID]
	n := 0
	for id := range ids {
		if _, ok := r.drop(id); ok {
			n++
		}
	}
	return n
}

// SyncInstance replaces the registered bookmarks of an instance with the
// given set, which is the instance's persisted bookmark list.
func (r *Registry) SyncInstance(instanceID string, bookmarks []schema.Bookmark) error {
	prepared := make([]schema.Bookmark, 0, len(bookmarks))
	for _, b := range bookmarks {
		if b.PayloadHash == "" {
			h, err := Hash(b.Payload)
			if err != nil {
				return err
			}
			b.PayloadHash = h
		}
		b.InstanceID = instanceID
		prepared = append(prepared, b)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for id := range r.byInstance[instanceID] {
		r.drop(id)
	}
	for _, b := range prepared {
		r.add(b)
	}
	return nil
}

// Get returns a registered bookmark.
func (r *Registry) Get(id string) (schema.Bookmark, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bookmarks[id]
	return b, ok
}

// Len returns the number of active bookmarks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bookmarks)
}

// ByKind returns the active bookmarks of a kind, oldest first.
func (r *Registry) ByKind(kind string) []schema.Bookmark {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []schema.Bookmark
	for _, b := range r.bookmarks {
		if b.Kind == kind {
			out = append(out, b)
		}
	}
	sortBookmarks(out)
	return out
}

// FindResumable returns the bookmarks whose kind and payload exactly match
// the event, oldest first. Under PolicyFirst at most one is returned.
func (r *Registry) FindResumable(event schema.Event) ([]schema.Bookmark, error) {
	h, err := Hash(event.Payload)
	if err != nil {
		return nil, err
	}
	r.mu.RLock()
	ids := r.index[matchKey{event.Kind, h}]
	out := make([]schema.Bookmark, 0, len(ids))
	for id := range ids {
		out = append(out, r.bookmarks[id])
	}
	r.mu.RUnlock()

	sortBookmarks(out)
	if r.policy == PolicyFirst && len(out) > 1 {
		out = out[:1]
	}
	return out, nil
}

// ReplaceTriggers sets the startable triggers of a definition.
func (r *Registry) ReplaceTriggers(definitionID string, descs []schema.TriggerDescriptor) error {
	prepared := make([]schema.TriggerDescriptor, 0, len(descs))
	for _, d := range descs {
		if d.PayloadHash == "" {
			h, err := Hash(d.Payload)
			if err != nil {
				return err
			}
			d.PayloadHash = h
		}
		d.DefinitionID = definitionID
		prepared = append(prepared, d)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(prepared) == 0 {
		delete(r.triggers, definitionID)
		return nil
	}
	r.triggers[definitionID] = prepared
	return nil
}

// RemoveTriggers drops the triggers of a definition.
func (r *Registry) RemoveTriggers(definitionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.triggers, definitionID)
}

// Triggers returns every trigger descriptor of the given kind ("" for all),
// ordered by definition ID then activity ID.
func (r *Registry) Triggers(kind string) []schema.TriggerDescriptor {
	r.mu.RLock()
	var out []schema.TriggerDescriptor
	for _, descs := range r.triggers {
		for _, d := range descs {
			if kind == "" || d.Kind == kind {
				out = append(out, d)
			}
		}
	}
	r.mu.RUnlock()
	sortTriggers(out)
	return out
}

// FindStartable returns the trigger descriptors that accept the event.
// Under PolicyFirst at most one is returned.
func (r *Registry) FindStartable(event schema.Event) ([]schema.TriggerDescriptor, error) {
	h, err := Hash(event.Payload)
	if err != nil {
		return nil, err
	}
	var out []schema.TriggerDescriptor
	for _, d := range r.Triggers(event.Kind) {
		if d.PayloadHash == h {
			out = append(out, d)
		}
	}
	if r.policy == PolicyFirst && len(out) > 1 {
		out = out[:1]
	}
	return out, nil
}

func (r *Registry) add(b schema.Bookmark) {
	r.bookmarks[b.ID] = b
	k := matchKey{b.Kind, b.PayloadHash}
	if r.index[k] == nil {
		r.index[k] = make(map[string]struct{})
	}
	r.index[k][b.ID] = struct{}{}
	if r.byInstance[b.InstanceID] == nil {
		r.byInstance[b.InstanceID] = make(map[string]struct{})
	}
	r.byInstance[b.InstanceID][b.ID] = struct{}{}
}

// drop must be called with mu held.
func (r *Registry) drop(id string) (schema.Bookmark, bool) {
	b, ok := r.bookmarks[id]
	if !ok {
		return schema.Bookmark{}, false
	}
	delete(r.bookmarks, id)
	k := matchKey{b.Kind, b.PayloadHash}
	delete(r.index[k], id)
	if len(r.index[k]) == 0 {
		delete(r.index, k)
	}
	delete(r.byInstance[b.InstanceID], id)
	if len(r.byInstance[b.InstanceID]) == 0 {
		delete(r.byInstance, b.InstanceID)
	}
	return b, true
}

func sortBookmarks(bs []schema.Bookmark) {
	sort.Slice(bs, func(i, j int) bool {
		if !bs[i].CreatedAt.Equal(bs[j].CreatedAt) {
			return bs[i].CreatedAt.Before(bs[j].CreatedAt)
		}
		return bs[i].ID < bs[j].ID
	})
}

func sortTriggers(ds []schema.TriggerDescriptor) {
	sort.Slice(ds, func(i, j int) bool {
		if ds[i].DefinitionID != ds[j].DefinitionID {
			return ds[i].DefinitionID < ds[j].DefinitionID
		}
		return ds[i].ActivityID < ds[j].ActivityID
	})
}
