package runtime

import (
	"context"
	"log/slog"
	"sort"

	"github.com/rendis/waypoint/internal/engine"
	"github.com/rendis/waypoint/pkg/schema"
)

// RegisterDefinition makes a built definition available to StartNewInstance
// and indexes its startable triggers. Definitions loaded from JSON are also
// saved to the store so they survive restarts.
func (r *Runtime) RegisterDefinition(ctx context.Context, def *engine.Definition) error {
	if def == nil {
		return schema.NewError(schema.ErrCodeValidation, "definition is nil")
	}
	if err := r.index(def); err != nil {
		return err
	}
	if src := def.Source(); src != nil {
		saved := *src
		saved.Version = def.Version()
		if err := r.store.SaveDefinition(ctx, &saved); err != nil {
			return err
		}
	}
	r.logger.Info("definition registered",
		slog.String("definition_id", def.ID()),
		slog.Int("version", def.Version()),
		slog.Int("triggers", len(def.Triggers())))
	return nil
}

// RegisterJSON validates a JSON definition, builds it with the activity
// catalog and registers it.
func (r *Runtime) RegisterJSON(ctx context.Context, wd *schema.WorkflowDefinition) (*engine.Definition, error) {
	if err := r.validator.ValidateDefinition(wd); err != nil {
		return nil, err
	}
	def, err := r.loader.Load(wd)
	if err != nil {
		return nil, err
	}
	if err := r.RegisterDefinition(ctx, def); err != nil {
		return nil, err
	}
	return def, nil
}

// Validate runs the definition validator without registering anything.
func (r *Runtime) Validate(wd *schema.WorkflowDefinition) *schema.ValidationResult {
	return r.validator.Validate(wd)
}

// index stores def in memory. The newest version of a definition owns its
// trigger descriptors.
func (r *Runtime) index(def *engine.Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	versions, ok := r.definitions[def.ID()]
	if !ok {
		versions = make(map[int]*engine.Definition)
		r.definitions[def.ID()] = versions
	}
	versions[def.Version()] = def
	if def.Version() < r.latest[def.ID()] {
		return nil
	}
	r.latest[def.ID()] = def.Version()
	if err := r.registry.ReplaceTriggers(def.ID(), def.Triggers()); err != nil {
		return err
	}
	return nil
}

// Definition returns a registered definition; version 0 means latest. JSON
// definitions not yet in memory are loaded from the store.
func (r *Runtime) Definition(ctx context.Context, id string, version int) (*engine.Definition, error) {
	r.mu.RLock()
	v := version
	if v == 0 {
		v = r.latest[id]
	}
	def, ok := r.definitions[id][v]
	r.mu.RUnlock()
	if ok {
		return def, nil
	}

	wd, err := r.store.GetDefinition(ctx, id, version)
	if err != nil {
		if schema.IsCode(err, schema.ErrCodeNotFound) {
			return nil, schema.NewErrorf(schema.ErrCodeNotFound, "definition %q not registered", id)
		}
		return nil, err
	}
	def, err = r.loader.Load(wd)
	if err != nil {
		return nil, err
	}
	if err := r.index(def); err != nil {
		return nil, err
	}
	return def, nil
}

// DefinitionSummary describes a registered definition.
type DefinitionSummary struct {
	ID       string                     `json:"id"`
	Version  int                        `json:"version"`
	Name     string                     `json:"name,omitempty"`
	Inputs   []schema.InputDefinition   `json:"inputs,omitempty"`
	Triggers []schema.TriggerDescriptor `json:"triggers,omitempty"`
}

// Definitions lists the latest version of every registered definition,
// ordered by ID.
func (r *Runtime) Definitions() []DefinitionSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]DefinitionSummary, 0, len(r.latest))
	for id, v := range r.latest {
		def := r.definitions[id][v]
		out = append(out, DefinitionSummary{
			ID:       def.ID(),
			Version:  def.Version(),
			Name:     def.Name(),
			Inputs:   def.Inputs(),
			Triggers: def.Triggers(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
