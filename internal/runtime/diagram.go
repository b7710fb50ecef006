package runtime

import (
	"context"

	"github.com/rendis/waypoint/internal/diagram"
	"github.com/rendis/waypoint/internal/store"
	"github.com/rendis/waypoint/pkg/schema"
)

// Diagram builds a drawable model of a definition. With an instanceID the
// instance's definition version is used and activity statuses replayed from
// the journal are overlaid; otherwise definitionID at version (0 = latest).
func (r *Runtime) Diagram(ctx context.Context, definitionID string, version int, instanceID string) (*diagram.DiagramModel, error) {
	var records map[string]*store.ActivityRecord
	if instanceID != "" {
		st, err := r.store.GetInstance(ctx, instanceID)
		if err != nil {
			return nil, err
		}
		definitionID, version = st.DefinitionID, st.DefinitionVersion
		if records, err = r.journal.Replay(ctx, instanceID); err != nil {
			return nil, err
		}
	}
	if definitionID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "definition_id or instance_id is required")
	}
	def, err := r.Definition(ctx, definitionID, version)
	if err != nil {
		return nil, err
	}
	model, err := diagram.Build(def, records)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, err.Error()).WithCause(err)
	}
	return model, nil
}
