package runtime

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"dario.cat/mergo"

	"github.com/rendis/waypoint/internal/bookmarks"
	"github.com/rendis/waypoint/internal/engine"
	"github.com/rendis/waypoint/internal/store"
	"github.com/rendis/waypoint/internal/xjson"
	"github.com/rendis/waypoint/pkg/schema"
)

// StartNewInstance creates an instance of the latest version of a definition
// and runs it until it completes, suspends or faults.
func (r *Runtime) StartNewInstance(ctx context.Context, definitionID string, inputs map[string]any) (*InstanceHandle, error) {
	def, err := r.Definition(ctx, definitionID, 0)
	if err != nil {
		return nil, err
	}
	ctx, q := withFollowUps(ctx)
	st, err := r.start(ctx, def, inputs, "", nil, nil)
	if err != nil {
		return nil, err
	}
	if r.drain(ctx, q) {
		if fresh, err := r.store.GetInstance(ctx, st.ID); err == nil {
			st = fresh
		}
	}
	return handleOf(st), nil
}

// start creates and runs an instance. child is set when the instance was
// reserved by a DispatchWorkflow activity.
func (r *Runtime) start(ctx context.Context, def *engine.Definition, inputs map[string]any, triggerActivityID string, event *schema.Event, child *pendingChild) (*schema.InstanceState, error) {
	merged, err := mergeInputs(def.Inputs(), inputs)
	if err != nil {
		return nil, err
	}
	if err := r.validator.ValidateInputs(def.Inputs(), merged); err != nil {
		return nil, err
	}
	id := r.newID()
	if child != nil {
		id = child.id
	}
	st, err := def.NewInstance(id, merged, r.now())
	if err != nil {
		return nil, err
	}
	if child != nil {
		st.ParentInstanceID = child.req.ParentInstanceID
		st.ParentActivityID = child.req.ParentActivityID
	}
	r.owners.Store(st.ID, def.ID())

	unlock := r.locks.Lock(st.ID)
	defer unlock()

	ctx, log := r.logFor(ctx, st)
	began := time.Now()
	runErr := r.scheduler.Start(ctx, def, st, triggerActivityID, event)
	r.metrics.ObserveRun("start", time.Since(began))
	if runErr != nil && st.Status == schema.InstanceStatusPending {
		return nil, runErr
	}
	if err := r.persist(context.WithoutCancel(ctx), st); err != nil {
		return nil, errors.Join(runErr, err)
	}
	if runErr != nil {
		return nil, runErr
	}
	r.metrics.RecordStart(def.ID(), triggerActivityID != "")
	log.Info("instance started",
		slog.String("status", string(st.Status)),
		slog.String("trigger_activity_id", triggerActivityID),
		slog.Int("bookmarks", len(st.Bookmarks)))
	return st, nil
}

// mergeInputs fills inputs the caller omitted with their declared defaults.
// A caller value wins even when it is a zero value; object defaults fill keys
// missing from a caller object.
func mergeInputs(defs []schema.InputDefinition, inputs map[string]any) (map[string]any, error) {
	merged := make(map[string]any, len(defs))
	if len(inputs) > 0 {
		norm, err := xjson.Normalize(inputs)
		if err != nil {
			return nil, schema.NewError(schema.ErrCodeValidation, "inputs are not serializable").WithCause(err)
		}
		merged, _ = norm.(map[string]any)
	}
	defaults := make(map[string]any, len(defs))
	for _, d := range defs {
		if d.Default != nil {
			defaults[d.Name] = d.Default
		}
	}
	if err := mergo.Merge(&merged, defaults, mergo.WithoutDereference); err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "merge input defaults").WithCause(err)
	}
	return merged, nil
}

// ResumeInstance delivers an event to one instance. Bookmarks of the
// instance matching the event's kind and payload are resumed (all of them,
// or only the oldest under the first-match policy). An event that matches
// nothing leaves the instance unchanged and is not an error.
func (r *Runtime) ResumeInstance(ctx context.Context, instanceID string, event schema.Event) (schema.InstanceStatus, error) {
	ctx, q := withFollowUps(ctx)
	status, err := r.resumeInstance(ctx, instanceID, event)
	if r.drain(ctx, q) && err == nil {
		if fresh, gerr := r.store.GetInstance(ctx, instanceID); gerr == nil {
			status = fresh.Status
		}
	}
	return status, err
}

func (r *Runtime) resumeInstance(ctx context.Context, instanceID string, event schema.Event) (schema.InstanceStatus, error) {
	unlock := r.locks.Lock(instanceID)
	defer unlock()

	st, def, err := r.load(ctx, instanceID)
	if err != nil {
		return "", err
	}
	h, err := bookmarks.Hash(event.Payload)
	if err != nil {
		return st.Status, schema.NewError(schema.ErrCodeValidation, "event payload is not serializable").WithCause(err)
	}
	var matched []schema.Bookmark
	for _, b := range st.Bookmarks {
		if b.Kind == event.Kind && b.PayloadHash == h {
			matched = append(matched, b)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].CreatedAt.Before(matched[j].CreatedAt) })
	if r.registry.Policy() == bookmarks.PolicyFirst && len(matched) > 1 {
		matched = matched[:1]
	}
	if _, err := r.resumeLocked(ctx, def, st, matched, event, false); err != nil {
		return st.Status, err
	}
	return st.Status, nil
}

// resumeLocked resumes the candidate bookmarks of a loaded instance in order,
// then persists it. The caller holds the instance lock. When requireClaim is
// set, a bookmark is only resumed if this call wins its registry claim.
func (r *Runtime) resumeLocked(ctx context.Context, def *engine.Definition, st *schema.InstanceState, candidates []schema.Bookmark, event schema.Event, requireClaim bool) (int, error) {
	ctx, log := r.logFor(ctx, st)
	began := time.Now()
	resumed := 0
	var runErr error
	for _, b := range candidates {
		if st.Status.Terminal() {
			break
		}
		if _, ok := st.Bookmark(b.ID); !ok {
			continue
		}
		if _, won := r.registry.Claim(b.ID); !won && requireClaim {
			r.metrics.RecordResume("lost_claim")
			log.Debug("bookmark claimed elsewhere", slog.String("bookmark_id", b.ID))
			continue
		}
		if err := r.scheduler.Resume(ctx, def, st, b.ID, event); err != nil {
			r.metrics.RecordResume("failed")
			runErr = err
			break
		}
		r.metrics.RecordResume("resumed")
		resumed++
		log.Info("bookmark resumed",
			slog.String("bookmark_id", b.ID),
			slog.String("activity_id", b.ActivityID),
			slog.String("status", string(st.Status)))
	}
	r.metrics.ObserveRun("resume", time.Since(began))

	if resumed == 0 && runErr == nil {
		// Nothing changed; drop stale registry entries for this instance.
		return 0, r.registry.SyncInstance(st.ID, st.Bookmarks)
	}
	if resumed == 0 {
		return 0, errors.Join(runErr, r.resync(context.WithoutCancel(ctx), st.ID))
	}
	if err := r.persist(context.WithoutCancel(ctx), st); err != nil {
		return resumed, errors.Join(runErr, err)
	}
	return resumed, runErr
}

// resync restores an instance's registry entries from its stored state.
func (r *Runtime) resync(ctx context.Context, instanceID string) error {
	stored, err := r.store.GetInstance(ctx, instanceID)
	if err != nil {
		r.registry.RemoveInstance(instanceID)
		return err
	}
	return r.registry.SyncInstance(instanceID, stored.Bookmarks)
}

// load fetches an instance and the definition version it runs.
func (r *Runtime) load(ctx context.Context, instanceID string) (*schema.InstanceState, *engine.Definition, error) {
	st, err := r.store.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, nil, err
	}
	def, err := r.Definition(ctx, st.DefinitionID, st.DefinitionVersion)
	if err != nil {
		return nil, nil, err
	}
	r.owners.Store(st.ID, st.DefinitionID)
	return st, def, nil
}

// CancelInstance stops a non-terminal instance and removes its bookmarks.
func (r *Runtime) CancelInstance(ctx context.Context, instanceID, reason string) error {
	ctx, q := withFollowUps(ctx)
	defer r.drain(ctx, q)

	unlock := r.locks.Lock(instanceID)
	defer unlock()

	st, def, err := r.load(ctx, instanceID)
	if err != nil {
		return err
	}
	if reason == "" {
		reason = "cancelled by host"
	}
	if err := r.scheduler.Cancel(ctx, def, st, reason); err != nil {
		return err
	}
	if err := r.persist(ctx, st); err != nil {
		return err
	}
	_, log := r.logFor(ctx, st)
	log.Info("instance cancelled", slog.String("reason", reason))
	return nil
}

// DeleteInstance removes an instance, its journal and its bookmarks.
func (r *Runtime) DeleteInstance(ctx context.Context, instanceID string) error {
	unlock := r.locks.Lock(instanceID)
	defer unlock()

	if err := r.store.DeleteInstance(ctx, instanceID); err != nil {
		return err
	}
	r.registry.RemoveInstance(instanceID)
	r.owners.Delete(instanceID)
	r.updateGauges()
	return nil
}

// Instance returns the stored state of an instance.
func (r *Runtime) Instance(ctx context.Context, instanceID string) (*schema.InstanceState, error) {
	return r.store.GetInstance(ctx, instanceID)
}

// ListInstances returns stored instances matching the filter.
func (r *Runtime) ListInstances(ctx context.Context, filter store.InstanceFilter) ([]*schema.InstanceState, error) {
	return r.store.ListInstances(ctx, filter)
}

// History returns the journal of an instance after the given sequence.
func (r *Runtime) History(ctx context.Context, instanceID string, since int64) ([]*store.Event, error) {
	return r.journal.GetEvents(ctx, instanceID, since)
}

// Activities folds the journal of an instance into per-activity records.
func (r *Runtime) Activities(ctx context.Context, instanceID string) (map[string]*store.ActivityRecord, error) {
	return r.journal.Replay(ctx, instanceID)
}
