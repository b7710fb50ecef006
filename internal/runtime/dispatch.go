package runtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/rendis/waypoint/internal/bookmarks"
	"github.com/rendis/waypoint/pkg/schema"
)

// DispatchResult reports what one dispatched event did.
type DispatchResult struct {
	Resumed []string `json:"resumed,omitempty"` // instance IDs
	Started []string `json:"started,omitempty"` // new instance IDs
}

// InstanceIDs returns resumed then started instance IDs.
func (d DispatchResult) InstanceIDs() []string {
	return append(append([]string(nil), d.Resumed...), d.Started...)
}

// DispatchEvent routes an event to every suspended instance with a matching
// bookmark and starts a new instance for every matching startable trigger.
// Under the first-match policy a trigger only fires when no bookmark matched.
// It returns the IDs of the instances resumed or started.
func (r *Runtime) DispatchEvent(ctx context.Context, event schema.Event) ([]string, error) {
	res, err := r.Dispatch(ctx, event)
	return res.InstanceIDs(), err
}

// Dispatch is DispatchEvent with the resumed and started sets kept apart.
func (r *Runtime) Dispatch(ctx context.Context, event schema.Event) (DispatchResult, error) {
	var res DispatchResult
	if event.Kind == "" {
		return res, schema.NewError(schema.ErrCodeValidation, "event kind is required")
	}
	ctx, q := withFollowUps(ctx)
	defer r.drain(ctx, q)

	matches, err := r.registry.FindResumable(event)
	if err != nil {
		return res, schema.NewError(schema.ErrCodeValidation, "event payload is not serializable").WithCause(err)
	}

	var order []string
	byInstance := make(map[string][]schema.Bookmark)
	for _, b := range matches {
		if _, ok := byInstance[b.InstanceID]; !ok {
			order = append(order, b.InstanceID)
		}
		byInstance[b.InstanceID] = append(byInstance[b.InstanceID], b)
	}

	var mu sync.Mutex
	tasks := make([]Task, 0, len(order))
	for _, id := range order {
		id, candidates := id, byInstance[id]
		tasks = append(tasks, func(ctx context.Context) error {
			n, err := r.resumeMatched(ctx, id, candidates, event)
			if n > 0 {
				mu.Lock()
				res.Resumed = append(res.Resumed, id)
				mu.Unlock()
			}
			return err
		})
	}
	errs := r.pool.RunAll(ctx, tasks)

	if r.registry.Policy() == bookmarks.PolicyBroadcast || len(res.Resumed) == 0 {
		started, err := r.startTriggered(ctx, event)
		res.Started = started
		errs = append(errs, err)
	}

	r.metrics.RecordDispatch(event.Kind, len(res.Resumed), len(res.Started))
	r.logger.Debug("event dispatched",
		slog.String("kind", event.Kind),
		slog.Int("resumed", len(res.Resumed)),
		slog.Int("started", len(res.Started)))
	return res, errors.Join(errs...)
}

// resumeMatched resumes registry matches of one instance under its lock.
func (r *Runtime) resumeMatched(ctx context.Context, instanceID string, candidates []schema.Bookmark, event schema.Event) (int, error) {
	unlock := r.locks.Lock(instanceID)
	defer unlock()

	st, def, err := r.load(ctx, instanceID)
	if err != nil {
		if schema.IsCode(err, schema.ErrCodeNotFound) {
			r.registry.RemoveInstance(instanceID)
		}
		return 0, err
	}
	return r.resumeLocked(ctx, def, st, candidates, event, true)
}

// startTriggered starts one instance per startable trigger matching event.
func (r *Runtime) startTriggered(ctx context.Context, event schema.Event) ([]string, error) {
	descs, err := r.registry.FindStartable(event)
	if err != nil {
		return nil, err
	}
	var started []string
	var errs []error
	for _, d := range descs {
		def, err := r.Definition(ctx, d.DefinitionID, 0)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		ev := event
		st, err := r.start(ctx, def, event.Input, d.ActivityID, &ev, nil)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		started = append(started, st.ID)
	}
	return started, errors.Join(errs...)
}
