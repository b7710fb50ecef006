package runtime

import (
	"context"
	"errors"
	"log/slog"

	"github.com/rendis/waypoint/internal/store"
	"github.com/rendis/waypoint/pkg/schema"
)

// RecoverStats summarizes a Recover pass.
type RecoverStats struct {
	Definitions int `json:"definitions"`
	Bookmarks   int `json:"bookmarks"`
	Continued   int `json:"continued"`
}

// Recover rebuilds in-memory state after a restart: JSON definitions are
// reloaded from the store (re-indexing their triggers), the bookmark registry
// is rebuilt from stored instances, and instances interrupted mid-run are
// run to their next rest point.
func (r *Runtime) Recover(ctx context.Context) (RecoverStats, error) {
	var stats RecoverStats
	var errs []error

	defs, err := r.store.ListDefinitions(ctx)
	if err != nil {
		return stats, err
	}
	for _, wd := range defs {
		def, err := r.loader.Load(wd)
		if err != nil {
			r.logger.Warn("skipping stored definition",
				slog.String("definition_id", wd.ID),
				slog.String("error", err.Error()))
			errs = append(errs, err)
			continue
		}
		if err := r.index(def); err != nil {
			errs = append(errs, err)
			continue
		}
		stats.Definitions++
	}

	bms, err := r.store.ListBookmarks(ctx)
	if err != nil {
		return stats, err
	}
	byInstance := make(map[string][]schema.Bookmark)
	for _, b := range bms {
		byInstance[b.InstanceID] = append(byInstance[b.InstanceID], b)
	}
	for id, list := range byInstance {
		if err := r.registry.SyncInstance(id, list); err != nil {
			errs = append(errs, err)
			continue
		}
		stats.Bookmarks += len(list)
	}

	running := schema.InstanceStatusRunning
	interrupted, err := r.store.ListInstances(ctx, store.InstanceFilter{Status: &running})
	if err != nil {
		return stats, errors.Join(append(errs, err)...)
	}
	for _, st := range interrupted {
		if err := r.continueRun(ctx, st.ID); err != nil {
			errs = append(errs, err)
			continue
		}
		stats.Continued++
	}

	r.updateGauges()
	r.logger.Info("runtime recovered",
		slog.Int("definitions", stats.Definitions),
		slog.Int("bookmarks", stats.Bookmarks),
		slog.Int("continued", stats.Continued))
	return stats, errors.Join(errs...)
}

// continueRun drives a Running instance's pending work list.
func (r *Runtime) continueRun(ctx context.Context, instanceID string) error {
	ctx, q := withFollowUps(ctx)
	defer r.drain(ctx, q)

	unlock := r.locks.Lock(instanceID)
	defer unlock()

	st, def, err := r.load(ctx, instanceID)
	if err != nil {
		return err
	}
	if st.Status != schema.InstanceStatusRunning {
		return nil
	}
	ctx, _ = r.logFor(ctx, st)
	runErr := r.scheduler.Run(ctx, def, st)
	if err := r.persist(context.WithoutCancel(ctx), st); err != nil {
		return errors.Join(runErr, err)
	}
	return runErr
}
