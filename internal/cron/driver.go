// Package cron fires Cron triggers and Cron bookmarks. On every tick it
// collects the cron expressions the registry currently knows, and for each
// expression whose next activation has passed it dispatches
// {kind: "Cron", payload: expression}.
package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/waypoint/internal/activities"
	"github.com/rendis/waypoint/internal/logging"
	"github.com/rendis/waypoint/pkg/schema"
)

// DefaultInterval is how often the driver looks for due expressions.
const DefaultInterval = 15 * time.Second

// Source lists the cron triggers and bookmarks to drive. Satisfied by
// *bookmarks.Registry.
type Source interface {
	Triggers(kind string) []schema.TriggerDescriptor
	ByKind(kind string) []schema.Bookmark
}

// Dispatcher delivers events. Satisfied by *runtime.Runtime.
type Dispatcher interface {
	DispatchEvent(ctx context.Context, event schema.Event) ([]string, error)
}

// Driver polls the Source and dispatches due cron events.
type Driver struct {
	source     Source
	dispatcher Dispatcher
	parser     cron.Parser
	interval   time.Duration
	logger     *slog.Logger
	now        func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	schedMu sync.Mutex
	next    map[string]time.Time // expression -> next activation

	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

// Option configures a Driver.
type Option func(*Driver)

// WithInterval sets the polling interval.
func WithInterval(d time.Duration) Option {
	return func(dr *Driver) {
		if d > 0 {
			dr.interval = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(dr *Driver) { dr.logger = l } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(dr *Driver) { dr.now = now } }

// NewDriver creates a Driver.
func NewDriver(source Source, dispatcher Dispatcher, opts ...Option) *Driver {
	d := &Driver{
		source:     source,
		dispatcher: dispatcher,
		parser:     activities.CronParser,
		interval:   DefaultInterval,
		now:        func() time.Time { return time.Now().UTC() },
		next:       make(map[string]time.Time),
		inflight:   make(map[string]struct{}),
	}
	for _, o := range opts {
		o(d)
	}
	d.logger = logging.OrDiscard(d.logger)
	return d
}

// Start launches the polling loop.
func (d *Driver) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.done != nil {
		d.mu.Unlock()
		return fmt.Errorf("cron driver already started")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})
	d.mu.Unlock()

	go d.loop(loopCtx)
	d.logger.Info("cron driver started", slog.Duration("interval", d.interval))
	return nil
}

func (d *Driver) loop(ctx context.Context) {
	defer close(d.done)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Tick(ctx)
		}
	}
}

// Stop shuts the loop down and waits for the current tick.
func (d *Driver) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel == nil {
		return nil
	}
	d.cancel()
	<-d.done
	d.cancel = nil
	d.done = nil
	d.logger.Info("cron driver stopped")
	return nil
}

// Tick dispatches every expression that is due and returns how many were
// dispatched. An expression seen for the first time is scheduled from now
// and does not fire on that tick.
func (d *Driver) Tick(ctx context.Context) int {
	now := d.now()
	fired := 0
	for _, expr := range d.expressions() {
		due, err := d.due(expr, now)
		if err != nil {
			d.logger.Warn("skipping cron expression", slog.String("expression", expr), slog.String("error", err.Error()))
			continue
		}
		if !due || !d.tryAcquire(expr) {
			continue
		}
		ids, err := d.dispatcher.DispatchEvent(ctx, schema.Event{Kind: activities.KindCron, Payload: expr})
		d.release(expr)
		if err != nil {
			d.logger.Error("cron dispatch failed", slog.String("expression", expr), slog.String("error", err.Error()))
			continue
		}
		fired++
		d.logger.Debug("cron fired", slog.String("expression", expr), slog.Int("instances", len(ids)))
	}
	return fired
}

// expressions returns the distinct cron expressions in the source and
// forgets schedules for expressions that are gone.
func (d *Driver) expressions() []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(p any) {
		expr, ok := p.(string)
		if !ok || expr == "" {
			return
		}
		if _, dup := seen[expr]; dup {
			return
		}
		seen[expr] = struct{}{}
		out = append(out, expr)
	}
	for _, t := range d.source.Triggers(activities.KindCron) {
		add(t.Payload)
	}
	for _, b := range d.source.ByKind(activities.KindCron) {
		add(b.Payload)
	}

	d.schedMu.Lock()
	for expr := range d.next {
		if _, ok := seen[expr]; !ok {
			delete(d.next, expr)
		}
	}
	d.schedMu.Unlock()
	return out
}

// due reports whether expr's activation has passed and, if so, advances it.
func (d *Driver) due(expr string, now time.Time) (bool, error) {
	d.schedMu.Lock()
	defer d.schedMu.Unlock()
	next, known := d.next[expr]
	if known && next.After(now) {
		return false, nil
	}
	following, err := d.CalculateNextRun(expr, now)
	if err != nil {
		return false, err
	}
	d.next[expr] = following
	return known, nil
}

// NextRun returns the scheduled activation of a tracked expression.
func (d *Driver) NextRun(expr string) (time.Time, bool) {
	d.schedMu.Lock()
	defer d.schedMu.Unlock()
	t, ok := d.next[expr]
	return t, ok
}

// CalculateNextRun computes the next activation of a cron expression.
func (d *Driver) CalculateNextRun(expr string, from time.Time) (time.Time, error) {
	schedule, err := d.parser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", expr, err)
	}
	return schedule.Next(from), nil
}

func (d *Driver) tryAcquire(expr string) bool {
	d.inflightMu.Lock()
	defer d.inflightMu.Unlock()
	if _, ok := d.inflight[expr]; ok {
		return false
	}
	d.inflight[expr] = struct{}{}
	return true
}

func (d *Driver) release(expr string) {
	d.inflightMu.Lock()
	defer d.inflightMu.Unlock()
	delete(d.inflight, expr)
}
