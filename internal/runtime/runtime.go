// Package runtime hosts workflow definitions and instances: it starts
// instances, routes events to suspended ones through the bookmark registry,
// and persists every instance when it comes to rest.
package runtime

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/waypoint/internal/activities"
	"github.com/rendis/waypoint/internal/bookmarks"
	"github.com/rendis/waypoint/internal/engine"
	"github.com/rendis/waypoint/internal/expressions"
	"github.com/rendis/waypoint/internal/logging"
	"github.com/rendis/waypoint/internal/metrics"
	"github.com/rendis/waypoint/internal/secrets"
	"github.com/rendis/waypoint/internal/store"
	"github.com/rendis/waypoint/internal/streaming"
	"github.com/rendis/waypoint/internal/validation"
	"github.com/rendis/waypoint/pkg/schema"
)

// DefaultPoolSize is the default number of instances resumed concurrently.
const DefaultPoolSize = 10

const defaultHTTPTimeout = 30 * time.Second

// Config holds runtime tuning.
type Config struct {
	PoolSize    int                   // max concurrent resumptions per dispatch
	MatchPolicy bookmarks.MatchPolicy // broadcast (default) or first
	MaxSteps    int                   // scheduler work items per call (0 = engine default)
}

// InstanceHandle is what the host gets back from starting an instance.
type InstanceHandle struct {
	InstanceID   string                `json:"instance_id"`
	DefinitionID string                `json:"definition_id"`
	Version      int                   `json:"version"`
	Status       schema.InstanceStatus `json:"status"`
	Fault        *schema.Fault         `json:"fault,omitempty"`
	Bookmarks    []schema.Bookmark     `json:"bookmarks,omitempty"`
}

func handleOf(st *schema.InstanceState) *InstanceHandle {
	return &InstanceHandle{
		InstanceID:   st.ID,
		DefinitionID: st.DefinitionID,
		Version:      st.DefinitionVersion,
		Status:       st.Status,
		Fault:        st.Fault,
		Bookmarks:    st.Bookmarks,
	}
}

// Runtime is the host-facing entry point. It is safe for concurrent use:
// calls on different instances run in parallel, calls on the same instance
// are serialized.
type Runtime struct {
	config     Config
	store      store.Store
	journal    *store.EventLog
	scheduler  *engine.Scheduler
	registry   *bookmarks.Registry
	activities *activities.Registry
	loader     *activities.Loader
	validator  *validation.WorkflowValidator
	services   *engine.Services
	hub        streaming.EventHub
	metrics    *metrics.Metrics
	vault      secrets.Vault
	pool       *WorkerPool
	logger     *slog.Logger
	now        func() time.Time
	newID      func() string

	locks keyedMutex

	mu          sync.RWMutex
	definitions map[string]map[int]*engine.Definition
	latest      map[string]int
	owners      sync.Map // instance ID -> definition ID, for stream events
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithStore sets the persistence backend. Defaults to a MemoryStore.
func WithStore(s store.Store) Option { return func(r *Runtime) { r.store = s } }

// WithActivities sets the activity catalog used for JSON definitions.
func WithActivities(reg *activities.Registry) Option {
	return func(r *Runtime) { r.activities = reg }
}

// WithServices sets the services handed to activities.
func WithServices(s *engine.Services) Option { return func(r *Runtime) { r.services = s } }

// WithHub publishes journal events to an EventHub.
func WithHub(h streaming.EventHub) Option { return func(r *Runtime) { r.hub = h } }

// WithMetrics records runtime metrics.
func WithMetrics(m *metrics.Metrics) Option { return func(r *Runtime) { r.metrics = m } }

// WithVault enables ${{ secrets.KEY }} references in template bindings.
func WithVault(v secrets.Vault) Option { return func(r *Runtime) { r.vault = v } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(r *Runtime) { r.logger = l } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(r *Runtime) { r.now = now } }

// WithIDGenerator overrides instance ID generation.
func WithIDGenerator(gen func() string) Option { return func(r *Runtime) { r.newID = gen } }

// New creates a Runtime.
func New(cfg Config, opts ...Option) (*Runtime, error) {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultPoolSize
	}
	if cfg.MatchPolicy == "" {
		cfg.MatchPolicy = bookmarks.PolicyBroadcast
	}
	r := &Runtime{
		config:      cfg,
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
		definitions: make(map[string]map[int]*engine.Definition),
		latest:      make(map[string]int),
	}
	for _, o := range opts {
		o(r)
	}
	r.logger = logging.OrDiscard(r.logger)
	if r.store == nil {
		r.store = store.NewMemoryStore()
	}
	if r.activities == nil {
		r.activities = activities.NewDefaultRegistry()
	}
	if r.services == nil {
		r.services = engine.NewServices(nil)
	}
	r.defaultServices()

	validator, err := validation.NewWorkflowValidator(r.activities)
	if err != nil {
		return nil, err
	}
	r.validator = validator
	r.loader = activities.NewLoader(r.activities)
	r.registry = bookmarks.NewRegistry(cfg.MatchPolicy)
	r.journal = store.NewEventLog(r.store)
	r.pool = NewWorkerPool(cfg.PoolSize, r.metrics.SetPoolActive)

	schedOpts := []engine.SchedulerOption{
		engine.WithServices(r.services),
		engine.WithAppender(&publishingAppender{journal: r.journal, hub: r.hub, owners: &r.owners, logger: r.logger}),
		engine.WithLogger(r.logger),
		engine.WithClock(r.now),
	}
	if cfg.MaxSteps > 0 {
		schedOpts = append(schedOpts, engine.WithMaxSteps(cfg.MaxSteps))
	}
	if r.vault != nil {
		ev, err := expressions.NewDefaultEvaluator(expressions.NewTemplateEngine(r.vault))
		if err != nil {
			return nil, err
		}
		schedOpts = append(schedOpts, engine.WithEvaluator(ev))
	}
	sched, err := engine.NewScheduler(schedOpts...)
	if err != nil {
		return nil, err
	}
	r.scheduler = sched
	r.observeTransitions()
	return r, nil
}

// defaultServices fills in the services built-in activities look for.
func (r *Runtime) defaultServices() {
	if _, ok := r.services.Service(engine.ServiceHTTPClient); !ok {
		r.services.Register(engine.ServiceHTTPClient, &http.Client{Timeout: defaultHTTPTimeout})
	}
	if _, ok := r.services.Service(engine.ServiceBreakers); !ok {
		r.services.Register(engine.ServiceBreakers, activities.NewCircuitBreakers(activities.DefaultCircuitBreakerConfig()))
	}
	if _, ok := r.services.Service(engine.ServiceOutput); !ok {
		r.services.Register(engine.ServiceOutput, os.Stdout)
	}
	if _, ok := r.services.Service(engine.ServiceWorkflows); !ok {
		r.services.Register(engine.ServiceWorkflows, r)
	}
}

// observeTransitions feeds FSM transitions into the metrics.
func (r *Runtime) observeTransitions() {
	if r.metrics == nil {
		return
	}
	for from, tos := range engine.ValidInstanceTransitions {
		for _, to := range tos {
			r.scheduler.InstanceFSM().OnAfter(from, to, func(_ string, from, to string) error {
				r.metrics.RecordInstanceTransition(from, to)
				return nil
			})
		}
	}
	for from, tos := range engine.ValidActivityTransitions {
		for _, to := range tos {
			r.scheduler.ActivityFSM().OnAfter(from, to, func(_ string, _, to string) error {
				r.metrics.RecordActivityTransition(to)
				return nil
			})
		}
	}
}

// Scheduler exposes the scheduler, e.g. to register FSM hooks.
func (r *Runtime) Scheduler() *engine.Scheduler { return r.scheduler }

// Bookmarks exposes the bookmark registry.
func (r *Runtime) Bookmarks() *bookmarks.Registry { return r.registry }

// Catalog exposes the activity catalog.
func (r *Runtime) Catalog() *activities.Registry { return r.activities }

// Store exposes the persistence backend.
func (r *Runtime) Store() store.Store { return r.store }

// Close waits for in-flight resumptions and stops the worker pool. The store
// is owned by the caller.
func (r *Runtime) Close() {
	r.pool.Shutdown()
}

// persist saves an instance that came to rest and mirrors its bookmarks into
// the registry.
func (r *Runtime) persist(ctx context.Context, st *schema.InstanceState) error {
	st.UpdatedAt = r.now()
	if st.Status.Terminal() && st.CompletedAt == nil {
		at := st.UpdatedAt
		st.CompletedAt = &at
	}
	if err := r.store.SaveInstance(ctx, st); err != nil {
		return err
	}
	if err := r.registry.SyncInstance(st.ID, st.Bookmarks); err != nil {
		return err
	}
	r.updateGauges()
	r.noteCompletion(ctx, st)
	return nil
}

func (r *Runtime) updateGauges() {
	r.metrics.SetRegistrySize(r.registry.Len(), len(r.registry.Triggers("")))
}

// logFor returns a logger carrying the instance correlation IDs.
func (r *Runtime) logFor(ctx context.Context, st *schema.InstanceState) (context.Context, *slog.Logger) {
	ctx = logging.WithInstanceID(ctx, st.ID)
	ctx = logging.WithDefinitionID(ctx, st.DefinitionID)
	return ctx, logging.LogWith(ctx, r.logger)
}

// keyedMutex serializes work per instance ID.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

// Lock acquires the mutex for key and returns its release function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refMutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
