// Package metrics exposes runtime counters through Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "waypoint"

// Metrics holds the collectors updated by the runtime. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	InstancesStarted    *prometheus.CounterVec
	InstanceTransitions *prometheus.CounterVec
	ActivityTransitions *prometheus.CounterVec
	EventsDispatched    *prometheus.CounterVec
	Resumes             *prometheus.CounterVec
	RunDuration         *prometheus.HistogramVec
	ActiveBookmarks     prometheus.Gauge
	StartableTriggers   prometheus.Gauge
	PoolActive          prometheus.Gauge
}

// New creates the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		InstancesStarted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instances_started_total",
			Help:      "Total number of workflow instances started",
		}, []string{"definition", "trigger"}),
		InstanceTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instance_transitions_total",
			Help:      "Total number of instance status transitions",
		}, []string{"from", "to"}),
		ActivityTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activity_transitions_total",
			Help:      "Total number of activity execution status transitions",
		}, []string{"to"}),
		EventsDispatched: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dispatched_total",
			Help:      "Total number of events dispatched",
		}, []string{"kind", "result"}),
		Resumes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resumes_total",
			Help:      "Total number of bookmark resumption attempts",
		}, []string{"result"}),
		RunDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of scheduler runs in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		ActiveBookmarks: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_bookmarks",
			Help:      "Number of bookmarks in the registry",
		}),
		StartableTriggers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "startable_triggers",
			Help:      "Number of trigger descriptors that can start instances",
		}),
		PoolActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pool_active_workers",
			Help:      "Number of resumptions currently running in the worker pool",
		}),
	}
}

// Registry returns the underlying registry, nil for a nil Metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordStart(definitionID string, triggered bool) {
	if m == nil {
		return
	}
	trigger := "direct"
	if triggered {
		trigger = "event"
	}
	m.InstancesStarted.WithLabelValues(definitionID, trigger).Inc()
}

func (m *Metrics) RecordInstanceTransition(from, to string) {
	if m == nil {
		return
	}
	m.InstanceTransitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) RecordActivityTransition(to string) {
	if m == nil {
		return
	}
	m.ActivityTransitions.WithLabelValues(to).Inc()
}

// RecordDispatch counts an event by whether it resumed instances, started
// new ones, both, or matched nothing.
func (m *Metrics) RecordDispatch(kind string, resumed, started int) {
	if m == nil {
		return
	}
	result := "unmatched"
	switch {
	case resumed > 0 && started > 0:
		result = "resumed_and_started"
	case resumed > 0:
		result = "resumed"
	case started > 0:
		result = "started"
	}
	m.EventsDispatched.WithLabelValues(kind, result).Inc()
}

// RecordResume counts one resumption attempt: "resumed", "lost_claim" or "failed".
func (m *Metrics) RecordResume(result string) {
	if m == nil {
		return
	}
	m.Resumes.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveRun(operation string, d time.Duration) {
	if m == nil {
		return
	}
	m.RunDuration.WithLabelValues(operation).Observe(d.Seconds())
}

func (m *Metrics) SetRegistrySize(bookmarks, triggers int) {
	if m == nil {
		return
	}
	m.ActiveBookmarks.Set(float64(bookmarks))
	m.StartableTriggers.Set(float64(triggers))
}

func (m *Metrics) SetPoolActive(n int64) {
	if m == nil {
		return
	}
	m.PoolActive.Set(float64(n))
}
