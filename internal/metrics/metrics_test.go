package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()
	m.RecordStart("order", false)
	m.RecordStart("order", true)
	m.RecordStart("order", true)
	m.RecordInstanceTransition("running", "suspended")
	m.RecordActivityTransition("completed")
	m.RecordResume("resumed")
	m.RecordResume("lost_claim")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.InstancesStarted.WithLabelValues("order", "direct")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.InstancesStarted.WithLabelValues("order", "event")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.InstanceTransitions.WithLabelValues("running", "suspended")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActivityTransitions.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Resumes.WithLabelValues("lost_claim")))
}

func TestMetrics_DispatchResult(t *testing.T) {
	m := New()
	m.RecordDispatch("Event", 0, 0)
	m.RecordDispatch("Event", 2, 0)
	m.RecordDispatch("Event", 0, 1)
	m.RecordDispatch("Event", 1, 1)

	for _, result := range []string{"unmatched", "resumed", "started", "resumed_and_started"} {
		assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsDispatched.WithLabelValues("Event", result)), result)
	}
}

func TestMetrics_Gauges(t *testing.T) {
	m := New()
	m.SetRegistrySize(4, 2)
	m.SetPoolActive(3)
	m.ObserveRun("start", 20*time.Millisecond)

	assert.Equal(t, 4.0, testutil.ToFloat64(m.ActiveBookmarks))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.StartableTriggers))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.PoolActive))
	assert.Equal(t, 1, testutil.CollectAndCount(m.RunDuration))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordStart("x", false)
		m.RecordDispatch("Event", 1, 0)
		m.RecordResume("resumed")
		m.ObserveRun("start", time.Second)
		m.SetRegistrySize(1, 1)
		m.SetPoolActive(1)
		m.RecordInstanceTransition("a", "b")
		m.RecordActivityTransition("completed")
	})
	assert.Nil(t, m.Registry())
	assert.Equal(t, http.StatusNotFound, serve(m.Handler()).Code)
}

func TestMetrics_Registry(t *testing.T) {
	m := New()
	m.RecordResume("resumed")

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "waypoint_resumes_total")
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.RecordStart("order", false)

	rec := serve(m.Handler())
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `waypoint_instances_started_total{definition="order",trigger="direct"} 1`)
}

func serve(h http.Handler) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	return rec
}
