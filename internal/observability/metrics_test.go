package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

// newTestMetricsCollector creates a MetricsCollector with a custom registry for testing
func newTestMetricsCollector(t *testing.T) (*MetricsCollector, *prometheus.Registry) {
	t.Helper()

	registry := prometheus.NewRegistry()
	collector := NewMetricsCollectorWithRegistry("test", registry)
	return collector, registry
}

func TestRecordFragmentation(t *testing.T) {
	collector, _ := newTestMetricsCollector(t)

	tests := []struct {
		name         string
		taskType     string
		status       string
		subtaskCount int
		duration     time.Duration
		wantCount    float64
	}{
		{
			name:         "successful fragmentation",
			taskType:     "code_review",
			status:       "success",
			subtaskCount: 3,
			duration:     100 * time.Millisecond,
			wantCount:    1,
		},
		{
			name:         "fragmentation with warnings",
			taskType:     "analysis",
			status:       "warning",
			subtaskCount: 1,
			duration:     50 * time.Millisecond,
			wantCount:    1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			collector.RecordFragmentation(tt.taskType, tt.status, tt.subtaskCount, tt.duration)

			count := testutil.ToFloat64(collector.FragmentationsTotal.WithLabelValues(tt.taskType, tt.status))
			assert.Equal(t, tt.wantCount, count)
		})
	}
}

func TestRecordAssignment(t *testing.T) {
	collector, _ := newTestMetricsCollector(t)

	collector.RecordAssignment("synthesizer", "assigned")
	count := testutil.ToFloat64(collector.AssignmentsTotal.WithLabelValues("synthesizer", "assigned"))
	assert.Equal(t, float64(1), count)
	assert.Equal(t, float64(0), testutil.ToFloat64(collector.AssignmentFailures))

	collector.RecordAssignment("editor", "unassigned")
	failures := testutil.ToFloat64(collector.AssignmentFailures)
	assert.Equal(t, float64(1), failures)
}

func TestRecordDispatch(t *testing.T) {
	collector, _ := newTestMetricsCollector(t)

	collector.RecordDispatch("agent-1", "success", 100*time.Millisecond)
	count := testutil.ToFloat64(collector.DispatchRequestsTotal.WithLabelValues("agent-1", "success"))
	assert.Equal(t, float64(1), count)
}

func TestTrackDispatchInFlight(t *testing.T) {
	collector, _ := newTestMetricsCollector(t)

	agentID := "agent-1"

	collector.TrackDispatchInFlight(agentID, 1.0)
	count := testutil.ToFloat64(collector.DispatchInFlight.WithLabelValues(agentID))
	assert.Equal(t, float64(1), count)

	collector.TrackDispatchInFlight(agentID, -1.0)
	count = testutil.ToFloat64(collector.DispatchInFlight.WithLabelValues(agentID))
	assert.Equal(t, float64(0), count)
}

func TestRecordDispatchError(t *testing.T) {
	collector, _ := newTestMetricsCollector(t)

	collector.RecordDispatchError("agent-1", "timeout")
	count := testutil.ToFloat64(collector.DispatchErrors.WithLabelValues("agent-1", "timeout"))
	assert.Equal(t, float64(1), count)
}

func TestRecordDispatchRetry(t *testing.T) {
	collector, _ := newTestMetricsCollector(t)

	collector.RecordDispatchRetry("agent-1")
	collector.RecordDispatchRetry("agent-1")
	count := testutil.ToFloat64(collector.DispatchRetries.WithLabelValues("agent-1"))
	assert.Equal(t, float64(2), count)
}

func TestRecordArbitration(t *testing.T) {
	collector, _ := newTestMetricsCollector(t)

	collector.RecordArbitration("majority_vote", "contradiction", false, 5*time.Millisecond)
	count := testutil.ToFloat64(collector.ArbitrationsTotal.WithLabelValues("majority_vote", "contradiction"))
	assert.Equal(t, float64(1), count)
	assert.Equal(t, float64(0), testutil.ToFloat64(collector.ArbitrationFallbacks))

	collector.RecordArbitration("confidence_weight", "quality_dispute", true, 3*time.Millisecond)
	assert.Equal(t, float64(1), testutil.ToFloat64(collector.ArbitrationFallbacks))
}

func TestRecordArbitrationError(t *testing.T) {
	collector, _ := newTestMetricsCollector(t)

	collector.RecordArbitrationError("unknown_strategy")
	count := testutil.ToFloat64(collector.ArbitrationErrorsTotal.WithLabelValues("unknown_strategy"))
	assert.Equal(t, float64(1), count)
}

func TestRecordComposition(t *testing.T) {
	collector, _ := newTestMetricsCollector(t)

	collector.RecordComposition("hierarchical", "success", 0.82, 20*time.Millisecond)
	count := testutil.ToFloat64(collector.CompositionsTotal.WithLabelValues("hierarchical", "success"))
	assert.Equal(t, float64(1), count)
}

func TestRecordConflictDetected(t *testing.T) {
	collector, _ := newTestMetricsCollector(t)

	collector.RecordConflictDetected("factual")
	count := testutil.ToFloat64(collector.ConflictsDetected.WithLabelValues("factual"))
	assert.Equal(t, float64(1), count)
}

func TestRecordMemoryNode(t *testing.T) {
	collector, _ := newTestMetricsCollector(t)

	collector.RecordMemoryNode()
	collector.RecordMemoryNode()
	assert.Equal(t, float64(2), testutil.ToFloat64(collector.MemoryNodesTotal))
}

func TestRecordMemoryQuery(t *testing.T) {
	collector, _ := newTestMetricsCollector(t)

	collector.RecordMemoryQuery("query_by_task", 2*time.Millisecond)
	// Histogram has no direct single-value accessor; recording without panicking is sufficient.
}

func TestSetSystemStartTime(t *testing.T) {
	collector, _ := newTestMetricsCollector(t)

	startTime := time.Now()
	collector.SetSystemStartTime(startTime)

	value := testutil.ToFloat64(collector.SystemStartTime)
	assert.Equal(t, float64(startTime.Unix()), value)
}

func TestSetComponentHealth(t *testing.T) {
	collector, _ := newTestMetricsCollector(t)

	tests := []struct {
		name      string
		component string
		healthy   bool
		wantValue float64
	}{
		{
			name:      "healthy component",
			component: "dispatcher",
			healthy:   true,
			wantValue: 1.0,
		},
		{
			name:      "unhealthy component",
			component: "memory",
			healthy:   false,
			wantValue: 0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			collector.SetComponentHealth(tt.component, tt.healthy)

			value := testutil.ToFloat64(collector.SystemHealth.WithLabelValues(tt.component))
			assert.Equal(t, tt.wantValue, value)
		})
	}
}

func TestRecordRateLimit(t *testing.T) {
	collector, _ := newTestMetricsCollector(t)

	collector.RecordRateLimit("dispatch", "hit", time.Millisecond)
	count := testutil.ToFloat64(collector.RateLimitRequests.WithLabelValues("dispatch", "hit"))
	assert.Equal(t, float64(1), count)
	hits := testutil.ToFloat64(collector.RateLimitHits.WithLabelValues("dispatch"))
	assert.Equal(t, float64(1), hits)
}

func TestUpdateRateLimitRemaining(t *testing.T) {
	collector, _ := newTestMetricsCollector(t)

	collector.UpdateRateLimitRemaining("dispatch", "agent-1", 42)
	value := testutil.ToFloat64(collector.RateLimitRemaining.WithLabelValues("dispatch", "agent-1"))
	assert.Equal(t, float64(42), value)
}
