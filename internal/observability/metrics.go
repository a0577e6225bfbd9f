// Package observability provides Prometheus metrics, OpenTelemetry tracing,
// and structured logging for the collaboration substrate.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector holds all Prometheus metrics for the pipeline.
type MetricsCollector struct {
	// Fragmentation metrics
	FragmentationsTotal   *prometheus.CounterVec
	FragmentationDuration *prometheus.HistogramVec
	SubtasksPerFragment   prometheus.Histogram

	// Assignment metrics
	AssignmentsTotal   *prometheus.CounterVec
	AssignmentFailures prometheus.Counter

	// Dispatch metrics
	DispatchRequestsTotal *prometheus.CounterVec
	DispatchDuration      *prometheus.HistogramVec
	DispatchInFlight      *prometheus.GaugeVec
	DispatchErrors        *prometheus.CounterVec
	DispatchRetries       *prometheus.CounterVec

	// Arbitration metrics
	ArbitrationsTotal      *prometheus.CounterVec
	ArbitrationDuration    *prometheus.HistogramVec
	ArbitrationFallbacks   prometheus.Counter
	ArbitrationErrorsTotal *prometheus.CounterVec

	// Composition metrics
	CompositionsTotal     *prometheus.CounterVec
	CompositionDuration   *prometheus.HistogramVec
	ConflictsDetected     *prometheus.CounterVec
	CompositionConfidence prometheus.Histogram

	// Shared memory graph metrics
	MemoryNodesTotal    prometheus.Counter
	MemoryQueryDuration *prometheus.HistogramVec

	// Rate limiting metrics
	RateLimitRequests  *prometheus.CounterVec
	RateLimitHits      *prometheus.CounterVec
	RateLimitDuration  *prometheus.HistogramVec
	RateLimitRemaining *prometheus.GaugeVec

	// System metrics
	SystemStartTime prometheus.Gauge
	SystemHealth    *prometheus.GaugeVec
}

// NewMetricsCollector creates and registers all Prometheus metrics.
func NewMetricsCollector(namespace string) *MetricsCollector {
	return NewMetricsCollectorWithRegistry(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsCollectorWithRegistry creates metrics with a specific registry (for testing).
func NewMetricsCollectorWithRegistry(namespace string, reg prometheus.Registerer) *MetricsCollector {
	if namespace == "" {
		namespace = "substrate"
	}

	// Helper function to create auto-registered metrics
	autoCounterVec := func(opts prometheus.CounterOpts, labelNames []string) *prometheus.CounterVec {
		return promauto.With(reg).NewCounterVec(opts, labelNames)
	}

	autoHistogramVec := func(opts prometheus.HistogramOpts, labelNames []string) *prometheus.HistogramVec {
		return promauto.With(reg).NewHistogramVec(opts, labelNames)
	}

	autoGaugeVec := func(opts prometheus.GaugeOpts, labelNames []string) *prometheus.GaugeVec {
		return promauto.With(reg).NewGaugeVec(opts, labelNames)
	}

	autoCounter := func(opts prometheus.CounterOpts) prometheus.Counter {
		return promauto.With(reg).NewCounter(opts)
	}

	autoHistogram := func(opts prometheus.HistogramOpts) prometheus.Histogram {
		return promauto.With(reg).NewHistogram(opts)
	}

	autoGauge := func(opts prometheus.GaugeOpts) prometheus.Gauge {
		return promauto.With(reg).NewGauge(opts)
	}

	return &MetricsCollector{
		// Fragmentation metrics
		FragmentationsTotal: autoCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fragmentations_total",
				Help:      "Total number of master prompts fragmented, by task type and status",
			},
			[]string{"task_type", "status"},
		),
		FragmentationDuration: autoHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fragmentation_duration_seconds",
				Help:      "Fragmentation duration in seconds",
				Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"task_type"},
		),
		SubtasksPerFragment: autoHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "subtasks_per_fragment",
				Help:      "Number of subtasks produced per fragmented master task",
				Buckets:   []float64{1, 2, 3, 5, 8, 13, 21},
			},
		),

		// Assignment metrics
		AssignmentsTotal: autoCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "assignments_total",
				Help:      "Total number of subtask-to-agent assignments by role and status",
			},
			[]string{"role", "status"},
		),
		AssignmentFailures: autoCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "assignment_failures_total",
				Help:      "Total number of subtasks that found no eligible agent",
			},
		),

		// Dispatch metrics
		DispatchRequestsTotal: autoCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatch_requests_total",
				Help:      "Total number of subtask dispatches by agent and status",
			},
			[]string{"agent_id", "status"},
		),
		DispatchDuration: autoHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "dispatch_duration_seconds",
				Help:      "Subtask dispatch duration in seconds",
				Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"agent_id"},
		),
		DispatchInFlight: autoGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "dispatch_in_flight",
				Help:      "Number of subtask dispatches currently in flight",
			},
			[]string{"agent_id"},
		),
		DispatchErrors: autoCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatch_errors_total",
				Help:      "Total number of dispatch errors by agent and error type",
			},
			[]string{"agent_id", "error_type"},
		),
		DispatchRetries: autoCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatch_retries_total",
				Help:      "Total number of subtask dispatch retries by agent",
			},
			[]string{"agent_id"},
		),

		// Arbitration metrics
		ArbitrationsTotal: autoCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "arbitrations_total",
				Help:      "Total number of arbitration decisions by strategy and conflict type",
			},
			[]string{"strategy", "conflict_type"},
		),
		ArbitrationDuration: autoHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "arbitration_duration_seconds",
				Help:      "Arbitration decision duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25},
			},
			[]string{"strategy"},
		),
		ArbitrationFallbacks: autoCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "arbitration_fallbacks_total",
				Help:      "Total number of arbitration decisions that fell back from the requested strategy",
			},
		),
		ArbitrationErrorsTotal: autoCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "arbitration_errors_total",
				Help:      "Total number of arbitration errors by strategy",
			},
			[]string{"strategy"},
		),

		// Composition metrics
		CompositionsTotal: autoCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "compositions_total",
				Help:      "Total number of collaborative compositions by merge strategy and status",
			},
			[]string{"strategy", "status"},
		),
		CompositionDuration: autoHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "composition_duration_seconds",
				Help:      "Composition duration in seconds",
				Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"strategy"},
		),
		ConflictsDetected: autoCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conflicts_detected_total",
				Help:      "Total number of content conflicts detected during composition, by type",
			},
			[]string{"conflict_type"},
		),
		CompositionConfidence: autoHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "composition_confidence",
				Help:      "Token-weighted confidence of the composed result",
				Buckets:   []float64{.1, .25, .4, .5, .6, .7, .8, .9, .95, 1},
			},
		),

		// Shared memory graph metrics
		MemoryNodesTotal: autoCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "memory_nodes_total",
				Help:      "Total number of nodes written to the shared memory graph",
			},
		),
		MemoryQueryDuration: autoHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "memory_query_duration_seconds",
				Help:      "Shared memory graph query duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5},
			},
			[]string{"operation"},
		),

		// Rate limiting metrics
		RateLimitRequests: autoCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_requests_total",
				Help:      "Total number of rate limit checks by limiter type and result",
			},
			[]string{"limiter_type", "result"},
		),
		RateLimitHits: autoCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_hits_total",
				Help:      "Total number of rate limit hits by limiter type",
			},
			[]string{"limiter_type"},
		),
		RateLimitDuration: autoHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "rate_limit_duration_seconds",
				Help:      "Rate limit check duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1},
			},
			[]string{"limiter_type"},
		),
		RateLimitRemaining: autoGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "rate_limit_remaining_requests",
				Help:      "Number of remaining requests for rate limited clients",
			},
			[]string{"limiter_type", "identifier"},
		),

		// System metrics
		SystemStartTime: autoGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "system_start_time_seconds",
				Help:      "Unix timestamp when the system started",
			},
		),
		SystemHealth: autoGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "system_health_status",
				Help:      "System health status (1 = healthy, 0 = unhealthy)",
			},
			[]string{"component"},
		),
	}
}

// RecordFragmentation records metrics for a master prompt fragmentation.
func (m *MetricsCollector) RecordFragmentation(taskType, status string, subtaskCount int, duration time.Duration) {
	m.FragmentationsTotal.WithLabelValues(taskType, status).Inc()
	m.FragmentationDuration.WithLabelValues(taskType).Observe(duration.Seconds())
	m.SubtasksPerFragment.Observe(float64(subtaskCount))
}

// RecordAssignment records metrics for a subtask-to-agent assignment.
func (m *MetricsCollector) RecordAssignment(role, status string) {
	m.AssignmentsTotal.WithLabelValues(role, status).Inc()
	if status != "assigned" {
		m.AssignmentFailures.Inc()
	}
}

// RecordDispatch records metrics for a subtask dispatch.
func (m *MetricsCollector) RecordDispatch(agentID, status string, duration time.Duration) {
	m.DispatchRequestsTotal.WithLabelValues(agentID, status).Inc()
	m.DispatchDuration.WithLabelValues(agentID).Observe(duration.Seconds())
}

// TrackDispatchInFlight tracks in-flight subtask dispatches.
func (m *MetricsCollector) TrackDispatchInFlight(agentID string, delta float64) {
	m.DispatchInFlight.WithLabelValues(agentID).Add(delta)
}

// RecordDispatchError records a dispatch error.
func (m *MetricsCollector) RecordDispatchError(agentID, errorType string) {
	m.DispatchErrors.WithLabelValues(agentID, errorType).Inc()
}

// RecordDispatchRetry records a subtask dispatch retry.
func (m *MetricsCollector) RecordDispatchRetry(agentID string) {
	m.DispatchRetries.WithLabelValues(agentID).Inc()
}

// RecordArbitration records metrics for an arbitration engine decision.
func (m *MetricsCollector) RecordArbitration(strategy, conflictType string, fallback bool, duration time.Duration) {
	m.ArbitrationsTotal.WithLabelValues(strategy, conflictType).Inc()
	m.ArbitrationDuration.WithLabelValues(strategy).Observe(duration.Seconds())
	if fallback {
		m.ArbitrationFallbacks.Inc()
	}
}

// RecordArbitrationError records an arbitration strategy error.
func (m *MetricsCollector) RecordArbitrationError(strategy string) {
	m.ArbitrationErrorsTotal.WithLabelValues(strategy).Inc()
}

// RecordComposition records metrics for a collaborative composition.
func (m *MetricsCollector) RecordComposition(strategy, status string, confidence float64, duration time.Duration) {
	m.CompositionsTotal.WithLabelValues(strategy, status).Inc()
	m.CompositionDuration.WithLabelValues(strategy).Observe(duration.Seconds())
	m.CompositionConfidence.Observe(confidence)
}

// RecordConflictDetected records a content conflict found during composition.
func (m *MetricsCollector) RecordConflictDetected(conflictType string) {
	m.ConflictsDetected.WithLabelValues(conflictType).Inc()
}

// RecordMemoryNode increments the shared memory graph node counter.
func (m *MetricsCollector) RecordMemoryNode() {
	m.MemoryNodesTotal.Inc()
}

// RecordMemoryQuery records metrics for a shared memory graph query.
func (m *MetricsCollector) RecordMemoryQuery(operation string, duration time.Duration) {
	m.MemoryQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetSystemStartTime sets the system start time.
func (m *MetricsCollector) SetSystemStartTime(startTime time.Time) {
	m.SystemStartTime.Set(float64(startTime.Unix()))
}

// SetComponentHealth sets the health status of a component.
func (m *MetricsCollector) SetComponentHealth(component string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	m.SystemHealth.WithLabelValues(component).Set(value)
}

// RecordRateLimit records metrics for a rate limit check.
func (m *MetricsCollector) RecordRateLimit(limiterType, result string, duration time.Duration) {
	m.RateLimitRequests.WithLabelValues(limiterType, result).Inc()
	m.RateLimitDuration.WithLabelValues(limiterType).Observe(duration.Seconds())

	if result == "hit" {
		m.RateLimitHits.WithLabelValues(limiterType).Inc()
	}
}

// UpdateRateLimitRemaining updates the remaining requests gauge.
func (m *MetricsCollector) UpdateRateLimitRemaining(limiterType, identifier string, remaining int64) {
	m.RateLimitRemaining.WithLabelValues(limiterType, identifier).Set(float64(remaining))
}
