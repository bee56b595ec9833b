// Package metrics provides Prometheus metrics for the tiara prediction service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// latencyBuckets are milliseconds, matching the *_milliseconds metric names.
var latencyBuckets = []float64{0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000} //nolint:gochecknoglobals // bucket layout

// Manager owns every Prometheus collector of the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// Predictions
	predictionsSubmitted prometheus.Counter
	predictionsDuplicate prometheus.Counter
	predictionsRejected  *prometheus.CounterVec
	scorePreviews        prometheus.Counter

	// Official result state machine
	transitions         *prometheus.CounterVec
	resultVersion       prometheus.Gauge
	resultClears        prometheus.Counter
	integrityViolations prometheus.Counter

	// Recompute
	recomputeRuns     *prometheus.CounterVec
	recomputeUsers    *prometheus.CounterVec
	recomputeDuration prometheus.Histogram
	scoreLatency      prometheus.Histogram

	// Recompute jobs (queue + workers)
	jobsEnqueued  prometheus.Counter
	jobsProcessed prometheus.Counter
	jobsRetried   prometheus.Counter
	jobsDropped   *prometheus.CounterVec
	queueSize     prometheus.Gauge
	queueCapacity prometheus.Gauge
	workerCount   prometheus.Gauge
	jobLatency    prometheus.Histogram

	// Read side
	leaderboardSize prometheus.Gauge
	cachedScores    prometheus.Gauge
	storeLatency    *prometheus.HistogramVec

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorsByComponent *prometheus.CounterVec

	// Process
	systemMemory     prometheus.Gauge
	systemGoroutines prometheus.Gauge
	systemGCPause    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "tiara",
		subsystem:        "predictions",
		histogramBuckets: latencyBuckets,
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogram(name, help string) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
		Buckets: m.histogramBuckets,
	})
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
		Buckets: m.histogramBuckets,
	}, labels)
}

func (m *Manager) initializeMetrics() {
	m.predictionsSubmitted = m.counter("submitted_total", "Predictions accepted and stored")
	m.predictionsDuplicate = m.counter("duplicate_total", "Submissions acknowledged as idempotent replays")
	m.predictionsRejected = m.counterVec("rejected_total", "Submissions rejected before storage", "reason")
	m.scorePreviews = m.counter("score_previews_total", "Scores computed for preview without storing")

	m.transitions = m.counterVec("result_transitions_total", "Official result transitions by outcome", "transition", "outcome")
	m.resultVersion = m.gauge("result_version", "Current official result version")
	m.resultClears = m.counter("result_clears_total", "Times the official result was cleared")
	m.integrityViolations = m.counter("integrity_violations_total", "Official results rejected by the integrity check")

	m.recomputeRuns = m.counterVec("recompute_runs_total", "Bulk recompute runs by outcome", "outcome")
	m.recomputeUsers = m.counterVec("recompute_users_total", "Per-user recomputes by outcome", "outcome")
	m.recomputeDuration = m.histogram("recompute_duration_milliseconds", "Duration of bulk recompute runs")
	m.scoreLatency = m.histogram("score_latency_milliseconds", "Read, score and write latency of one user")

	m.jobsEnqueued = m.counter("jobs_enqueued_total", "Recompute jobs enqueued")
	m.jobsProcessed = m.counter("jobs_processed_total", "Recompute jobs completed")
	m.jobsRetried = m.counter("jobs_retried_total", "Recompute jobs re-enqueued after a failure")
	m.jobsDropped = m.counterVec("jobs_dropped_total", "Recompute jobs given up on", "reason")
	m.queueSize = m.gauge("queue_size", "Recompute jobs waiting in the queue")
	m.queueCapacity = m.gauge("queue_capacity", "Capacity of the recompute queue")
	m.workerCount = m.gauge("worker_count", "Recompute workers running")
	m.jobLatency = m.histogram("job_latency_milliseconds", "Processing latency of one recompute job")

	m.leaderboardSize = m.gauge("leaderboard_size", "Users on the leaderboard")
	m.cachedScores = m.gauge("cached_scores", "Score records in the score store")
	m.storeLatency = m.histogramVec("store_latency_milliseconds", "Latency of store operations", "store", "operation")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests by endpoint, method and status", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration", "endpoint", "method", "status_code")

	m.errorsByComponent = m.counterVec("errors_total", "Errors by component and type", "component", "error_type")

	m.systemMemory = m.gauge("system_memory_bytes", "Heap bytes allocated")
	m.systemGoroutines = m.gauge("system_goroutines", "Goroutines running")
	m.systemGCPause = m.histogram("system_gc_pause_milliseconds", "Average GC pause")
}

// RecordPredictionSubmitted counts an accepted prediction.
func RecordPredictionSubmitted() { globalManager.predictionsSubmitted.Inc() }

// RecordPredictionDuplicate counts an idempotent replay.
func RecordPredictionDuplicate() { globalManager.predictionsDuplicate.Inc() }

// RecordPredictionRejected counts a rejected submission.
func RecordPredictionRejected(reason string) {
	globalManager.predictionsRejected.WithLabelValues(reason).Inc()
}

// RecordScorePreview counts a preview.
func RecordScorePreview() { globalManager.scorePreviews.Inc() }

// RecordTransition counts a result transition; outcome is "applied",
// "rejected" or "failed".
func RecordTransition(transition, outcome string) {
	globalManager.transitions.WithLabelValues(transition, outcome).Inc()
}

// UpdateResultVersion sets the current result version.
func UpdateResultVersion(version int64) { globalManager.resultVersion.Set(float64(version)) }

// RecordResultCleared counts a clear.
func RecordResultCleared() { globalManager.resultClears.Inc() }

// RecordIntegrityViolation counts a failed integrity check.
func RecordIntegrityViolation() { globalManager.integrityViolations.Inc() }

// RecordRecomputeRun records a bulk recompute.
func RecordRecomputeRun(outcome string, durationMs float64) {
	globalManager.recomputeRuns.WithLabelValues(outcome).Inc()
	globalManager.recomputeDuration.Observe(durationMs)
}

// RecordRecomputeUser records one user's recompute.
func RecordRecomputeUser(outcome string, latencyMs float64) {
	globalManager.recomputeUsers.WithLabelValues(outcome).Inc()
	globalManager.scoreLatency.Observe(latencyMs)
}

// RecordJobEnqueued counts an enqueued job.
func RecordJobEnqueued() { globalManager.jobsEnqueued.Inc() }

// RecordJobProcessed records a completed job.
func RecordJobProcessed(latencyMs float64) {
	globalManager.jobsProcessed.Inc()
	globalManager.jobLatency.Observe(latencyMs)
}

// RecordJobRetried counts a retry.
func RecordJobRetried() { globalManager.jobsRetried.Inc() }

// RecordJobDropped counts an abandoned job.
func RecordJobDropped(reason string) { globalManager.jobsDropped.WithLabelValues(reason).Inc() }

// UpdateQueueSize sets the queue depth.
func UpdateQueueSize(size int) { globalManager.queueSize.Set(float64(size)) }

// UpdateQueueCapacity sets the queue capacity.
func UpdateQueueCapacity(capacity int) { globalManager.queueCapacity.Set(float64(capacity)) }

// UpdateWorkerCount sets the number of running workers.
func UpdateWorkerCount(count int) { globalManager.workerCount.Set(float64(count)) }

// UpdateLeaderboardSize sets the leaderboard size.
func UpdateLeaderboardSize(count int) { globalManager.leaderboardSize.Set(float64(count)) }

// UpdateCachedScores sets the number of cached scores.
func UpdateCachedScores(count int) { globalManager.cachedScores.Set(float64(count)) }

// RecordStoreLatency observes a store operation.
func RecordStoreLatency(store, operation string, latencyMs float64) {
	globalManager.storeLatency.WithLabelValues(store, operation).Observe(latencyMs)
}

// RecordHTTPRequest counts an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration observes an HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, durationMs float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(durationMs)
}

// RecordError counts an error by component and type.
func RecordError(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// UpdateSystemMemoryUsage sets the allocated heap bytes.
func UpdateSystemMemoryUsage(bytes uint64) { globalManager.systemMemory.Set(float64(bytes)) }

// UpdateSystemGoroutineCount sets the goroutine count.
func UpdateSystemGoroutineCount(count int) { globalManager.systemGoroutines.Set(float64(count)) }

// RecordSystemGCPauseTime observes the average GC pause.
func RecordSystemGCPauseTime(pauseMs float64) { globalManager.systemGCPause.Observe(pauseMs) }

// GetRegistry returns the registry the global manager reports to.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
