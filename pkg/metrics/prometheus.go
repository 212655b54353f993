// Package metrics provides Prometheus metrics for the tripwire service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default metrics configuration constants.
const (
	defaultRefreshInterval = 10 * time.Second
)

// Manager manages all Prometheus metrics for the tripwire service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	refreshInterval  time.Duration
	customLabels     map[string]string
	registry         prometheus.Registerer

	// Resolution
	resolutions        *prometheus.CounterVec
	resolutionLatency  prometheus.Histogram
	expressionErrors   *prometheus.CounterVec
	occurrenceRejected prometheus.Counter
	occurrenceRecorded prometheus.Counter
	triggerCount       prometheus.Gauge
	triggerReloads     *prometheus.CounterVec

	// Assignment
	assignmentsCreated    prometheus.Counter
	assignmentsMalformed  prometheus.Counter
	confirmationsEnqueued prometheus.Counter
	confirmationsDropped  prometheus.Counter
	confirmationsSent     prometheus.Counter
	confirmationRetries   prometheus.Counter
	confirmationFailures  prometheus.Counter
	confirmQueueSize      prometheus.Gauge
	confirmQueueCapacity  prometheus.Gauge
	confirmWorkers        prometheus.Gauge

	// Content cache
	cacheRequests  *prometheus.CounterVec
	cacheEntries   prometheus.Gauge
	fetches        *prometheus.CounterVec
	fetchLatency   prometheus.Histogram
	fetchAttempts  prometheus.Counter
	preloadResults *prometheus.CounterVec

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorRateByComponent *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "tripwire",
		subsystem:        "",
		histogramBuckets: prometheus.DefBuckets,
		enabled:          true,
		refreshInterval:  defaultRefreshInterval,
		customLabels:     make(map[string]string),
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
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.customLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.customLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.customLabels,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		Buckets:     buckets,
		ConstLabels: m.customLabels,
	})
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	m.resolutions = m.counterVec("resolutions_total", "Trigger resolutions by outcome kind", "outcome")
	m.resolutionLatency = m.histogram("resolution_latency_milliseconds", "Latency of a single trigger resolution in milliseconds", m.histogramBuckets)
	m.expressionErrors = m.counterVec("expression_errors_total", "Expressions that failed to compile or evaluate, by dialect", "dialect")
	m.occurrenceRejected = m.counter("occurrence_rejected_total", "Rules whose expression matched but whose occurrence limit was exceeded")
	m.occurrenceRecorded = m.counter("occurrence_recorded_total", "Occurrences persisted for terminal rules")
	m.triggerCount = m.gauge("triggers", "Number of triggers in the current configuration")
	m.triggerReloads = m.counterVec("trigger_reloads_total", "Trigger configuration reloads by result", "result")

	m.assignmentsCreated = m.counter("assignments_created_total", "New variant assignments bucketed locally")
	m.assignmentsMalformed = m.counter("assignments_malformed_total", "Assignments that fell back because variant weights did not cover the bucket")
	m.confirmationsEnqueued = m.counter("confirmations_enqueued_total", "Assignment confirmations placed on the outbound queue")
	m.confirmationsDropped = m.counter("confirmations_dropped_total", "Assignment confirmations dropped because the queue was full or closed")
	m.confirmationsSent = m.counter("confirmations_sent_total", "Assignment confirmations acknowledged by the backend")
	m.confirmationRetries = m.counter("confirmation_retries_total", "Assignment confirmation retries")
	m.confirmationFailures = m.counter("confirmation_failures_total", "Assignment confirmations abandoned after exhausting retries")
	m.confirmQueueSize = m.gauge("confirm_queue_size", "Current size of the confirmation queue")
	m.confirmQueueCapacity = m.gauge("confirm_queue_capacity", "Capacity of the confirmation queue")
	m.confirmWorkers = m.gauge("confirm_workers", "Number of confirmation workers")

	m.cacheRequests = m.counterVec("content_cache_requests_total", "Content cache requests by result (hit, miss, shared)", "result")
	m.cacheEntries = m.gauge("content_cache_entries", "Number of retained content entries")
	m.fetches = m.counterVec("content_fetches_total", "Underlying content fetches by result", "result")
	m.fetchLatency = m.histogram("content_fetch_latency_milliseconds", "Underlying content fetch latency in milliseconds", m.histogramBuckets)
	m.fetchAttempts = m.counter("content_fetch_attempts_total", "HTTP attempts made by the backend client for content")
	m.preloadResults = m.counterVec("content_preload_total", "Preloaded content by result", "result")

	m.httpRequests = m.counterVec("http_requests_total", "Total number of HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "http_request_duration_milliseconds",
		Help:        "HTTP request duration in milliseconds",
		Buckets:     m.histogramBuckets,
		ConstLabels: m.customLabels,
	}, []string{"endpoint", "method", "status_code"})

	m.errorRateByComponent = m.counterVec("errors_by_component_total", "Total number of errors by component", "component", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "System memory usage in bytes")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_time_milliseconds", "GC pause time in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
}

// Resolution Metrics Functions.

// RecordResolution counts a resolution by its outcome kind and observes its latency.
func RecordResolution(outcome string, latency time.Duration) {
	if !globalManager.enabled {
		return
	}
	globalManager.resolutions.WithLabelValues(outcome).Inc()
	globalManager.resolutionLatency.Observe(float64(latency.Microseconds()) / 1000)
}

// RecordExpressionError counts a failed expression for a dialect.
func RecordExpressionError(dialect string) {
	globalManager.expressionErrors.WithLabelValues(dialect).Inc()
}

// RecordOccurrenceRejected counts a rule rejected by its occurrence limit.
func RecordOccurrenceRejected() {
	globalManager.occurrenceRejected.Inc()
}

// RecordOccurrenceRecorded counts a persisted occurrence.
func RecordOccurrenceRecorded() {
	globalManager.occurrenceRecorded.Inc()
}

// UpdateTriggerCount sets the number of configured triggers.
func UpdateTriggerCount(count int) {
	globalManager.triggerCount.Set(float64(count))
}

// RecordTriggerReload counts a configuration reload ("ok" or "error").
func RecordTriggerReload(result string) {
	globalManager.triggerReloads.WithLabelValues(result).Inc()
}

// Assignment Metrics Functions.

// RecordAssignmentCreated counts a newly bucketed assignment.
func RecordAssignmentCreated() {
	globalManager.assignmentsCreated.Inc()
}

// RecordAssignmentMalformed counts a fallback caused by malformed weights.
func RecordAssignmentMalformed() {
	globalManager.assignmentsMalformed.Inc()
}

// RecordConfirmationEnqueued counts a queued confirmation.
func RecordConfirmationEnqueued() {
	globalManager.confirmationsEnqueued.Inc()
}

// RecordConfirmationDropped counts a confirmation that could not be queued.
func RecordConfirmationDropped() {
	globalManager.confirmationsDropped.Inc()
}

// RecordConfirmationSent counts an acknowledged confirmation.
func RecordConfirmationSent() {
	globalManager.confirmationsSent.Inc()
}

// RecordConfirmationRetry counts a confirmation retry.
func RecordConfirmationRetry() {
	globalManager.confirmationRetries.Inc()
}

// RecordConfirmationFailure counts an abandoned confirmation.
func RecordConfirmationFailure() {
	globalManager.confirmationFailures.Inc()
}

// UpdateConfirmQueueSize sets the current confirmation queue size.
func UpdateConfirmQueueSize(size int) {
	globalManager.confirmQueueSize.Set(float64(size))
}

// UpdateConfirmQueueCapacity sets the confirmation queue capacity.
func UpdateConfirmQueueCapacity(capacity int) {
	globalManager.confirmQueueCapacity.Set(float64(capacity))
}

// UpdateConfirmWorkers sets the number of confirmation workers.
func UpdateConfirmWorkers(count int) {
	globalManager.confirmWorkers.Set(float64(count))
}

// Content Cache Metrics Functions.

// RecordCacheRequest counts a cache lookup by result: hit, miss or shared.
func RecordCacheRequest(result string) {
	globalManager.cacheRequests.WithLabelValues(result).Inc()
}

// UpdateCacheEntries sets the number of retained content entries.
func UpdateCacheEntries(count int) {
	globalManager.cacheEntries.Set(float64(count))
}

// RecordFetch counts an underlying fetch by result and observes its latency.
func RecordFetch(result string, latency time.Duration) {
	globalManager.fetches.WithLabelValues(result).Inc()
	globalManager.fetchLatency.Observe(float64(latency.Microseconds()) / 1000)
}

// RecordFetchAttempt counts one HTTP attempt made for content.
func RecordFetchAttempt() {
	globalManager.fetchAttempts.Inc()
}

// RecordPreload counts a preloaded content item by result.
func RecordPreload(result string) {
	globalManager.preloadResults.WithLabelValues(result).Inc()
}

// HTTP Metrics Functions.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// System Performance Metrics Functions.

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
