// Package metrics provides Prometheus metrics for the dorsal timing pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every collector exported by the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         prometheus.Registerer

	// Capture buffer
	capturesTerminal *prometheus.CounterVec
	capturesReverted prometheus.Counter
	pollDuration     *prometheus.HistogramVec
	pollBatchSize    *prometheus.HistogramVec
	pollSkipped      *prometheus.CounterVec

	// Recognition
	providerAttempts *prometheus.CounterVec
	providerFailures *prometheus.CounterVec
	providerLatency  *prometheus.HistogramVec
	chainExhausted   prometheus.Counter
	recognitionCost  *prometheus.CounterVec
	providerTokens   *prometheus.CounterVec

	// Timing
	detectionsCreated      *prometheus.CounterVec
	classificationsCreated prometheus.Counter
	duplicates             *prometheus.CounterVec
	eventsAutoStarted      prometheus.Counter

	// Store
	storeLatency *prometheus.HistogramVec
	storeErrors  *prometheus.CounterVec

	// Work queue
	queueSize   prometheus.Gauge
	workerCount prometheus.Gauge
	workerBusy  prometheus.Gauge

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

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "dorsal",
		subsystem:        "pipeline",
		histogramBuckets: prometheus.DefBuckets,
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	}, labels)
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) histogramVec(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: buckets,
	}, labels)
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	m.capturesTerminal = m.counterVec("captures_terminal_total",
		"Capture records moved to a terminal status", "source", "status")
	m.capturesReverted = m.counter("captures_reverted_total",
		"Capture records reverted to pending after a persistence failure")
	m.pollDuration = m.histogramVec("poll_duration_seconds",
		"Duration of one poll cycle", prometheus.DefBuckets, "loop")
	m.pollBatchSize = m.histogramVec("poll_batch_size",
		"Records fetched per poll", []float64{0, 1, 2, 5, 10, 20, 50}, "loop")
	m.pollSkipped = m.counterVec("poll_skipped_total",
		"Polls skipped because the previous one was still running", "loop")

	m.providerAttempts = m.counterVec("provider_attempts_total",
		"Recognition attempts per provider", "provider")
	m.providerFailures = m.counterVec("provider_failures_total",
		"Recognition failures per provider", "provider")
	m.providerLatency = m.histogramVec("provider_latency_milliseconds",
		"Recognition call latency in milliseconds", m.histogramBuckets, "provider")
	m.chainExhausted = m.counter("provider_chain_exhausted_total",
		"Batches for which every provider in the chain failed")
	m.recognitionCost = m.counterVec("recognition_cost_usd_total",
		"Estimated recognition spend in USD", "service", "model")
	m.providerTokens = m.counterVec("recognition_tokens_total",
		"Tokens consumed by recognition providers", "service", "direction")

	m.detectionsCreated = m.counterVec("detections_created_total",
		"Detections persisted", "method")
	m.classificationsCreated = m.counter("classifications_created_total",
		"Classifications persisted")
	m.duplicates = m.counterVec("duplicates_total",
		"Sightings discarded as duplicates", "layer")
	m.eventsAutoStarted = m.counter("events_auto_started_total",
		"Events started by the scheduled auto-starter")

	m.storeLatency = m.histogramVec("store_latency_milliseconds",
		"Store operation latency in milliseconds", m.histogramBuckets, "operation")
	m.storeErrors = m.counterVec("store_errors_total",
		"Store operation errors", "operation")

	m.queueSize = m.gauge("queue_size", "Event groups waiting for a worker")
	m.workerCount = m.gauge("worker_count", "Configured group workers")
	m.workerBusy = m.gauge("worker_busy", "Workers currently processing a group")

	m.httpRequests = m.counterVec("http_requests_total",
		"HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds",
		"HTTP request duration in milliseconds", m.histogramBuckets, "endpoint", "method", "status_code")

	m.errorRateByComponent = m.counterVec("errors_by_component_total",
		"Errors by component and type", "component", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_bytes", "Heap bytes allocated")
	m.systemGoroutineCount = m.gauge("system_goroutines", "Number of goroutines")
	m.systemGCPauseTime = promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem,
		Name: "system_gc_pause_milliseconds", Help: "Average GC pause in milliseconds",
		Buckets: m.histogramBuckets,
	})
}

// RecordCaptureTerminal counts a capture or device detection reaching a terminal status.
func RecordCaptureTerminal(source, status string) {
	globalManager.capturesTerminal.WithLabelValues(source, status).Inc()
}

// RecordCaptureReverted counts a capture put back to pending.
func RecordCaptureReverted() {
	globalManager.capturesReverted.Inc()
}

// RecordPoll records one completed poll cycle.
func RecordPoll(loop string, batch int, seconds float64) {
	globalManager.pollBatchSize.WithLabelValues(loop).Observe(float64(batch))
	globalManager.pollDuration.WithLabelValues(loop).Observe(seconds)
}

// RecordPollSkipped counts a tick that found the previous poll still running.
func RecordPollSkipped(loop string) {
	globalManager.pollSkipped.WithLabelValues(loop).Inc()
}

// RecordProviderAttempt records a recognition attempt and its latency.
func RecordProviderAttempt(provider string, latencyMs float64, failed bool) {
	globalManager.providerAttempts.WithLabelValues(provider).Inc()
	globalManager.providerLatency.WithLabelValues(provider).Observe(latencyMs)
	if failed {
		globalManager.providerFailures.WithLabelValues(provider).Inc()
	}
}

// RecordChainExhausted counts a batch where every provider failed.
func RecordChainExhausted() {
	globalManager.chainExhausted.Inc()
}

// RecordRecognitionCost adds spend and token usage for a provider call.
func RecordRecognitionCost(service, model string, usd float64, tokensIn, tokensOut int) {
	globalManager.recognitionCost.WithLabelValues(service, model).Add(usd)
	globalManager.providerTokens.WithLabelValues(service, "input").Add(float64(tokensIn))
	globalManager.providerTokens.WithLabelValues(service, "output").Add(float64(tokensOut))
}

// RecordDetection counts a persisted detection.
func RecordDetection(method string) {
	globalManager.detectionsCreated.WithLabelValues(method).Inc()
}

// RecordClassification counts a persisted classification.
func RecordClassification() {
	globalManager.classificationsCreated.Inc()
}

// RecordDuplicate counts a discarded sighting. layer is batch, session or store.
func RecordDuplicate(layer string) {
	globalManager.duplicates.WithLabelValues(layer).Inc()
}

// RecordEventAutoStarted counts events started by the scheduler.
func RecordEventAutoStarted(n int) {
	globalManager.eventsAutoStarted.Add(float64(n))
}

// RecordStoreOperation records store latency and errors.
func RecordStoreOperation(operation string, latencyMs float64, err error) {
	globalManager.storeLatency.WithLabelValues(operation).Observe(latencyMs)
	if err != nil {
		globalManager.storeErrors.WithLabelValues(operation).Inc()
	}
}

// UpdateQueueSize sets the number of queued event groups.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateWorkerCount sets the configured worker count.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// AddWorkerBusy adjusts the busy worker gauge.
func AddWorkerBusy(delta int) {
	globalManager.workerBusy.Add(float64(delta))
}

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
