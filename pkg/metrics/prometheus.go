// Package metrics provides Prometheus metrics for the dwell occupancy service.
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

// Manager manages all Prometheus metrics for the dwell service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	refreshInterval  time.Duration
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Ingestion
	eventsReceived  *prometheus.CounterVec
	eventsDuplicate prometheus.Counter
	eventsDropped   *prometheus.CounterVec
	eventsIgnored   prometheus.Counter
	samplesRecorded prometheus.Counter
	windowResets    prometheus.Counter
	windowSamples   prometheus.Gauge

	// Queries
	occupancyQueries   *prometheus.CounterVec
	occupancyRatio     prometheus.Gauge
	occupancyAnomalies *prometheus.CounterVec
	occupancyLatency   prometheus.Histogram

	// Queue
	queueSize              prometheus.Gauge
	queueCapacity          prometheus.Gauge
	queueUtilization       prometheus.Gauge
	queueEnqueueRate       prometheus.Counter
	queueDequeueRate       prometheus.Counter
	queueEnqueueErrors     prometheus.Counter
	queueProcessingLatency prometheus.Histogram

	// Dispatcher
	workerProcessingLatency prometheus.Histogram
	workerErrorRate         prometheus.Counter

	// Kafka source
	kafkaMessages *prometheus.CounterVec

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorRateByComponent *prometheus.CounterVec
	errorRateByType      *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec
	errorLatency         *prometheus.HistogramVec

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
		namespace:        "dwell",
		subsystem:        "occupancy",
		histogramBuckets: prometheus.DefBuckets,
		enabled:          true,
		refreshInterval:  defaultRefreshInterval,
		customLabels:     make(map[string]string),
		metricPrefix:     "",
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

// name prepends the optional metric prefix.
func (m *Manager) name(n string) string {
	if m.metricPrefix == "" {
		return n
	}
	return m.metricPrefix + "_" + n
}

func (m *Manager) counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		ConstLabels: m.customLabels,
	}
}

func (m *Manager) gaugeOpts(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		ConstLabels: m.customLabels,
	}
}

func (m *Manager) histogramOpts(name, help string, buckets []float64) prometheus.HistogramOpts {
	return prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.name(name),
		Help:        help,
		Buckets:     buckets,
		ConstLabels: m.customLabels,
	}
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	auto := promauto.With(m.registry)
	if !m.enabled {
		// Build the collectors but keep them off every registry.
		auto = promauto.With(nil)
	}

	m.eventsReceived = auto.NewCounterVec(
		m.counterOpts("events_received_total", "Total number of events handed to the view, by kind"),
		[]string{"kind"},
	)
	m.eventsDuplicate = auto.NewCounter(
		m.counterOpts("events_duplicate_total", "Total number of redelivered events skipped by the deduper"),
	)
	m.eventsDropped = auto.NewCounterVec(
		m.counterOpts("events_dropped_total", "Total number of events dropped before entering the view, by reason"),
		[]string{"reason"},
	)
	m.eventsIgnored = auto.NewCounter(
		m.counterOpts("events_ignored_total", "Total number of events with an unrecognized kind"),
	)
	m.samplesRecorded = auto.NewCounter(
		m.counterOpts("samples_recorded_total", "Total number of state samples appended to the window history"),
	)
	m.windowResets = auto.NewCounter(
		m.counterOpts("window_resets_total", "Total number of observation windows opened"),
	)
	m.windowSamples = auto.NewGauge(
		m.gaugeOpts("window_samples", "Number of samples currently held for the open window"),
	)

	m.occupancyQueries = auto.NewCounterVec(
		m.counterOpts("queries_total", "Total number of occupancy queries, by evaluation mode"),
		[]string{"mode"},
	)
	m.occupancyRatio = auto.NewGauge(
		m.gaugeOpts("last_ratio", "Ratio returned by the most recent occupancy query"),
	)
	m.occupancyAnomalies = auto.NewCounterVec(
		m.counterOpts("ratio_anomalies_total", "Occupancy ratios that fell outside [0,1] before clamping"),
		[]string{"anomaly"},
	)
	m.occupancyLatency = auto.NewHistogram(
		m.histogramOpts("query_latency_milliseconds", "Occupancy query latency in milliseconds", m.histogramBuckets),
	)

	m.queueSize = auto.NewGauge(m.gaugeOpts("queue_size", "Current size of the event queue (backlog indicator)"))
	m.queueCapacity = auto.NewGauge(m.gaugeOpts("queue_capacity", "Maximum queue capacity"))
	m.queueUtilization = auto.NewGauge(m.gaugeOpts("queue_utilization_ratio", "Queue utilization ratio (current size / capacity)"))
	m.queueEnqueueRate = auto.NewCounter(m.counterOpts("queue_enqueue_total", "Total number of messages enqueued"))
	m.queueDequeueRate = auto.NewCounter(m.counterOpts("queue_dequeue_total", "Total number of messages dequeued"))
	m.queueEnqueueErrors = auto.NewCounter(m.counterOpts("queue_enqueue_errors_total", "Total number of enqueue errors"))
	m.queueProcessingLatency = auto.NewHistogram(
		m.histogramOpts("queue_processing_latency_milliseconds", "Queue processing latency in milliseconds", m.histogramBuckets),
	)

	m.workerProcessingLatency = auto.NewHistogram(
		m.histogramOpts("dispatcher_latency_milliseconds", "Time spent applying one event to the view in milliseconds", m.histogramBuckets),
	)
	m.workerErrorRate = auto.NewCounter(m.counterOpts("dispatcher_errors_total", "Total number of dispatcher errors"))

	m.kafkaMessages = auto.NewCounterVec(
		m.counterOpts("kafka_messages_total", "Kafka messages consumed, by result"),
		[]string{"result"},
	)

	m.httpRequests = auto.NewCounterVec(
		m.counterOpts("http_requests_total", "Total number of HTTP requests by endpoint and method"),
		[]string{"endpoint", "method", "status_code"},
	)
	m.httpRequestDuration = auto.NewHistogramVec(
		m.histogramOpts("http_request_duration_milliseconds", "HTTP request duration in milliseconds", m.histogramBuckets),
		[]string{"endpoint", "method", "status_code"},
	)

	m.errorRateByComponent = auto.NewCounterVec(
		m.counterOpts("errors_by_component_total", "Total number of errors by component"),
		[]string{"component", "error_type"},
	)
	m.errorRateByType = auto.NewCounterVec(
		m.counterOpts("errors_by_type_total", "Total number of errors by type"),
		[]string{"error_type", "severity"},
	)
	m.errorRateByEndpoint = auto.NewCounterVec(
		m.counterOpts("errors_by_endpoint_total", "Total number of errors by endpoint"),
		[]string{"endpoint", "method", "error_type"},
	)
	m.errorLatency = auto.NewHistogramVec(
		m.histogramOpts("error_latency_milliseconds", "Latency of operations that resulted in errors", m.histogramBuckets),
		[]string{"component", "error_type"},
	)

	m.systemMemoryUsage = auto.NewGauge(m.gaugeOpts("system_memory_usage_bytes", "System memory usage in bytes"))
	m.systemGoroutineCount = auto.NewGauge(m.gaugeOpts("system_goroutine_count", "Number of goroutines"))
	m.systemGCPauseTime = auto.NewHistogram(
		m.histogramOpts("system_gc_pause_time_milliseconds", "GC pause time in milliseconds",
			[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000}),
	)
}

// RefreshInterval reports how often gauge metrics should be refreshed.
func (m *Manager) RefreshInterval() time.Duration {
	return m.refreshInterval
}

// Ingestion metrics.

// RecordEventReceived counts one event handed to the view.
func RecordEventReceived(kind string) {
	globalManager.eventsReceived.WithLabelValues(kind).Inc()
}

// RecordEventDuplicate increments the duplicate events counter.
func RecordEventDuplicate() {
	globalManager.eventsDuplicate.Inc()
}

// RecordEventDropped counts an event discarded before reaching the history.
func RecordEventDropped(reason string) {
	globalManager.eventsDropped.WithLabelValues(reason).Inc()
}

// RecordEventIgnored counts an event whose kind is not tracked.
func RecordEventIgnored() {
	globalManager.eventsIgnored.Inc()
}

// RecordSampleRecorded counts a state sample appended to the history.
func RecordSampleRecorded() {
	globalManager.samplesRecorded.Inc()
}

// RecordWindowReset counts a window opening.
func RecordWindowReset() {
	globalManager.windowResets.Inc()
}

// UpdateWindowSamples sets the number of samples held by the view.
func UpdateWindowSamples(count int) {
	globalManager.windowSamples.Set(float64(count))
}

// Query metrics.

// RecordOccupancyQuery records one evaluated query.
func RecordOccupancyQuery(mode string, ratio float64, latencyMs float64) {
	globalManager.occupancyQueries.WithLabelValues(mode).Inc()
	globalManager.occupancyRatio.Set(ratio)
	globalManager.occupancyLatency.Observe(latencyMs)
}

// RecordOccupancyAnomaly counts a ratio that had to be clamped.
func RecordOccupancyAnomaly(anomaly string) {
	globalManager.occupancyAnomalies.WithLabelValues(anomaly).Inc()
}

// Queue metrics.

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) {
	globalManager.queueUtilization.Set(utilization)
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	globalManager.queueEnqueueRate.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	globalManager.queueDequeueRate.Inc()
}

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() {
	globalManager.queueEnqueueErrors.Inc()
}

// RecordQueueProcessingLatency records queue processing latency.
func RecordQueueProcessingLatency(latencyMs float64) {
	globalManager.queueProcessingLatency.Observe(latencyMs)
}

// Dispatcher metrics.

// RecordWorkerProcessingLatency records dispatcher latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError increments the dispatcher error counter.
func RecordWorkerError() {
	globalManager.workerErrorRate.Inc()
}

// RecordKafkaMessage counts a consumed Kafka message by result.
func RecordKafkaMessage(result string) {
	globalManager.kafkaMessages.WithLabelValues(result).Inc()
}

// HTTP metrics.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// Error metrics.

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByType records an error with type and severity labels.
func RecordErrorByType(errorType, severity string) {
	globalManager.errorRateByType.WithLabelValues(errorType, severity).Inc()
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// RecordErrorLatency records the latency of an operation that resulted in an error.
func RecordErrorLatency(component, errorType string, latencyMs float64) {
	globalManager.errorLatency.WithLabelValues(component, errorType).Observe(latencyMs)
}

// System metrics.

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
