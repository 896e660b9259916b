// Package metrics provides Prometheus metrics for the score tabulator.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Manager manages all Prometheus metrics for the tabulator.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Scoring and gate outcomes
	scoreSubmissions *prometheus.CounterVec
	activations      *prometheus.CounterVec
	adminCorrections *prometheus.CounterVec
	pendingJudges    prometheus.Gauge
	rankingLatency   prometheus.Histogram

	// Fan-out
	connectedClients  *prometheus.GaugeVec
	broadcasts        *prometheus.CounterVec
	droppedClients    *prometheus.CounterVec
	watcherStreams    prometheus.Gauge
	watcherReconnects prometheus.Counter

	// Notifier bridge
	notifyDeliveries *prometheus.CounterVec
	notifyLatency    prometheus.Histogram

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Store
	storeQueryLatency *prometheus.HistogramVec

	// Queue
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueUtilization   prometheus.Gauge
	queueEnqueueRate   prometheus.Counter
	queueDequeueRate   prometheus.Counter
	queueEnqueueErrors prometheus.Counter

	// Worker
	workerActiveCount       prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrors            prometheus.Counter

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
		namespace:        "botb",
		subsystem:        "tabulator",
		histogramBuckets: prometheus.DefBuckets,
		customLabels:     make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()
	return m
}

func (m *Manager) counterOpts(name, help string) prometheus.CounterOpts {
	return prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.metricPrefix + name,
		Help:        help,
		ConstLabels: m.customLabels,
	}
}

func (m *Manager) gaugeOpts(name, help string) prometheus.GaugeOpts {
	return prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.metricPrefix + name,
		Help:        help,
		ConstLabels: m.customLabels,
	}
}

func (m *Manager) histogramOpts(name, help string, buckets []float64) prometheus.HistogramOpts {
	if buckets == nil {
		buckets = m.histogramBuckets
	}
	return prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        m.metricPrefix + name,
		Help:        help,
		Buckets:     buckets,
		ConstLabels: m.customLabels,
	}
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every metric definition
	auto := promauto.With(m.registry)
	msBuckets := []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500}

	m.scoreSubmissions = auto.NewCounterVec(
		m.counterOpts("score_submissions_total", "Score batch submissions by outcome"),
		[]string{"outcome"},
	)
	m.activations = auto.NewCounterVec(
		m.counterOpts("band_activations_total", "Active band transitions by outcome"),
		[]string{"outcome"},
	)
	m.adminCorrections = auto.NewCounterVec(
		m.counterOpts("admin_corrections_total", "Admin score corrections by kind"),
		[]string{"kind"},
	)
	m.pendingJudges = auto.NewGauge(
		m.gaugeOpts("pending_judges", "Judges that have not finalized the active band"),
	)
	m.rankingLatency = auto.NewHistogram(
		m.histogramOpts("ranking_latency_milliseconds", "Time to compute a round leaderboard", msBuckets),
	)

	m.connectedClients = auto.NewGaugeVec(
		m.gaugeOpts("fanout_connected_clients", "Registered push clients by role"),
		[]string{"role"},
	)
	m.broadcasts = auto.NewCounterVec(
		m.counterOpts("fanout_broadcasts_total", "Events broadcast by event name"),
		[]string{"event"},
	)
	m.droppedClients = auto.NewCounterVec(
		m.counterOpts("fanout_dropped_clients_total", "Push clients removed by reason"),
		[]string{"reason"},
	)
	m.watcherStreams = auto.NewGauge(
		m.gaugeOpts("fanout_watcher_streams", "Open fallback watcher streams"),
	)
	m.watcherReconnects = auto.NewCounter(
		m.counterOpts("fanout_watcher_reconnects_total", "Watcher streams closed at max lifetime"),
	)

	m.notifyDeliveries = auto.NewCounterVec(
		m.counterOpts("notify_deliveries_total", "Notifier bridge deliveries by outcome"),
		[]string{"outcome"},
	)
	m.notifyLatency = auto.NewHistogram(
		m.histogramOpts("notify_latency_milliseconds", "Notifier bridge round trip", msBuckets),
	)

	m.httpRequests = auto.NewCounterVec(
		m.counterOpts("http_requests_total", "Total number of HTTP requests by endpoint and method"),
		[]string{"endpoint", "method", "status_code"},
	)
	m.httpRequestDuration = auto.NewHistogramVec(
		m.histogramOpts("http_request_duration_milliseconds", "HTTP request duration in milliseconds", msBuckets),
		[]string{"endpoint", "method", "status_code"},
	)

	m.storeQueryLatency = auto.NewHistogramVec(
		m.histogramOpts("store_query_latency_milliseconds", "Store operation latency by operation", msBuckets),
		[]string{"op"},
	)

	m.queueSize = auto.NewGauge(m.gaugeOpts("queue_size", "Current size of the notification queue"))
	m.queueCapacity = auto.NewGauge(m.gaugeOpts("queue_capacity", "Capacity of the notification queue"))
	m.queueUtilization = auto.NewGauge(m.gaugeOpts("queue_utilization_ratio", "Queue size divided by capacity"))
	m.queueEnqueueRate = auto.NewCounter(m.counterOpts("queue_enqueued_total", "Envelopes enqueued"))
	m.queueDequeueRate = auto.NewCounter(m.counterOpts("queue_dequeued_total", "Envelopes dequeued"))
	m.queueEnqueueErrors = auto.NewCounter(m.counterOpts("queue_enqueue_errors_total", "Envelopes rejected by the queue"))

	m.workerActiveCount = auto.NewGauge(m.gaugeOpts("worker_active_count", "Running dispatch workers"))
	m.workerProcessingLatency = auto.NewHistogram(
		m.histogramOpts("worker_processing_latency_milliseconds", "Dispatch worker latency per envelope", msBuckets),
	)
	m.workerErrors = auto.NewCounter(m.counterOpts("worker_errors_total", "Dispatch worker failures"))

	m.errorRateByComponent = auto.NewCounterVec(
		m.counterOpts("errors_by_component_total", "Errors by component and type"),
		[]string{"component", "error_type"},
	)
	m.errorRateByType = auto.NewCounterVec(
		m.counterOpts("errors_by_type_total", "Errors by type and severity"),
		[]string{"error_type", "severity"},
	)
	m.errorRateByEndpoint = auto.NewCounterVec(
		m.counterOpts("errors_by_endpoint_total", "Errors by HTTP endpoint"),
		[]string{"endpoint", "method", "error_type"},
	)
	m.errorLatency = auto.NewHistogramVec(
		m.histogramOpts("error_latency_milliseconds", "Latency of failed operations", msBuckets),
		[]string{"component", "error_type"},
	)

	m.systemMemoryUsage = auto.NewGauge(m.gaugeOpts("system_memory_usage_bytes", "System memory usage in bytes"))
	m.systemGoroutineCount = auto.NewGauge(m.gaugeOpts("system_goroutine_count", "Number of goroutines"))
	m.systemGCPauseTime = auto.NewHistogram(m.histogramOpts(
		"system_gc_pause_time_milliseconds", "GC pause time in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
	))
}

// RecordScoreSubmission counts a submission outcome (accepted, not_active, ...).
func RecordScoreSubmission(outcome string) {
	globalManager.scoreSubmissions.WithLabelValues(outcome).Inc()
}

// RecordActivation counts a gate transition outcome.
func RecordActivation(outcome string) {
	globalManager.activations.WithLabelValues(outcome).Inc()
}

// RecordAdminCorrection counts an admin update or delete.
func RecordAdminCorrection(kind string) {
	globalManager.adminCorrections.WithLabelValues(kind).Inc()
}

// UpdatePendingJudges sets the pending judge count for the active band.
func UpdatePendingJudges(count int) {
	globalManager.pendingJudges.Set(float64(count))
}

// RecordRankingLatency records leaderboard computation time.
func RecordRankingLatency(latencyMs float64) {
	globalManager.rankingLatency.Observe(latencyMs)
}

// UpdateConnectedClients sets the number of registered clients for a role.
func UpdateConnectedClients(role string, count int) {
	globalManager.connectedClients.WithLabelValues(role).Set(float64(count))
}

// RecordBroadcast counts one broadcast of the named event.
func RecordBroadcast(event string) {
	globalManager.broadcasts.WithLabelValues(event).Inc()
}

// RecordDroppedClient counts a client removed by the hub.
func RecordDroppedClient(reason string) {
	globalManager.droppedClients.WithLabelValues(reason).Inc()
}

// IncWatcherStreams and DecWatcherStreams track open watcher streams.
func IncWatcherStreams() { globalManager.watcherStreams.Inc() }

// DecWatcherStreams decrements the open watcher stream gauge.
func DecWatcherStreams() { globalManager.watcherStreams.Dec() }

// RecordWatcherReconnect counts a watcher closed at its max lifetime.
func RecordWatcherReconnect() {
	globalManager.watcherReconnects.Inc()
}

// RecordNotifyDelivery counts a notifier bridge outcome.
func RecordNotifyDelivery(outcome string) {
	globalManager.notifyDeliveries.WithLabelValues(outcome).Inc()
}

// RecordNotifyLatency records a notifier round trip.
func RecordNotifyLatency(latencyMs float64) {
	globalManager.notifyLatency.Observe(latencyMs)
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordStoreQueryLatency records the latency of a store operation.
func RecordStoreQueryLatency(op string, latencyMs float64) {
	globalManager.storeQueryLatency.WithLabelValues(op).Observe(latencyMs)
}

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) {
	globalManager.queueUtilization.Set(utilization)
}

// RecordQueueEnqueue counts an enqueued envelope.
func RecordQueueEnqueue() {
	globalManager.queueEnqueueRate.Inc()
}

// RecordQueueDequeue counts a dequeued envelope.
func RecordQueueDequeue() {
	globalManager.queueDequeueRate.Inc()
}

// RecordQueueEnqueueError counts a rejected envelope.
func RecordQueueEnqueueError() {
	globalManager.queueEnqueueErrors.Inc()
}

// UpdateWorkerActiveCount sets the number of running workers.
func UpdateWorkerActiveCount(count int) {
	globalManager.workerActiveCount.Set(float64(count))
}

// RecordWorkerProcessingLatency records time spent on one envelope.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError counts a failed envelope.
func RecordWorkerError() {
	globalManager.workerErrors.Inc()
}

// RecordErrorByComponent records errors by component.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByType records errors by type and severity.
func RecordErrorByType(errorType, severity string) {
	globalManager.errorRateByType.WithLabelValues(errorType, severity).Inc()
}

// RecordErrorByEndpoint records errors by HTTP endpoint.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// RecordErrorLatency records the latency of a failed operation.
func RecordErrorLatency(component, errorType string, latencyMs float64) {
	globalManager.errorLatency.WithLabelValues(component, errorType).Observe(latencyMs)
}

// UpdateSystemMemoryUsage sets heap bytes in use.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the goroutine count.
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

// Handler serves the custom registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(customRegistry, promhttp.HandlerOpts{})
}
