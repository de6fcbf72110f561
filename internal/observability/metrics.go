package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the retrieval service.
// Metrics are organized by subsystem: retrievals, cache, sources, tasks,
// and analysis operations. All counters and histograms are registered via
// promauto for automatic registration with the default Prometheus registry.
type Metrics struct {
	// RetrievalsStarted counts the total number of retrieval requests initiated.
	RetrievalsStarted prometheus.Counter

	// RetrievalsCompleted counts completed retrievals, labeled by result ("cached", "fetched").
	RetrievalsCompleted *prometheus.CounterVec

	// RetrievalsFailed counts the total number of retrievals that ended in failure.
	RetrievalsFailed prometheus.Counter

	// RetrievalDuration observes the end-to-end duration of retrievals in seconds.
	RetrievalDuration prometheus.Histogram

	// PapersPerRetrieval observes the distribution of papers returned per retrieval.
	PapersPerRetrieval prometheus.Histogram

	// CacheHits counts cache hits, labeled by namespace and tier ("memory", "durable").
	CacheHits *prometheus.CounterVec

	// CacheMisses counts cache misses, labeled by namespace.
	CacheMisses *prometheus.CounterVec

	// CacheEvictions counts entries evicted from the memory tier, labeled by namespace.
	CacheEvictions *prometheus.CounterVec

	// CacheWrites counts write-through operations, labeled by namespace.
	CacheWrites *prometheus.CounterVec

	// CacheWritesFailed counts durable-tier write failures, labeled by namespace.
	CacheWritesFailed *prometheus.CounterVec

	// SourceFetchesStarted counts fetches initiated, labeled by paper source.
	SourceFetchesStarted *prometheus.CounterVec

	// SourceFetchesCompleted counts successful fetches, labeled by paper source.
	SourceFetchesCompleted *prometheus.CounterVec

	// SourceFetchesFailed counts failed fetches, labeled by paper source and reason.
	SourceFetchesFailed *prometheus.CounterVec

	// SourceFetchDuration observes fetch duration in seconds, labeled by paper source.
	SourceFetchDuration *prometheus.HistogramVec

	// PapersFetched counts papers returned before deduplication, labeled by source.
	PapersFetched *prometheus.CounterVec

	// PapersDeduplicated counts papers dropped by cross-source deduplication.
	PapersDeduplicated prometheus.Counter

	// SourceRequestsTotal counts HTTP requests to source APIs, labeled by source and endpoint.
	SourceRequestsTotal *prometheus.CounterVec

	// SourceRequestsFailed counts failed HTTP requests to source APIs, labeled by source, endpoint, and error type.
	SourceRequestsFailed *prometheus.CounterVec

	// SourceRequestDuration observes HTTP request duration to source APIs in seconds.
	SourceRequestDuration *prometheus.HistogramVec

	// SourceRateLimited counts rate-limited responses from source APIs, labeled by source.
	SourceRateLimited *prometheus.CounterVec

	// TasksSubmitted counts tasks accepted by the queue, labeled by task type.
	TasksSubmitted *prometheus.CounterVec

	// TasksRejected counts tasks rejected at submission, labeled by task type and reason.
	TasksRejected *prometheus.CounterVec

	// TasksCompleted counts tasks that finished successfully, labeled by task type.
	TasksCompleted *prometheus.CounterVec

	// TasksFailed counts tasks that ended in failure, labeled by task type.
	TasksFailed *prometheus.CounterVec

	// TaskDuration observes task execution duration in seconds, labeled by task type.
	TaskDuration *prometheus.HistogramVec

	// QueueDepth tracks the number of tasks waiting for a worker.
	QueueDepth prometheus.Gauge

	// AnalysisRequestsTotal counts analysis provider requests, labeled by provider and model.
	AnalysisRequestsTotal *prometheus.CounterVec

	// AnalysisRequestsFailed counts failed analysis requests, labeled by provider, model, and error type.
	AnalysisRequestsFailed *prometheus.CounterVec

	// AnalysisRequestDuration observes analysis request duration in seconds, labeled by provider and model.
	AnalysisRequestDuration *prometheus.HistogramVec

	// EventsPublished counts events published to Kafka, labeled by event type.
	EventsPublished *prometheus.CounterVec

	// EventsPublishFailed counts failed event publications, labeled by event type.
	EventsPublishFailed *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The namespace is used as a prefix for all metric names.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		// Retrievals
		RetrievalsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrievals_started_total",
			Help:      "Total number of retrieval requests started",
		}),
		RetrievalsCompleted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrievals_completed_total",
			Help:      "Total number of retrievals completed by result",
		}, []string{"result"}),
		RetrievalsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrievals_failed_total",
			Help:      "Total number of retrievals that failed",
		}),
		RetrievalDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retrieval_duration_seconds",
			Help:      "Duration of retrieval requests in seconds",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		}),
		PapersPerRetrieval: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "papers_per_retrieval",
			Help:      "Number of papers returned per retrieval",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 200, 500},
		}),

		// Cache
		CacheHits: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits by namespace and tier",
		}, []string{"cache_namespace", "tier"}),
		CacheMisses: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses by namespace",
		}, []string{"cache_namespace"}),
		CacheEvictions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Total number of memory-tier evictions by namespace",
		}, []string{"cache_namespace"}),
		CacheWrites: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_writes_total",
			Help:      "Total number of cache write-through operations by namespace",
		}, []string{"cache_namespace"}),
		CacheWritesFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_writes_failed_total",
			Help:      "Total number of durable-tier write failures by namespace",
		}, []string{"cache_namespace"}),

		// Source fetches
		SourceFetchesStarted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_fetches_started_total",
			Help:      "Total number of source fetches started by source",
		}, []string{"source"}),
		SourceFetchesCompleted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_fetches_completed_total",
			Help:      "Total number of source fetches completed by source",
		}, []string{"source"}),
		SourceFetchesFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_fetches_failed_total",
			Help:      "Total number of source fetches that failed by source and reason",
		}, []string{"source", "reason"}),
		SourceFetchDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "source_fetch_duration_seconds",
			Help:      "Duration of source fetches in seconds by source",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"source"}),
		PapersFetched: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "papers_fetched_total",
			Help:      "Total number of papers fetched by source before deduplication",
		}, []string{"source"}),
		PapersDeduplicated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "papers_deduplicated_total",
			Help:      "Total number of papers dropped by cross-source deduplication",
		}),

		// Source HTTP requests
		SourceRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_requests_total",
			Help:      "Total number of requests to paper sources",
		}, []string{"source", "endpoint"}),
		SourceRequestsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_requests_failed_total",
			Help:      "Total number of failed requests to paper sources",
		}, []string{"source", "endpoint", "error_type"}),
		SourceRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "source_request_duration_seconds",
			Help:      "Duration of requests to paper sources in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"source", "endpoint"}),
		SourceRateLimited: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_rate_limited_total",
			Help:      "Total number of rate limit responses from paper sources",
		}, []string{"source"}),

		// Task queue
		TasksSubmitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_submitted_total",
			Help:      "Total number of tasks accepted by the queue",
		}, []string{"task_type"}),
		TasksRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_rejected_total",
			Help:      "Total number of tasks rejected at submission",
		}, []string{"task_type", "reason"}),
		TasksCompleted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_completed_total",
			Help:      "Total number of tasks completed successfully",
		}, []string{"task_type"}),
		TasksFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_failed_total",
			Help:      "Total number of tasks that failed",
		}, []string{"task_type"}),
		TaskDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Duration of task execution in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"task_type"}),
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Number of tasks waiting for a worker",
		}),

		// Analysis
		AnalysisRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_requests_total",
			Help:      "Total number of analysis requests by provider",
		}, []string{"provider", "model"}),
		AnalysisRequestsFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "analysis_requests_failed_total",
			Help:      "Total number of failed analysis requests by provider",
		}, []string{"provider", "model", "error_type"}),
		AnalysisRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_request_duration_seconds",
			Help:      "Duration of analysis requests in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider", "model"}),

		// Events
		EventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Total number of events published to Kafka",
		}, []string{"event_type"}),
		EventsPublishFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_publish_failed_total",
			Help:      "Total number of event publications that failed",
		}, []string{"event_type"}),
	}
}

// RecordRetrievalStarted records that a retrieval has started.
func (m *Metrics) RecordRetrievalStarted() {
	m.RetrievalsStarted.Inc()
}

// RecordRetrievalCompleted records a completed retrieval. The result label is
// "cached" when served from the search cache and "fetched" otherwise.
func (m *Metrics) RecordRetrievalCompleted(result string, paperCount int, durationSeconds float64) {
	m.RetrievalsCompleted.WithLabelValues(result).Inc()
	m.RetrievalDuration.Observe(durationSeconds)
	m.PapersPerRetrieval.Observe(float64(paperCount))
}

// RecordRetrievalFailed records a failed retrieval.
func (m *Metrics) RecordRetrievalFailed(durationSeconds float64) {
	m.RetrievalsFailed.Inc()
	m.RetrievalDuration.Observe(durationSeconds)
}

// RecordCacheHit records a cache hit on the given tier.
func (m *Metrics) RecordCacheHit(namespace, tier string) {
	m.CacheHits.WithLabelValues(namespace, tier).Inc()
}

// RecordCacheMiss records a cache miss.
func (m *Metrics) RecordCacheMiss(namespace string) {
	m.CacheMisses.WithLabelValues(namespace).Inc()
}

// RecordCacheEvictions records memory-tier evictions.
func (m *Metrics) RecordCacheEvictions(namespace string, count int) {
	m.CacheEvictions.WithLabelValues(namespace).Add(float64(count))
}

// RecordCacheWrite records a write-through operation.
func (m *Metrics) RecordCacheWrite(namespace string) {
	m.CacheWrites.WithLabelValues(namespace).Inc()
}

// RecordCacheWriteFailed records a durable-tier write failure.
func (m *Metrics) RecordCacheWriteFailed(namespace string) {
	m.CacheWritesFailed.WithLabelValues(namespace).Inc()
}

// RecordSourceFetchStarted records that a source fetch has started.
func (m *Metrics) RecordSourceFetchStarted(source string) {
	m.SourceFetchesStarted.WithLabelValues(source).Inc()
}

// RecordSourceFetchCompleted records that a source fetch has completed.
func (m *Metrics) RecordSourceFetchCompleted(source string, paperCount int, durationSeconds float64) {
	m.SourceFetchesCompleted.WithLabelValues(source).Inc()
	m.SourceFetchDuration.WithLabelValues(source).Observe(durationSeconds)
	m.PapersFetched.WithLabelValues(source).Add(float64(paperCount))
}

// RecordSourceFetchFailed records a failed source fetch. The reason label is
// "timeout" for deadline expiry and "error" otherwise.
func (m *Metrics) RecordSourceFetchFailed(source, reason string, durationSeconds float64) {
	m.SourceFetchesFailed.WithLabelValues(source, reason).Inc()
	m.SourceFetchDuration.WithLabelValues(source).Observe(durationSeconds)
}

// RecordPapersDeduplicated records papers dropped by deduplication.
func (m *Metrics) RecordPapersDeduplicated(count int) {
	m.PapersDeduplicated.Add(float64(count))
}

// RecordSourceRequest records a request to a paper source.
func (m *Metrics) RecordSourceRequest(source, endpoint string, durationSeconds float64) {
	m.SourceRequestsTotal.WithLabelValues(source, endpoint).Inc()
	m.SourceRequestDuration.WithLabelValues(source, endpoint).Observe(durationSeconds)
}

// RecordSourceRequestFailed records a failed request to a paper source.
func (m *Metrics) RecordSourceRequestFailed(source, endpoint, errorType string) {
	m.SourceRequestsFailed.WithLabelValues(source, endpoint, errorType).Inc()
}

// RecordSourceRateLimited records a rate limit response from a source.
func (m *Metrics) RecordSourceRateLimited(source string) {
	m.SourceRateLimited.WithLabelValues(source).Inc()
}

// RecordTaskSubmitted records a task accepted by the queue.
func (m *Metrics) RecordTaskSubmitted(taskType string) {
	m.TasksSubmitted.WithLabelValues(taskType).Inc()
}

// RecordTaskRejected records a task rejected at submission.
func (m *Metrics) RecordTaskRejected(taskType, reason string) {
	m.TasksRejected.WithLabelValues(taskType, reason).Inc()
}

// RecordTaskCompleted records a task that completed successfully.
func (m *Metrics) RecordTaskCompleted(taskType string, durationSeconds float64) {
	m.TasksCompleted.WithLabelValues(taskType).Inc()
	m.TaskDuration.WithLabelValues(taskType).Observe(durationSeconds)
}

// RecordTaskFailed records a task that failed.
func (m *Metrics) RecordTaskFailed(taskType string, durationSeconds float64) {
	m.TasksFailed.WithLabelValues(taskType).Inc()
	m.TaskDuration.WithLabelValues(taskType).Observe(durationSeconds)
}

// SetQueueDepth updates the queue depth gauge.
func (m *Metrics) SetQueueDepth(depth int) {
	m.QueueDepth.Set(float64(depth))
}

// RecordAnalysisRequest records an analysis provider request.
func (m *Metrics) RecordAnalysisRequest(provider, model string, durationSeconds float64) {
	m.AnalysisRequestsTotal.WithLabelValues(provider, model).Inc()
	m.AnalysisRequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
}

// RecordAnalysisRequestFailed records a failed analysis provider request.
func (m *Metrics) RecordAnalysisRequestFailed(provider, model, errorType string) {
	m.AnalysisRequestsFailed.WithLabelValues(provider, model, errorType).Inc()
}

// RecordEventPublished records an event published to Kafka.
func (m *Metrics) RecordEventPublished(eventType string) {
	m.EventsPublished.WithLabelValues(eventType).Inc()
}

// RecordEventPublishFailed records a failed event publication.
func (m *Metrics) RecordEventPublishFailed(eventType string) {
	m.EventsPublishFailed.WithLabelValues(eventType).Inc()
}
