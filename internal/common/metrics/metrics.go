// Package metrics defines the Prometheus instruments for the dispatch
// subsystem. All metrics share the "flowcatalyst" namespace and register
// themselves on the default registry via promauto.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Pool metrics

	// PoolMessagesProcessed counts messages processed per pool.
	PoolMessagesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowcatalyst",
			Subsystem: "pool",
			Name:      "messages_processed_total",
			Help:      "Total messages processed by dispatch pool",
		},
		[]string{"pool_code", "result"}, // result: success, failed, rate_limited
	)

	// PoolProcessingDuration tracks per-message processing time.
	PoolProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "flowcatalyst",
			Subsystem: "pool",
			Name:      "processing_duration_seconds",
			Help:      "Time to process a message",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"pool_code"},
	)

	// PoolActiveWorkers is the number of workers currently mediating.
	PoolActiveWorkers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "flowcatalyst",
			Subsystem: "pool",
			Name:      "active_workers",
			Help:      "Number of active workers in the pool",
		},
		[]string{"pool_code"},
	)

	// PoolIngressDepth is the number of messages waiting in the pool queue.
	PoolIngressDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "flowcatalyst",
			Subsystem: "pool",
			Name:      "ingress_depth",
			Help:      "Number of messages pending in the pool ingress queue",
		},
		[]string{"pool_code"},
	)

	// PoolAckedTotal counts acknowledged messages per pool.
	PoolAckedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowcatalyst",
			Subsystem: "pool",
			Name:      "acked_total",
			Help:      "Total messages acknowledged by the pool",
		},
		[]string{"pool_code"},
	)

	// PoolNackedTotal counts negatively-acknowledged messages per pool.
	PoolNackedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowcatalyst",
			Subsystem: "pool",
			Name:      "nacked_total",
			Help:      "Total messages negatively acknowledged by the pool",
		},
		[]string{"pool_code"},
	)

	// PoolCascadeNacks counts messages nacked without mediation because an
	// earlier message of the same batch group failed.
	PoolCascadeNacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowcatalyst",
			Subsystem: "pool",
			Name:      "cascade_nacks_total",
			Help:      "Total messages fast-failed due to an earlier failure in their batch group",
		},
		[]string{"pool_code"},
	)

	// PoolRateLimitRejections counts messages rejected by the rate limiter.
	PoolRateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowcatalyst",
			Subsystem: "pool",
			Name:      "rate_limit_rejections_total",
			Help:      "Total messages rejected due to rate limiting",
		},
		[]string{"pool_code"},
	)

	// PoolAvailablePermits is the number of free concurrency permits.
	PoolAvailablePermits = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "flowcatalyst",
			Subsystem: "pool",
			Name:      "available_permits",
			Help:      "Available concurrency permits in the pool",
		},
		[]string{"pool_code"},
	)

	// PoolMessageGroupCount is the number of live message groups.
	PoolMessageGroupCount = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "flowcatalyst",
			Subsystem: "pool",
			Name:      "message_group_count",
			Help:      "Number of active message groups in the pool",
		},
		[]string{"pool_code"},
	)

	// Mediator metrics

	// MediatorAttempts counts delivery attempts by outcome.
	MediatorAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowcatalyst",
			Subsystem: "mediator",
			Name:      "attempts_total",
			Help:      "Total delivery attempts by outcome",
		},
		[]string{"outcome"}, // success, error_config, error_process, error_connection
	)

	// MediatorHTTPRequests counts HTTP requests made by the mediator.
	MediatorHTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowcatalyst",
			Subsystem: "mediator",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests made by the mediator",
		},
		[]string{"status_code", "method"},
	)

	// MediatorDuration tracks mediation round-trip duration.
	MediatorDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "flowcatalyst",
			Subsystem: "mediator",
			Name:      "duration_seconds",
			Help:      "Mediation request duration",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"target"},
	)

	// MediatorCircuitBreakerState reports circuit state per target.
	// 0 = closed (healthy), 1 = open (tripped), 2 = half-open (testing)
	MediatorCircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "flowcatalyst",
			Subsystem: "mediator",
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"target"},
	)

	// MediatorCircuitBreakerTrips counts closed-to-open transitions.
	MediatorCircuitBreakerTrips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowcatalyst",
			Subsystem: "mediator",
			Name:      "circuit_breaker_trips_total",
			Help:      "Total circuit breaker trip events",
		},
		[]string{"target"},
	)

	// Scheduler metrics

	// SchedulerJobsScheduled counts jobs promoted onto the queue.
	SchedulerJobsScheduled = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "flowcatalyst",
			Subsystem: "scheduler",
			Name:      "jobs_scheduled_total",
			Help:      "Total jobs scheduled for dispatch",
		},
	)

	// SchedulerJobsPending reports jobs awaiting promotion.
	SchedulerJobsPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "flowcatalyst",
			Subsystem: "scheduler",
			Name:      "jobs_pending",
			Help:      "Number of jobs pending dispatch",
		},
	)

	// SchedulerStaleJobs counts QUEUED jobs reset to PENDING by recovery.
	SchedulerStaleJobs = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "flowcatalyst",
			Subsystem: "scheduler",
			Name:      "stale_jobs_total",
			Help:      "Total stale queued jobs recovered to pending",
		},
	)

	// SchedulerBlockedJobs counts jobs left pending by BLOCK_ON_ERROR gating.
	SchedulerBlockedJobs = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "flowcatalyst",
			Subsystem: "scheduler",
			Name:      "blocked_jobs_total",
			Help:      "Total jobs withheld because their message group has errors",
		},
	)

	// Queue metrics

	// QueueMessagesPublished counts messages published per broker type.
	QueueMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowcatalyst",
			Subsystem: "queue",
			Name:      "messages_published_total",
			Help:      "Total messages published to queue",
		},
		[]string{"queue_type"}, // nats, sqs
	)

	// QueueMessagesConsumed counts messages consumed per broker type.
	QueueMessagesConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowcatalyst",
			Subsystem: "queue",
			Name:      "messages_consumed_total",
			Help:      "Total messages consumed from queue",
		},
		[]string{"queue_type"},
	)

	// QueuePublishErrors counts publish failures per broker type.
	QueuePublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowcatalyst",
			Subsystem: "queue",
			Name:      "publish_errors_total",
			Help:      "Total queue publish errors",
		},
		[]string{"queue_type"},
	)

	// Consumer health metrics

	// ConsumerRestarts counts consumer restarts triggered by stall detection.
	ConsumerRestarts = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "flowcatalyst",
			Subsystem: "consumer",
			Name:      "restarts_total",
			Help:      "Total consumer restart attempts due to stall detection",
		},
	)

	// ConsumerStallEvents counts detected consumer stalls.
	ConsumerStallEvents = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "flowcatalyst",
			Subsystem: "consumer",
			Name:      "stall_events_total",
			Help:      "Total consumer stall events detected",
		},
	)

	// Pipeline metrics (duplicate suppression and leak detection)

	// PipelineMapSize is the number of messages currently in the pipeline.
	PipelineMapSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "flowcatalyst",
			Subsystem: "pipeline",
			Name:      "map_size",
			Help:      "Number of messages currently in the processing pipeline",
		},
	)

	// PipelineTotalCapacity is the summed capacity of all pools.
	PipelineTotalCapacity = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "flowcatalyst",
			Subsystem: "pipeline",
			Name:      "total_capacity",
			Help:      "Total capacity across all processing pools",
		},
	)

	// PipelineDuplicatesDropped counts duplicate deliveries suppressed.
	PipelineDuplicatesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "flowcatalyst",
			Subsystem: "pipeline",
			Name:      "duplicates_dropped_total",
			Help:      "Total duplicate deliveries suppressed by the in-pipeline set",
		},
	)

	// Leader election metrics

	// LeaderState reports whether this instance holds the scheduler lease.
	// 0 = standby, 1 = leader
	LeaderState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "flowcatalyst",
			Subsystem: "leader",
			Name:      "state",
			Help:      "Leader election state (0=standby, 1=leader)",
		},
	)

	// LeaderTransitions counts leadership acquisitions and losses.
	LeaderTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowcatalyst",
			Subsystem: "leader",
			Name:      "transitions_total",
			Help:      "Total leadership transitions",
		},
		[]string{"direction"}, // elected, demoted
	)

	// Job store metrics

	// StoreQueries tracks job store operations.
	StoreQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowcatalyst",
			Subsystem: "store",
			Name:      "queries_total",
			Help:      "Total job store operations",
		},
		[]string{"operation", "result"}, // result: success, error
	)

	// StoreQueryDuration tracks job store operation latency.
	StoreQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "flowcatalyst",
			Subsystem: "store",
			Name:      "query_duration_seconds",
			Help:      "Job store operation duration",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"operation"},
	)

	// ActiveWarnings reports warnings currently held by the warning service,
	// partitioned by severity.
	ActiveWarnings = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "flowcatalyst",
			Subsystem: "warnings",
			Name:      "active",
			Help:      "Warnings currently held by the warning service",
		},
		[]string{"severity"},
	)

	// Processing endpoint metrics

	// ProcessingJobs counts processed dispatch jobs by outcome:
	// completed, retried, error, rejected, skipped.
	ProcessingJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowcatalyst",
			Subsystem: "processing",
			Name:      "jobs_total",
			Help:      "Dispatch jobs processed by outcome",
		},
		[]string{"outcome"},
	)

	// ProcessingWebhookDuration tracks outbound webhook delivery time.
	ProcessingWebhookDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "flowcatalyst",
			Subsystem: "processing",
			Name:      "webhook_duration_seconds",
			Help:      "Outbound webhook delivery duration",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	// HTTP API metrics

	// HTTPRequestsTotal counts monitoring/processing API requests.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "flowcatalyst",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP API requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration tracks API request duration.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "flowcatalyst",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP API request duration",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// Circuit breaker state values reported by MediatorCircuitBreakerState.
const (
	CircuitBreakerClosed   = 0
	CircuitBreakerOpen     = 1
	CircuitBreakerHalfOpen = 2
)
