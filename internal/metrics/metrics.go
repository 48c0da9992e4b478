package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Orchestrator metrics for production monitoring
var (
	// Detection metrics
	HotspotsDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carbon_orchestrator_hotspots_detected_total",
			Help: "Total number of hotspots created",
		},
		[]string{"severity", "entity_type"},
	)

	DetectionStepFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carbon_orchestrator_detection_step_failures_total",
			Help: "Detection steps that failed, by step",
		},
		[]string{"step"}, // predict, baseline, persist_hotspot, persist_alert, recommend, persist_recommendation, record_prediction
	)

	// Scan metrics
	ScanDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "carbon_orchestrator_scan_duration_seconds",
			Help:    "Hotspot scan duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~3min
		},
		[]string{"trigger"}, // scheduler, manual
	)

	ScanEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carbon_orchestrator_scan_events_total",
			Help: "Events processed by scans, by outcome",
		},
		[]string{"outcome"}, // hotspot, none, skipped, failed
	)

	// Oracle metrics
	OracleRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carbon_orchestrator_oracle_requests_total",
			Help: "Requests to the prediction and recommendation oracles",
		},
		[]string{"oracle", "status"}, // status: ok, error, breaker_open, decode_error
	)

	OracleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "carbon_orchestrator_oracle_request_duration_seconds",
			Help:    "Oracle request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		},
		[]string{"oracle"},
	)

	// Scheduler metrics
	SchedulerRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carbon_orchestrator_scheduler_runs_total",
			Help: "Scheduled job executions, by job and status",
		},
		[]string{"job", "status"}, // status: ok, error, skipped
	)

	BaselinesRecalculated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "carbon_orchestrator_baselines_recalculated_total",
			Help: "Baselines rewritten by recalculation",
		},
	)

	// Workflow metrics
	RecommendationDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carbon_orchestrator_recommendation_decisions_total",
			Help: "Recommendation approvals and rejections",
		},
		[]string{"decision"},
	)
	AuditWriteFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carbon_orchestrator_audit_write_failures_total",
			Help: "Audit entries that could not be appended after the audited change committed",
		},
		[]string{"action"},
	)

	// WebSocket metrics
	WebSocketConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "carbon_orchestrator_websocket_connections",
			Help: "Number of active WebSocket connections",
		},
		[]string{"topic"},
	)

	BroadcastMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carbon_orchestrator_broadcast_messages_total",
			Help: "Messages fanned out to subscribers",
		},
		[]string{"topic"},
	)

	BroadcastEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carbon_orchestrator_broadcast_evictions_total",
			Help: "Subscribers evicted after a failed send",
		},
		[]string{"topic"},
	)

	BroadcastDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carbon_orchestrator_broadcast_dropped_total",
			Help: "Messages dropped because the broadcast queue was full",
		},
		[]string{"topic"},
	)

	// Alert bus metrics
	AlertsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carbon_orchestrator_alert_bus_messages_total",
			Help: "Alerts handed to the message bus, by status",
		},
		[]string{"status"}, // ok, dropped, error, encode_error
	)

	// HTTP metrics
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carbon_orchestrator_http_requests_total",
			Help: "HTTP requests served",
		},
		[]string{"method", "route", "code"},
	)

	HTTPDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "carbon_orchestrator_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)
