// Package metrics exposes Prometheus metrics for the security monitor's
// own operation (spec SPEC_FULL.md §10's domain-stack metrics wiring):
// ingestion throughput, per-engine processing cost, findings emitted, and
// classifier API usage.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion metrics
	EventsIngestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_events_ingested_total",
			Help: "Total number of events accepted by the event hub",
		},
		[]string{"event_type", "producer"},
	)

	EventsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_events_dropped_total",
			Help: "Total number of events dropped before reaching the hub",
		},
		[]string{"reason"},
	)

	PersistFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_persist_failures_total",
			Help: "Total number of persistence operations that failed",
		},
		[]string{"operation"},
	)

	// Per-engine metrics
	EngineProcessDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sentinel_engine_process_duration_seconds",
			Help:    "Detection engine processing duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~1s
		},
		[]string{"engine"},
	)

	EngineErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_engine_errors_total",
			Help: "Total number of engine processing errors",
		},
		[]string{"engine"},
	)

	FindingsEmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_findings_emitted_total",
			Help: "Total number of detection results emitted with severity != none",
		},
		[]string{"engine", "severity"},
	)

	// Tool catalog metrics
	ToolCatalogInsertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_tool_catalog_inserts_total",
			Help: "Total number of newly cataloged tool descriptors",
		},
		[]string{"mcp_tag"},
	)

	// LLM classifier metrics
	ClassifierRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_classifier_requests_total",
			Help: "Total number of classifier API requests",
		},
		[]string{"provider", "status"},
	)

	ClassifierRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sentinel_classifier_request_duration_seconds",
			Help:    "Classifier API request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~1min
		},
		[]string{"provider"},
	)

	ClassifierRateLimitRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_classifier_rate_limit_retries_total",
			Help: "Total number of classifier rate-limit retries",
		},
	)

	ClassifierRateLimitExhaustedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_classifier_rate_limit_exhausted_total",
			Help: "Total number of classifier calls that exhausted all retries",
		},
	)

	// Correlation state metrics
	SuspiciousEmailRegistrySize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_suspicious_email_registry_size",
			Help: "Current number of entries in the suspicious email registry",
		},
	)

	// UI fan-out metrics
	WebSocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_websocket_connections",
			Help: "Current number of active dashboard WebSocket connections",
		},
	)

	// Event source metrics
	SourceLinesDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_source_lines_dropped_total",
			Help: "Total number of raw source lines dropped as malformed or backpressured",
		},
		[]string{"reason"},
	)
)
