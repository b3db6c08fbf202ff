// Package metrics defines prometheus metrics to expose
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flowgate_request_duration_seconds",
			Help:    "Total time taken for prediction requests in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 15, 20, 30, 45, 60, 90, 120},
		},
		[]string{"streaming"},
	)

	BackendLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flowgate_backend_latency_seconds",
			Help:    "Time until the backend answered with status and headers",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 15, 20, 30, 45, 60, 90, 120},
		},
		[]string{"streaming"},
	)

	RequestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowgate_request_count_total",
			Help: "Prediction requests by outcome",
		},
		[]string{"outcome"},
	)

	FramesEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowgate_sse_frames_total",
			Help: "Normalized SSE frames forwarded to clients",
		},
		[]string{"event"},
	)

	RateLimited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowgate_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		},
		[]string{"operation"},
	)

	IdempotencyConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowgate_idempotency_conflicts_total",
			Help: "Requests rejected for a reused idempotency key",
		},
		[]string{"operation"},
	)

	CredentialSource = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowgate_credential_source_total",
			Help: "Which credential was used for backend calls",
		},
		[]string{"source"},
	)

	AuditFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flowgate_audit_failures_total",
			Help: "Audit log writes that failed and were dropped",
		},
	)

	ErrorCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowgate_error_count",
			Help: "Error count",
		},
		[]string{"code"},
	)

	ResponseCodes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowgate_status_code",
			Help: "Status Codes",
		},
		[]string{"path", "status_code"},
	)
)
