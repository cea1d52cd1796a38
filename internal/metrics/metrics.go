// Package metrics exposes Prometheus instrumentation for the control
// plane, following the teacher's internal/v1/metrics package.
//
// Naming convention: namespace_subsystem_name
// - namespace: sfu_control (application-level grouping)
// - subsystem: room, admission, moderation, http, drain, transcript, minutes, circuit_breaker, rate_limit, redis
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sfu_control",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of active rooms in the registry",
	})

	RoomParticipants = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sfu_control",
		Subsystem: "room",
		Name:      "participants_count",
		Help:      "Number of admitted participants in each room",
	}, []string{"room_id"})

	RoomPending = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sfu_control",
		Subsystem: "room",
		Name:      "pending_count",
		Help:      "Number of participants waiting for admission in each room",
	}, []string{"room_id"})

	ActiveWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sfu_control",
		Subsystem: "room",
		Name:      "websocket_connections_active",
		Help:      "Current number of open administrator/participant socket connections",
	})

	RoomTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sfu_control",
		Subsystem: "room",
		Name:      "state_transitions_total",
		Help:      "Total room state machine transitions",
	}, []string{"from", "to"})

	AdmissionDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sfu_control",
		Subsystem: "admission",
		Name:      "decisions_total",
		Help:      "Total admission decisions by outcome",
	}, []string{"decision"})

	ModerationActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sfu_control",
		Subsystem: "moderation",
		Name:      "actions_total",
		Help:      "Total moderation actions applied",
	}, []string{"action"})

	ControlPlaneRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sfu_control",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Duration of operator HTTP requests",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	}, []string{"path", "method", "status"})

	DrainEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sfu_control",
		Subsystem: "drain",
		Name:      "events_total",
		Help:      "Total drain coordinator lifecycle events",
	}, []string{"event"})

	TranscriptChunks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sfu_control",
		Subsystem: "transcript",
		Name:      "chunks_total",
		Help:      "Total transcript chunks accepted after dedup",
	}, []string{"room_id"})

	MinutesGenerated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sfu_control",
		Subsystem: "minutes",
		Name:      "generated_total",
		Help:      "Total minutes documents generated, by source",
	}, []string{"source"})

	// CircuitBreakerState: 0 Closed, 1 Open, 2 Half-Open. Labels: media_plane, asr, summarizer, redis.
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "sfu_control",
		Subsystem: "circuit_breaker",
		Name:      "state",
		Help:      "Current state of each external circuit breaker (0: Closed, 1: Open, 2: Half-Open)",
	}, []string{"service"})

	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sfu_control",
		Subsystem: "circuit_breaker",
		Name:      "failures_total",
		Help:      "Total requests rejected by a circuit breaker",
	}, []string{"service"})

	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sfu_control",
		Subsystem: "rate_limit",
		Name:      "exceeded_total",
		Help:      "Total requests that exceeded the rate limit",
	}, []string{"endpoint", "reason"})

	RateLimitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sfu_control",
		Subsystem: "rate_limit",
		Name:      "requests_total",
		Help:      "Total requests checked against the rate limiter",
	}, []string{"endpoint"})

	RedisOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sfu_control",
		Subsystem: "redis",
		Name:      "operations_total",
		Help:      "Total Redis operations performed by the event bus",
	}, []string{"operation", "status"})

	RedisOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sfu_control",
		Subsystem: "redis",
		Name:      "operation_duration_seconds",
		Help:      "Duration of Redis operations performed by the event bus",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})
)

// CircuitBreakerStateValue maps a gobreaker state name to the gauge value
// recorded for it, matching the teacher's convention.
func CircuitBreakerStateValue(state string) float64 {
	switch state {
	case "closed":
		return 0
	case "open":
		return 1
	case "half-open":
		return 2
	default:
		return -1
	}
}
