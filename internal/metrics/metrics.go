// Komunikator - Real-time Direct Messaging Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/komunikator

package metrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tomtom215/komunikator/internal/models"
)

// Push outcomes recorded by RecordPush.
const (
	PushAcked   = "acked"
	PushTimeout = "timeout"
	PushClosed  = "closed"
	PushFailed  = "failed"
	PushOffline = "offline"
)

var (
	// HTTP API
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "komunikator_api_requests_total",
			Help: "HTTP requests by method, route pattern and status code",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "komunikator_api_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "komunikator_api_active_requests",
			Help: "HTTP requests currently being served",
		},
	)

	// Delivery pipeline
	MessagesAccepted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "komunikator_messages_accepted_total",
			Help: "Messages accepted and assigned a sequence number",
		},
	)

	MessagesDuplicate = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "komunikator_messages_duplicate_total",
			Help: "Sends short-circuited because the message id was already stored",
		},
	)

	SendRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "komunikator_send_rejected_total",
			Help: "Sends rejected, by reason",
		},
		[]string{"reason"},
	)

	PushOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "komunikator_push_total",
			Help: "Push delivery attempts by outcome",
		},
		[]string{"outcome"},
	)

	AckLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "komunikator_ack_latency_seconds",
			Help:    "Time from push to recipient ack",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	PendingAcks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "komunikator_pending_acks",
			Help: "Pushed messages waiting for an ack",
		},
	)

	StateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "komunikator_state_transitions_total",
			Help: "Message delivery state changes by target state",
		},
		[]string{"state"},
	)

	// Sessions and gateway
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "komunikator_active_sessions",
			Help: "Users with a registered live connection",
		},
	)

	SessionsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "komunikator_sessions_evicted_total",
			Help: "Sessions replaced by a newer connection of the same user",
		},
	)

	GatewayConnections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "komunikator_gateway_connections_total",
			Help: "Connection attempts by result",
		},
		[]string{"result"},
	)

	GatewayFrames = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "komunikator_gateway_frames_total",
			Help: "Frames by direction and type",
		},
		[]string{"direction", "type"},
	)

	GatewayCloses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "komunikator_gateway_closes_total",
			Help: "Connections closed, by reason",
		},
		[]string{"reason"},
	)

	// Storage
	StoreOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "komunikator_store_operation_duration_seconds",
			Help:    "Message store operation latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "operation"},
	)

	StoreOpErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "komunikator_store_operation_errors_total",
			Help: "Message store operation failures",
		},
		[]string{"backend", "operation"},
	)

	CounterCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "komunikator_sequence_cache_lookups_total",
			Help: "Sequence counter cache lookups by result",
		},
		[]string{"result"},
	)

	// Identity
	LoginAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "komunikator_login_attempts_total",
			Help: "Login attempts by result",
		},
		[]string{"result"},
	)

	AccountLockouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "komunikator_account_lockouts_total",
			Help: "Accounts locked after repeated failures",
		},
	)

	// Authorization
	AuthzDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "komunikator_authz_decisions_total",
			Help: "Authorization decisions by object, action and result",
		},
		[]string{"object", "action", "result"},
	)

	AuthzDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "komunikator_authz_duration_seconds",
			Help:    "Time spent resolving roles and enforcing policy",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05},
		},
	)

	// Event bus
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "komunikator_events_published_total",
			Help: "Events published by type and result",
		},
		[]string{"type", "result"},
	)

	EventsConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "komunikator_events_consumed_total",
			Help: "Events handled by subscribers",
		},
		[]string{"type"},
	)

	// Outbox
	OutboxWrites = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "komunikator_outbox_writes_total",
			Help: "Lifecycle events persisted to the outbox",
		},
	)

	OutboxPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "komunikator_outbox_pending",
			Help: "Outbox entries not yet accepted by the bus",
		},
	)

	OutboxRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "komunikator_outbox_retries_total",
			Help: "Outbox retry attempts by result (published, failed, dropped)",
		},
		[]string{"result"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "komunikator_circuit_breaker_state",
			Help: "0 closed, 1 half-open, 2 open",
		},
		[]string{"name"},
	)
)

// RecordAPIRequest observes one finished HTTP request.
func RecordAPIRequest(method, route string, status int, d time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// TrackActiveRequest moves the in-flight gauge.
func TrackActiveRequest(start bool) {
	if start {
		APIActiveRequests.Inc()
		return
	}
	APIActiveRequests.Dec()
}

// RecordSendRejected labels err with its taxonomy class.
func RecordSendRejected(err error) {
	SendRejected.WithLabelValues(ErrorClass(err)).Inc()
}

// ErrorClass maps an error to a low-cardinality label.
func ErrorClass(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, models.ErrValidation):
		return "validation"
	case errors.Is(err, models.ErrAuth):
		return "auth"
	case errors.Is(err, models.ErrRecipientUnknown):
		return "recipient_unknown"
	case errors.Is(err, models.ErrNotParticipant):
		return "not_participant"
	case errors.Is(err, models.ErrMessageNotFound):
		return "not_found"
	case errors.Is(err, models.ErrStorageUnavailable):
		return "storage_unavailable"
	case errors.Is(err, models.ErrShuttingDown):
		return "shutting_down"
	default:
		return "internal"
	}
}

// RecordPush counts a push outcome; ackLatency is observed for PushAcked.
func RecordPush(outcome string, ackLatency time.Duration) {
	PushOutcomes.WithLabelValues(outcome).Inc()
	if outcome == PushAcked {
		AckLatency.Observe(ackLatency.Seconds())
	}
}

// RecordTransition counts a delivery state change.
func RecordTransition(state models.DeliveryState) {
	StateTransitions.WithLabelValues(state.String()).Inc()
}

// RecordStoreOp observes a store call.
func RecordStoreOp(backend, op string, d time.Duration, err error) {
	StoreOpDuration.WithLabelValues(backend, op).Observe(d.Seconds())
	if err != nil {
		StoreOpErrors.WithLabelValues(backend, op).Inc()
	}
}

// RecordFrame counts a gateway frame. direction is "in" or "out".
func RecordFrame(direction, frameType string) {
	GatewayFrames.WithLabelValues(direction, frameType).Inc()
}

// RecordEventPublish counts a publish attempt.
func RecordEventPublish(eventType string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	EventsPublished.WithLabelValues(eventType, result).Inc()
}

// RecordAuthzDecision counts one policy decision.
func RecordAuthzDecision(object, action string, allowed bool, d time.Duration) {
	result := "denied"
	if allowed {
		result = "allowed"
	}
	AuthzDecisions.WithLabelValues(object, action, result).Inc()
	AuthzDuration.Observe(d.Seconds())
}
