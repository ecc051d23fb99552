// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// SSEConnectionsActive tracks active SSE connections.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	// SessionsActive tracks open sync sessions.
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_sessions_active",
			Help: "Number of open sync sessions",
		},
	)

	// FeedEventsTotal tracks realtime events folded into conversation indexes.
	FeedEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_events_total",
			Help: "Realtime message events by merge outcome",
		},
		[]string{"outcome"},
	)

	// FeedEventsDropped tracks events a backend could not hand to a subscriber.
	FeedEventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_events_dropped_total",
			Help: "Realtime events dropped before delivery",
		},
		[]string{"backend"},
	)

	// FeedDecodeErrors tracks payloads a backend could not decode.
	FeedDecodeErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_decode_errors_total",
			Help: "Realtime payloads that failed to decode",
		},
		[]string{"backend"},
	)

	// FeedPublishErrors tracks failed change-feed publishes after a committed insert.
	FeedPublishErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feed_publish_errors_total",
			Help: "Message inserts whose change event could not be published",
		},
	)

	// FriendTransitionsTotal tracks friend-graph state transitions.
	FriendTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "friend_transitions_total",
			Help: "Friend-graph transitions by action and result",
		},
		[]string{"action", "result"},
	)

	// ConversationsTotal tracks total conversations created.
	ConversationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "conversations_total",
			Help: "Total conversations created",
		},
	)

	// MessagesTotal tracks total messages sent.
	MessagesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "messages_total",
			Help: "Total messages sent",
		},
	)

	// BootstrapDuration tracks full conversation index fetches.
	BootstrapDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "conversation_bootstrap_duration_seconds",
			Help:    "Conversation index bootstrap duration",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"status"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordFriendTransition records a friend-graph action.
func RecordFriendTransition(action string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	FriendTransitionsTotal.WithLabelValues(action, result).Inc()
}

// RecordBootstrap records a conversation index bootstrap.
func RecordBootstrap(duration float64, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	BootstrapDuration.WithLabelValues(status).Observe(duration)
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}
