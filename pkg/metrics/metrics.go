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

	// WorkersRunning tracks live worker handles held by the supervisor.
	WorkersRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fleet_workers_running",
			Help: "Number of live bot worker processes",
		},
	)

	// WorkerExitsTotal tracks worker process exits.
	WorkerExitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleet_worker_exits_total",
			Help: "Total worker process exits",
		},
		[]string{"reason"},
	)

	// IPCMessagesTotal tracks envelopes crossing supervisor/worker channels.
	IPCMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fleet_ipc_messages_total",
			Help: "Total IPC envelopes exchanged with workers",
		},
		[]string{"direction", "type"},
	)

	// ViewersConnected tracks active viewer websocket connections.
	ViewersConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hub_viewers_connected",
			Help: "Number of connected viewer sessions",
		},
	)

	// ViewerCommandsTotal tracks viewer-originated commands.
	ViewerCommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_viewer_commands_total",
			Help: "Total viewer commands handled",
		},
		[]string{"type", "status"},
	)

	// BroadcastsTotal tracks envelopes fanned out to viewers.
	BroadcastsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_broadcasts_total",
			Help: "Total envelopes broadcast to viewers",
		},
		[]string{"type"},
	)

	// SchedulesExecutedTotal tracks scheduler executions.
	SchedulesExecutedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_executions_total",
			Help: "Total scheduled fleet actions executed",
		},
		[]string{"action", "status"},
	)

	// LeadTransitionsTotal tracks lead lifecycle transitions.
	LeadTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lead_transitions_total",
			Help: "Total lead status transitions",
		},
		[]string{"status"},
	)

	// LLMRequestDuration tracks extraction and reply-generation latency.
	LLMRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_request_duration_seconds",
			Help:    "LLM request duration",
			Buckets: []float64{.25, .5, 1, 2, 5, 10, 20, 30},
		},
		[]string{"operation", "status"},
	)

	// LLMTokensTotal tracks total LLM tokens processed.
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total LLM tokens processed",
		},
		[]string{"model", "direction"},
	)

	// NATSPublishTotal tracks audit log publishes.
	NATSPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nats_audit_publish_total",
			Help: "Fleet events published to the audit stream",
		},
		[]string{"status"},
	)

	// NATSConnectionEventsTotal tracks audit log connection changes.
	NATSConnectionEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nats_audit_connection_events_total",
			Help: "Audit log disconnects and reconnects",
		},
		[]string{"event"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordLLM records metrics for a completed LLM call.
func RecordLLM(operation, model, status string, duration float64, tokensIn, tokensOut int) {
	LLMRequestDuration.WithLabelValues(operation, status).Observe(duration)
	if model != "" {
		LLMTokensTotal.WithLabelValues(model, "in").Add(float64(tokensIn))
		LLMTokensTotal.WithLabelValues(model, "out").Add(float64(tokensOut))
	}
}

// IncrementViewers increments the connected viewer count.
func IncrementViewers() {
	ViewersConnected.Inc()
}

// DecrementViewers decrements the connected viewer count.
func DecrementViewers() {
	ViewersConnected.Dec()
}
