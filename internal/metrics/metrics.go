// Package metrics holds the service's Prometheus instrumentation. All
// collectors are registered on the default registry and served by
// promhttp from the /metrics route.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	EventsProcessed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "integrity_events_processed_total",
		Help: "Behavior events handled, by event type.",
	}, []string{"event_type"})

	Escalations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "integrity_escalations_total",
		Help: "Events classified beyond passive logging.",
	})

	SessionLocks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "integrity_session_locks_total",
		Help: "Sessions locked by local policy or administrators.",
	})

	SessionTerminations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "integrity_session_terminations_total",
		Help: "Sessions force-terminated.",
	})

	HeartbeatTimeouts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "integrity_heartbeat_timeouts_total",
		Help: "Sessions dropped for missing the heartbeat bound.",
	})

	ForwardFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "integrity_anomaly_forward_failures_total",
		Help: "Failed event deliveries to the anomaly-scoring service.",
	})

	MalformedMessages = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "integrity_malformed_messages_total",
		Help: "Unparseable inbound messages dropped (client or pub/sub).",
	})
)

func init() {
	prometheus.MustRegister(
		EventsProcessed,
		Escalations,
		SessionLocks,
		SessionTerminations,
		HeartbeatTimeouts,
		ForwardFailures,
		MalformedMessages,
	)
}

// RegisterActiveSessions exposes the registry's live session count as a
// gauge. Called once from main after the registry is built.
func RegisterActiveSessions(count func() int) {
	prometheus.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "integrity_active_sessions",
		Help: "Sessions currently tracked by the connection registry.",
	}, func() float64 { return float64(count()) }))
}
