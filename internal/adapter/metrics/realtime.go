package metrics

import "github.com/prometheus/client_golang/prometheus"

// RealtimeMetrics holds Prometheus metrics for the WebSocket core.
type RealtimeMetrics struct {
	ActiveConnections   prometheus.Gauge
	MessagesSent        prometheus.Counter
	SendFailures        prometheus.Counter
	HeartbeatEvictions  prometheus.Counter
	EventsBroadcast     *prometheus.CounterVec
	BroadcastDuration   prometheus.Histogram
	ProtocolErrors      prometheus.Counter
	RelayEventsReceived prometheus.Counter
}

// NewRealtimeMetrics creates and registers real-time metrics on the given registry.
func NewRealtimeMetrics(reg prometheus.Registerer) *RealtimeMetrics {
	m := &RealtimeMetrics{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "active_connections",
			Help:      "Number of active WebSocket connections.",
		}),
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "messages_sent_total",
			Help:      "Total number of messages written to clients.",
		}),
		SendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "send_failures_total",
			Help:      "Total number of sends skipped because a connection was closed or its buffer full.",
		}),
		HeartbeatEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "heartbeat_evictions_total",
			Help:      "Total number of connections terminated for missing a heartbeat.",
		}),
		EventsBroadcast: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "events_total",
			Help:      "Total number of events fanned out, by envelope type.",
		}, []string{"type"}),
		BroadcastDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "duration_seconds",
			Help:      "Duration of one persist-and-fan-out pass.",
			Buckets:   prometheus.DefBuckets,
		}),
		ProtocolErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "protocol_errors_total",
			Help:      "Total number of malformed or invalid inbound frames.",
		}),
		RelayEventsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "relay_events_received_total",
			Help:      "Total number of events received from other instances via the relay.",
		}),
	}

	reg.MustRegister(
		m.ActiveConnections,
		m.MessagesSent,
		m.SendFailures,
		m.HeartbeatEvictions,
		m.EventsBroadcast,
		m.BroadcastDuration,
		m.ProtocolErrors,
		m.RelayEventsReceived,
	)
	return m
}
