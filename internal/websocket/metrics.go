package websocket

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Eviction and drop reasons used as metric labels and log fields.
const (
	reasonClosed      = "closed"
	reasonSendFailure = "send_failure"
	reasonTimeout     = "timeout"
	reasonShutdown    = "shutdown"

	dropMalformed   = "malformed"
	dropUnknownType = "unknown_type"
	dropInvalid     = "invalid_payload"
	dropRateLimited = "rate_limited"
	dropOversized   = "oversized"
)

// Metrics holds the hub's collectors on a registry owned by the hub, so several
// hubs can live in one process without colliding.
type Metrics struct {
	registry    *prometheus.Registry
	connections prometheus.Gauge
	onlineUsers prometheus.Gauge
	handshakes  *prometheus.CounterVec
	delivered   *prometheus.CounterVec
	removals    *prometheus.CounterVec
	dropped     *prometheus.CounterVec
	presence    *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "catch_hub",
			Name:      "connections",
			Help:      "Live websocket connections.",
		}),
		onlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "catch_hub",
			Name:      "online_users",
			Help:      "Users with at least one live connection.",
		}),
		handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "catch_hub",
			Name:      "handshakes_total",
			Help:      "Handshakes by result.",
		}, []string{"result"}),
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "catch_hub",
			Name:      "envelopes_delivered_total",
			Help:      "Envelopes queued on a connection, by event.",
		}, []string{"event"}),
		removals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "catch_hub",
			Name:      "connections_removed_total",
			Help:      "Connections removed from the registry, by reason.",
		}, []string{"reason"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "catch_hub",
			Name:      "client_frames_dropped_total",
			Help:      "Inbound client frames dropped, by reason.",
		}, []string{"reason"}),
		presence: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "catch_hub",
			Name:      "presence_transitions_total",
			Help:      "Announced presence transitions.",
		}, []string{"state"}),
	}

	m.registry.MustRegister(
		m.connections, m.onlineUsers, m.handshakes, m.delivered,
		m.removals, m.dropped, m.presence,
		prometheus.NewGoCollector(),
	)
	return m
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) connectionAdded(firstForUser bool) {
	m.handshakes.WithLabelValues("accepted").Inc()
	m.connections.Inc()
	if firstForUser {
		m.onlineUsers.Inc()
	}
}

func (m *Metrics) connectionRemoved(reason string, lastForUser bool) {
	m.removals.WithLabelValues(reason).Inc()
	m.connections.Dec()
	if lastForUser {
		m.onlineUsers.Dec()
	}
}

func (m *Metrics) handshakeRejected() {
	m.handshakes.WithLabelValues("rejected").Inc()
}

func (m *Metrics) envelopeDelivered(event EventType) {
	m.delivered.WithLabelValues(event.String()).Inc()
}

func (m *Metrics) frameDropped(reason string) {
	m.dropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) presenceAnnounced(online bool) {
	state := "offline"
	if online {
		state = "online"
	}
	m.presence.WithLabelValues(state).Inc()
}
