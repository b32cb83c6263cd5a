package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "livefeed"

// Metrics holds the feed's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	updatesReceived     *prometheus.CounterVec
	deltasDropped       *prometheus.CounterVec
	subscribeCalls      *prometheus.CounterVec
	unsubscribeCalls    *prometheus.CounterVec
	activeSubscriptions prometheus.Gauge
	reconnects          prometheus.Counter
	connected           prometheus.Gauge
	tokenRotations      prometheus.Counter
}

// New creates the collectors on a dedicated registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		updatesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "updates_received_total",
			Help:      "Content updates decoded from the socket, by kind.",
		}, []string{"kind"}),
		deltasDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deltas_dropped_total",
			Help:      "Updates discarded before merge, by reason.",
		}, []string{"reason"}),
		subscribeCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscribe_calls_total",
			Help:      "Backend subscribe calls, by result.",
		}, []string{"result"}),
		unsubscribeCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unsubscribe_calls_total",
			Help:      "Backend unsubscribe calls, by result.",
		}, []string{"result"}),
		activeSubscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_subscriptions",
			Help:      "Backend subscriptions currently held.",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "socket_reconnects_total",
			Help:      "Socket reconnect attempts.",
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "socket_connected",
			Help:      "1 while the socket session is established.",
		}),
		tokenRotations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_token_rotations_total",
			Help:      "Session token changes handled.",
		}),
	}

	m.registry.MustRegister(
		m.updatesReceived,
		m.deltasDropped,
		m.subscribeCalls,
		m.unsubscribeCalls,
		m.activeSubscriptions,
		m.reconnects,
		m.connected,
		m.tokenRotations,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry for tests and custom handlers.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) UpdateReceived(kind string) {
	if m == nil {
		return
	}
	m.updatesReceived.WithLabelValues(kind).Inc()
}

func (m *Metrics) DeltaDropped(reason string) {
	if m == nil {
		return
	}
	m.deltasDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) SubscribeCall(result string) {
	if m == nil {
		return
	}
	m.subscribeCalls.WithLabelValues(result).Inc()
}

func (m *Metrics) UnsubscribeCall(result string) {
	if m == nil {
		return
	}
	m.unsubscribeCalls.WithLabelValues(result).Inc()
}

func (m *Metrics) SetActiveSubscriptions(n int) {
	if m == nil {
		return
	}
	m.activeSubscriptions.Set(float64(n))
}

func (m *Metrics) Reconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) SetConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.connected.Set(1)
		return
	}
	m.connected.Set(0)
}

func (m *Metrics) TokenRotated() {
	if m == nil {
		return
	}
	m.tokenRotations.Inc()
}
