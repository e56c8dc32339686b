package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the relay's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	wsConnections *prometheus.CounterVec
	wsDisconnects *prometheus.CounterVec
	wsMessagesOut *prometheus.CounterVec
	wsDropped     *prometheus.CounterVec
	wsActive      *prometheus.GaugeVec

	agentLatency prometheus.Histogram
	agentErrors  prometheus.Counter
}

// New creates and registers all collectors, plus the Go runtime and process
// collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		wsConnections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "app_websocket_connections_total",
			Help: "Total WebSocket connections accepted.",
		}, []string{"endpoint"}),

		wsDisconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "app_websocket_disconnects_total",
			Help: "Total WebSocket connections closed or dropped.",
		}, []string{"endpoint", "code"}),

		wsMessagesOut: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "app_websocket_messages_sent_total",
			Help: "Number of messages sent to WebSocket clients.",
		}, []string{"endpoint"}),

		wsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "app_websocket_messages_dropped_total",
			Help: "Messages dropped because a client send queue was full.",
		}, []string{"endpoint"}),

		wsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "app_websocket_active_connections",
			Help: "Current active WebSocket connections.",
		}, []string{"endpoint"}),

		agentLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "app_agent_inference_latency_seconds",
			Help:    "Latency of agent inference requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}),

		agentErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "app_agent_inference_errors_total",
			Help: "Count of agent inference errors.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.wsConnections,
		m.wsDisconnects,
		m.wsMessagesOut,
		m.wsDropped,
		m.wsActive,
		m.agentLatency,
		m.agentErrors,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// WebsocketConnected records an accepted connection.
func (m *Metrics) WebsocketConnected(endpoint string) {
	if m == nil {
		return
	}
	m.wsConnections.WithLabelValues(endpoint).Inc()
	m.wsActive.WithLabelValues(endpoint).Inc()
}

// WebsocketClosed records a closed connection with its close code.
func (m *Metrics) WebsocketClosed(endpoint, code string) {
	if m == nil {
		return
	}
	m.wsDisconnects.WithLabelValues(endpoint, code).Inc()
	m.wsActive.WithLabelValues(endpoint).Dec()
}

// WebsocketMessageSent records one message written to a client.
func (m *Metrics) WebsocketMessageSent(endpoint string) {
	if m == nil {
		return
	}
	m.wsMessagesOut.WithLabelValues(endpoint).Inc()
}

// WebsocketMessageDropped records one message a client missed.
func (m *Metrics) WebsocketMessageDropped(endpoint string) {
	if m == nil {
		return
	}
	m.wsDropped.WithLabelValues(endpoint).Inc()
}

// ObserveAgent records one agent command. Failed commands count as errors
// and are kept out of the latency histogram.
func (m *Metrics) ObserveAgent(d time.Duration, failed bool) {
	if m == nil {
		return
	}
	if failed {
		m.agentErrors.Inc()
		return
	}
	m.agentLatency.Observe(d.Seconds())
}
