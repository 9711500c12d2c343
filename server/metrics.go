package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the server's Prometheus instruments. Each Server owns
// its own registry so tests can run servers side by side without
// duplicate registration panics.
type Metrics struct {
	registry *prometheus.Registry

	ConnectionsTotal   prometheus.Counter
	ConnectionsActive  prometheus.Gauge
	RegistrationsTotal prometheus.Counter
	CommandsTotal      *prometheus.CounterVec
	MessagesSent       prometheus.Counter
	BroadcastsTotal    prometheus.Counter
	ChannelsActive     prometheus.Gauge
}

func newMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ConnectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "ircd_connections_total",
			Help: "Connections accepted since start.",
		}),
		ConnectionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ircd_connections_active",
			Help: "Connections currently open.",
		}),
		RegistrationsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "ircd_registrations_total",
			Help: "Sessions that completed registration.",
		}),
		CommandsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ircd_commands_total",
			Help: "Commands dispatched, by verb.",
		}, []string{"verb"}),
		MessagesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "ircd_messages_sent_total",
			Help: "Lines enqueued for delivery to clients.",
		}),
		BroadcastsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "ircd_broadcasts_total",
			Help: "Channel message broadcasts performed.",
		}),
		ChannelsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ircd_channels_active",
			Help: "Channels currently in existence.",
		}),
	}
}

// Handler serves this server's metrics in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
