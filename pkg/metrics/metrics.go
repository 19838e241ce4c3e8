// Package metrics registers the server's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	Connections   prometheus.Gauge
	Members       *prometheus.GaugeVec
	Rooms         *prometheus.GaugeVec
	InboundEvents *prometheus.CounterVec
	Rotations     *prometheus.CounterVec
	RoomsStarted  *prometheus.CounterVec
	SendFailures  prometheus.Counter
	Throttled     prometheus.Counter
}

// New builds collectors on a private registry, so tests can create as many as they
// like.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "stagedelight",
			Name:      "connections",
			Help:      "Live websocket connections.",
		}),
		Members: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "stagedelight",
			Name:      "room_members",
			Help:      "Joined users per room type.",
		}, []string{"room_type"}),
		Rooms: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "stagedelight",
			Name:      "rooms",
			Help:      "Live rooms per room type.",
		}, []string{"room_type"}),
		InboundEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stagedelight",
			Name:      "inbound_events_total",
			Help:      "Client events received, by event name.",
		}, []string{"event"}),
		Rotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stagedelight",
			Name:      "speaker_rotations_total",
			Help:      "Speaker changes, by cause.",
		}, []string{"reason"}),
		RoomsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stagedelight",
			Name:      "rooms_started_total",
			Help:      "Rooms that left the waiting state, by cause.",
		}, []string{"reason"}),
		SendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "stagedelight",
			Name:      "send_failures_total",
			Help:      "Outbound messages that could not be written.",
		}),
		Throttled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "stagedelight",
			Name:      "throttled_events_total",
			Help:      "Client events dropped by the per-connection rate limit.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Connections,
		m.Members,
		m.Rooms,
		m.InboundEvents,
		m.Rotations,
		m.RoomsStarted,
		m.SendFailures,
		m.Throttled,
	)
	return m
}

// Handler exposes the collectors in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
