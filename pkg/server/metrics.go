package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "crisis_stream"

// metrics holds the hub collectors on a private registry, so several
// servers can live in one process.
type metrics struct {
	registry  *prometheus.Registry
	clients   prometheus.Gauge
	published *prometheus.CounterVec
	delivered prometheus.Counter
	dropped   prometheus.Counter
	pings     prometheus.Counter
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_clients",
			Help:      "Number of websocket clients connected to the hub.",
		}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Events accepted by the hub, by topic.",
		}, []string{"topic"}),
		delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_delivered_total",
			Help:      "Event frames queued to clients.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Event frames dropped because a client queue was full.",
		}),
		pings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pings_received_total",
			Help:      "Keep-alive frames received from clients.",
		}),
	}
	m.registry.MustRegister(m.clients, m.published, m.delivered, m.dropped, m.pings)
	return m
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
