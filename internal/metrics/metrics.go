package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsActive tracks currently open WebSocket connections
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vsdocs_connections_active",
		Help: "Number of open WebSocket connections.",
	})

	// EventsTotal counts inbound events by event name
	EventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vsdocs_events_total",
		Help: "Inbound room events processed, by event name.",
	}, []string{"event"})

	// EventsDropped counts silently discarded malformed events
	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vsdocs_events_dropped_total",
		Help: "Malformed events discarded without a broadcast.",
	})

	// BroadcastsTotal counts outbound deliveries queued to clients
	BroadcastsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vsdocs_broadcast_deliveries_total",
		Help: "Outbound event deliveries queued to room members.",
	})
)

// Handler exposes Prometheus metrics at /metrics
func Handler() http.Handler {
	return promhttp.Handler()
}
