package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the relay's Prometheus collectors. Tests pass a fresh
// registry; main registers against the default one.
type Metrics struct {
	ActiveSessions   prometheus.Gauge
	Rooms            prometheus.Gauge
	PacketsReceived  prometheus.Counter
	PacketsForwarded prometheus.Counter
	PacketsRejected  *prometheus.CounterVec
	SessionsEvicted  *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "relay",
			Name:      "active_sessions",
			Help:      "Currently connected client sessions",
		}),
		Rooms: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "relay",
			Name:      "rooms",
			Help:      "Rooms created since start; empty rooms are retained",
		}),
		PacketsReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "packets_received_total",
			Help:      "Inbound packets, counted before validation",
		}),
		PacketsForwarded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "packets_forwarded_total",
			Help:      "Per-target deliveries of forwarded packets",
		}),
		PacketsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "packets_rejected_total",
			Help:      "Packets rejected by validation, by status code",
		}, []string{"status"}),
		SessionsEvicted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "sessions_evicted_total",
			Help:      "Sessions closed by the monitor, by reason",
		}, []string{"reason"}),
	}
}

// RejectedStatus increments the rejection counter for one status code.
func (m *Metrics) RejectedStatus(status int) {
	m.PacketsRejected.WithLabelValues(strconv.Itoa(status)).Inc()
}
