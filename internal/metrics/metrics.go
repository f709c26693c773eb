package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "studyroom"

	eventTypeLabel = "event_type"
)

type Metrics struct {
	Reg               *prometheus.Registry
	ActiveConnections prometheus.Gauge
	ActiveSessions    prometheus.Gauge
	EventsReceived    *prometheus.CounterVec
	EventsBroadcast   *prometheus.CounterVec
	BroadcastDuration prometheus.Histogram
}

func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Reg: reg,
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
		}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
		}),
		EventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_received_total",
		}, []string{eventTypeLabel}),
		EventsBroadcast: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_broadcast_total",
		}, []string{eventTypeLabel}),
		BroadcastDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "broadcast_duration_seconds",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}),
	}

	reg.MustRegister(m.ActiveConnections)
	reg.MustRegister(m.ActiveSessions)
	reg.MustRegister(m.EventsReceived)
	reg.MustRegister(m.EventsBroadcast)
	reg.MustRegister(m.BroadcastDuration)

	return m
}
