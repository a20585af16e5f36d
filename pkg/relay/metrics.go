package relay

import "github.com/prometheus/client_golang/prometheus"

// Drop reasons reported on the dropped frames counter.
const (
	DropInvalid      = "invalid"
	DropRateLimited  = "rate_limited"
	DropSlowConsumer = "slow_consumer"
	DropStoreError   = "store_error"
)

// Metrics are the hub's Prometheus collectors.
type Metrics struct {
	Connections prometheus.Gauge
	Frames      *prometheus.CounterVec
	Delivered   prometheus.Counter
	Pending     prometheus.Counter
	Dropped     *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg. A nil reg leaves them
// unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "wc",
			Subsystem: "bridge",
			Name:      "connections",
			Help:      "Open WebSocket connections.",
		}),
		Frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wc",
			Subsystem: "bridge",
			Name:      "frames_total",
			Help:      "Frames received, by envelope type and source.",
		}, []string{"type", "source"}),
		Delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wc",
			Subsystem: "bridge",
			Name:      "delivered_total",
			Help:      "Frames written to subscribers.",
		}),
		Pending: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wc",
			Subsystem: "bridge",
			Name:      "pending_stored_total",
			Help:      "Frames stored for a topic without subscribers.",
		}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wc",
			Subsystem: "bridge",
			Name:      "dropped_total",
			Help:      "Frames dropped, by reason.",
		}, []string{"reason"}),
	}
	if reg != nil {
		reg.MustRegister(m.Connections, m.Frames, m.Delivered, m.Pending, m.Dropped)
	}
	return m
}
