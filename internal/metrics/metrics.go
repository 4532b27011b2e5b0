package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"pi-connector/internal/piwebapi"
)

// PromObs exports PI Web API request outcomes and connection state.
// It implements piwebapi.Observer.
type PromObs struct {
	requests    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	connected   prometheus.Gauge
	transitions *prometheus.CounterVec
	batch       prometheus.Histogram
}

// NewPromObs registers the collectors on reg, or on the default registerer
// when reg is nil.
func NewPromObs(reg prometheus.Registerer) (*PromObs, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	p := &PromObs{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pi_requests_total",
			Help: "PI Web API requests by operation and outcome.",
		}, []string{"op", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pi_request_duration_seconds",
			Help:    "PI Web API request latency.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}, []string{"op"}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pi_connected",
			Help: "1 while the PI server is considered reachable.",
		}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pi_connection_transitions_total",
			Help: "Connection state changes by new state.",
		}, []string{"state"}),
		batch: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bridge_batch_entries",
			Help:    "Entries per posted batch.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
	}
	for _, c := range []prometheus.Collector{p.requests, p.duration, p.connected, p.transitions, p.batch} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	// connection state starts as connected
	p.connected.Set(1)
	return p, nil
}

func (p *PromObs) RequestDone(op string, kind piwebapi.Kind, elapsed time.Duration) {
	p.requests.WithLabelValues(op, kind.String()).Inc()
	p.duration.WithLabelValues(op).Observe(elapsed.Seconds())
}

func (p *PromObs) ConnectionChanged(connected bool, _ piwebapi.Kind) {
	if connected {
		p.connected.Set(1)
		p.transitions.WithLabelValues("connected").Inc()
		return
	}
	p.connected.Set(0)
	p.transitions.WithLabelValues("disconnected").Inc()
}

// ObserveBatch records the size of a posted batch.
func (p *PromObs) ObserveBatch(entries int) {
	p.batch.Observe(float64(entries))
}
