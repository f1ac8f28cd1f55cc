package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics implements callflow.Observer on top of Prometheus collectors.
type Metrics struct {
	callbacks    *prometheus.CounterVec
	callsStarted *prometheus.CounterVec
	liveSessions prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		callbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "callscript",
				Name:      "callbacks_total",
				Help:      "Provider callbacks by class and outcome.",
			},
			[]string{"class", "outcome"},
		),
		callsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "callscript",
				Name:      "calls_started_total",
				Help:      "Outbound call creation attempts by result.",
			},
			[]string{"result"},
		),
		liveSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "callscript",
				Name:      "live_sessions",
				Help:      "Call sessions currently registered.",
			},
		),
	}
	for _, c := range []prometheus.Collector{m.callbacks, m.callsStarted, m.liveSessions} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) Callback(class, outcome string) {
	m.callbacks.WithLabelValues(class, outcome).Inc()
}

func (m *Metrics) CallStarted(result string) {
	m.callsStarted.WithLabelValues(result).Inc()
}

func (m *Metrics) LiveSessions(n int) {
	m.liveSessions.Set(float64(n))
}
