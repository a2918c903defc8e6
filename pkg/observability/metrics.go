package observability

import (
	"errors"

	"github.com/aretw0/tickvm/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
)

// Namespace prefixes every metric name.
const Namespace = "tickvm"

// Metrics holds the collectors fed by Hooks.
type Metrics struct {
	Ticks        *prometheus.CounterVec
	TickDuration prometheus.Histogram
	Calls        prometheus.Counter
	Requests     *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Ticks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "ticks_total",
				Help:      "Ticks run, by result (ok or the fault kind).",
			},
			[]string{"result"},
		),
		TickDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "tick_duration_seconds",
				Help:      "Wall time of one tick.",
				Buckets:   prometheus.ExponentialBuckets(0.00005, 4, 8),
			},
		),
		Calls: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "calls_total",
				Help:      "Host calls emitted by guests.",
			},
		),
		Requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "requests_total",
				Help:      "Guest requests serviced, by kind.",
			},
			[]string{"kind"},
		),
	}
	for _, c := range []prometheus.Collector{m.Ticks, m.TickDuration, m.Calls, m.Requests} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Result is the ticks_total label for a tick that ended with err.
func Result(err error) string {
	if err == nil {
		return "ok"
	}
	var te *domain.TickError
	if errors.As(err, &te) {
		return te.Kind.String()
	}
	return "error"
}

// Hooks records every tick and request into m.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnTickEnd: func(e *domain.TickEvent) {
			m.Ticks.WithLabelValues(Result(e.Err)).Inc()
			m.TickDuration.Observe(e.Elapsed.Seconds())
			m.Calls.Add(float64(e.Calls))
		},
		OnRequest: func(e *domain.RequestEvent) {
			m.Requests.WithLabelValues(e.Kind).Inc()
		},
	}
}
