package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rendis/actionkit/pkg/schema"
)

// Metrics holds the engine's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	Passes       *prometheus.CounterVec
	PassDuration *prometheus.HistogramVec
	Retries      *prometheus.CounterVec
	SlowCalls    *prometheus.CounterVec
	Fallbacks    *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg (nil skips
// registration).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Passes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "actionkit_passes_total",
				Help: "Update passes by place and outcome",
			},
			[]string{"place", "outcome"},
		),
		PassDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "actionkit_pass_duration_seconds",
				Help:    "Wall-clock duration of update passes",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"place"},
		),
		Retries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "actionkit_retries_total",
				Help: "Pass retries by cancellation reason",
			},
			[]string{"reason"},
		),
		SlowCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "actionkit_slow_calls_total",
				Help: "Hook calls exceeding the slow-call threshold",
			},
			[]string{"op"},
		),
		Fallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "actionkit_fallbacks_total",
				Help: "Passes answered by the cheap strategy after a timeout",
			},
			[]string{"place"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.Passes, m.PassDuration, m.Retries, m.SlowCalls, m.Fallbacks)
	}
	return m
}

func (m *Metrics) pass(place schema.Place, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Passes.WithLabelValues(string(place), outcome).Inc()
	m.PassDuration.WithLabelValues(string(place)).Observe(elapsed.Seconds())
}

func (m *Metrics) retry(reason error) {
	if m == nil {
		return
	}
	m.Retries.WithLabelValues(schema.CodeOf(reason)).Inc()
}

func (m *Metrics) slowCall(op string) {
	if m == nil {
		return
	}
	m.SlowCalls.WithLabelValues(op).Inc()
}

func (m *Metrics) fallback(place schema.Place) {
	if m == nil {
		return
	}
	m.Fallbacks.WithLabelValues(string(place)).Inc()
}
