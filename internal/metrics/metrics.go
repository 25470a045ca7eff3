// Package metrics exposes conversion counters and stage timings to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/spewite/score-to-midi/internal/conversion"
	"github.com/spewite/score-to-midi/internal/scoreerr"
)

const namespace = "score_to_midi"

// Metrics holds the collectors for one process.
type Metrics struct {
	Conversions   *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec
	InFlight      prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Conversions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversions_total",
			Help:      "Finished conversions by outcome kind.",
		}, []string{"kind"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each pipeline stage.",
			Buckets:   []float64{0.05, 0.25, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"stage"}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "conversions_in_flight",
			Help:      "Conversions currently running.",
		}),
	}
	reg.MustRegister(m.Conversions, m.StageDuration, m.InFlight)
	return m
}

// OnStage tracks in-flight runs; pass it as conversion.Config.OnStage.
func (m *Metrics) OnStage(token string, state conversion.State) {
	switch state {
	case conversion.StateNormalizing:
		m.InFlight.Inc()
	case conversion.StateDone, conversion.StateFailed:
		m.InFlight.Dec()
	}
}

// Observe records the outcome and stage timings of a finished run.
func (m *Metrics) Observe(res conversion.Result, err error) {
	kind := "success"
	if err != nil {
		kind = string(scoreerr.KindOf(err))
	}
	m.Conversions.WithLabelValues(kind).Inc()
	for _, st := range res.Stages {
		m.StageDuration.WithLabelValues(string(st.State)).Observe(st.Duration.Seconds())
	}
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
