package asyncinit

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// instrumentationName names the default tracer.
const instrumentationName = "github.com/mkock/asyncinit"

func defaultTracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// Metrics holds the Prometheus collectors updated by a Manager. A nil *Metrics records nothing.
type Metrics struct {
	runs         *prometheus.CounterVec
	tiers        prometheus.Counter
	unitDuration *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "asyncinit_runs_total",
			Help: "Initialization runs by outcome",
		}, []string{"outcome"}),
		tiers: factory.NewCounter(prometheus.CounterOpts{
			Name: "asyncinit_tiers_started_total",
			Help: "Tiers whose units were launched",
		}),
		unitDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "asyncinit_unit_duration_seconds",
			Help:    "Time for a unit to reach a terminal state",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30},
		}, []string{"type", "outcome"}),
	}
}

func (m *Metrics) observeRun(o Outcome) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(o.String()).Inc()
}

func (m *Metrics) observeTier() {
	if m == nil {
		return
	}
	m.tiers.Inc()
}

func (m *Metrics) observeUnit(typ Type, err error, d time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	switch {
	case isCancellation(err):
		outcome = "cancelled"
	case err != nil:
		outcome = "failed"
	}
	m.unitDuration.WithLabelValues(string(typ), outcome).Observe(d.Seconds())
}
