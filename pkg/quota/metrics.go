package quota

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains Prometheus metrics for the admission engine.
type Metrics struct {
	checks      *prometheus.CounterVec
	denials     *prometheus.CounterVec
	casRetries  prometheus.Counter
	casExhausts prometheus.Counter
	checkTime   prometheus.Histogram
}

// NewMetrics creates the engine's metric set against the given registerer.
// Passing a fresh registry keeps tests isolated; production wires the
// server's registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		checks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_admission_checks_total",
				Help: "Total number of admission checks performed",
			},
			[]string{"class", "result"},
		),

		denials: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_admission_denials_total",
				Help: "Total number of denied checks",
			},
			[]string{"class", "endpoint"},
		),

		casRetries: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gatekeeper_counter_cas_retries_total",
				Help: "Total number of compare-and-swap conflicts retried",
			},
		),

		casExhausts: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "gatekeeper_counter_cas_exhausted_total",
				Help: "Total number of checks that exhausted the CAS retry budget",
			},
		),

		checkTime: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name: "gatekeeper_admission_check_duration_seconds",
				Help: "Latency of admission checks",
				// The check path is expected to answer in microseconds.
				Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.025, 0.1},
			},
		),
	}
}

// observeCheck records one completed check.
func (m *Metrics) observeCheck(class ScopeClass, endpoint string, allowed bool, seconds float64) {
	if m == nil {
		return
	}

	result := "allowed"
	if !allowed {
		result = "denied"
		m.denials.WithLabelValues(string(class), endpoint).Inc()
	}
	m.checks.WithLabelValues(string(class), result).Inc()
	m.checkTime.Observe(seconds)
}

// observeRetry records one CAS conflict retry.
func (m *Metrics) observeRetry() {
	if m == nil {
		return
	}
	m.casRetries.Inc()
}

// observeExhaustion records a check that ran out of CAS attempts.
func (m *Metrics) observeExhaustion() {
	if m == nil {
		return
	}
	m.casExhausts.Inc()
}
