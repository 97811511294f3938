package guard

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the monitor's Prometheus instruments.
type Metrics struct {
	Trainings        prometheus.Counter
	TrainingDuration prometheus.Histogram
	Checks           *prometheus.CounterVec
	Fallbacks        prometheus.Counter
}

// NewMetrics creates the instruments and registers them with reg. A nil
// reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Trainings: factory.NewCounter(prometheus.CounterOpts{
			Name: "vitalguard_trainings_total",
			Help: "Number of completed detector trainings",
		}),
		TrainingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vitalguard_training_duration_seconds",
			Help:    "Time spent training a detector",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
		Checks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vitalguard_checks_total",
			Help: "Readings checked, by verdict source and verdict",
		}, []string{"source", "verdict"}),
		Fallbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "vitalguard_fallbacks_total",
			Help: "Checks that fell back to rules because the detector failed",
		}),
	}
}

func (m *Metrics) observe(alerts ...Alert) {
	for _, a := range alerts {
		verdict := "normal"
		if a.IsAnomaly {
			verdict = "anomaly"
		}
		m.Checks.WithLabelValues(string(a.Source), verdict).Inc()
	}
}
