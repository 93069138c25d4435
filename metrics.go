package filegate

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values.
const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
	outcomeAllowed = "allowed"
	outcomeDenied  = "denied"
)

type metrics struct {
	uploads     *prometheus.CounterVec
	uploadBytes prometheus.Histogram
	decisions   *prometheus.CounterVec
}

// newMetrics creates the collectors and registers them on reg.
// With a nil reg the collectors work but are not exported.
func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		uploads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "filegate_uploads_total",
				Help: "Upload attempts by outcome and reason code.",
			},
			[]string{"outcome", "reason"},
		),
		uploadBytes: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "filegate_upload_bytes",
				Help:    "Size of accepted uploads in bytes.",
				Buckets: prometheus.ExponentialBuckets(1<<10, 4, 10),
			},
		),
		decisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "filegate_access_decisions_total",
				Help: "Read and delete authorization outcomes.",
			},
			[]string{"action", "outcome"},
		),
	}
}

func (m *metrics) upload(size int64, err error) {
	if err != nil {
		m.uploads.WithLabelValues(outcomeFailure, reasonCode(err)).Inc()
		return
	}
	m.uploads.WithLabelValues(outcomeSuccess, "").Inc()
	m.uploadBytes.Observe(float64(size))
}

func (m *metrics) decision(action string, allowed bool) {
	outcome := outcomeDenied
	if allowed {
		outcome = outcomeAllowed
	}
	m.decisions.WithLabelValues(action, outcome).Inc()
}
