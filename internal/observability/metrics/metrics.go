// Package metrics exposes application instruments for the intake pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes application-level instruments.
type Metrics struct {
	Submissions       *prometheus.CounterVec
	AutoApprovals     prometheus.Counter
	RiskFlags         *prometheus.CounterVec
	RunsCompleted     prometheus.Counter
	ExtractionLatency prometheus.Histogram
}

// New registers the pipeline instruments on the given registerer.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitebooks_submissions_total",
			Help: "Invoice submissions by channel and outcome.",
		}, []string{"channel", "outcome"}),
		AutoApprovals: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sitebooks_auto_approvals_total",
			Help: "Invoices auto-approved at intake.",
		}),
		RiskFlags: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitebooks_risk_flags_total",
			Help: "Risk flags raised at intake by type.",
		}, []string{"type"}),
		RunsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sitebooks_payment_runs_completed_total",
			Help: "Payment runs completed.",
		}),
		ExtractionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sitebooks_extraction_duration_seconds",
			Help:    "Latency of document extraction calls.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	collectors := []prometheus.Collector{
		m.Submissions,
		m.AutoApprovals,
		m.RiskFlags,
		m.RunsCompleted,
		m.ExtractionLatency,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				_ = are
				continue
			}
			return nil, err
		}
	}

	return m, nil
}
