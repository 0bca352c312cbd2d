package attendance

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes pipeline counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	scans         *prometheus.CounterVec
	duration      prometheus.Histogram
	auditFailures prometheus.Counter
	rosterIssues  *prometheus.CounterVec
}

// NewMetrics registers the pipeline collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "attendance",
			Name:      "scans_total",
			Help:      "Card scans by terminal outcome.",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "attendance",
			Name:      "scan_duration_seconds",
			Help:      "Time spent deciding one scan.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),
		auditFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "attendance",
			Name:      "audit_failures_total",
			Help:      "Best-effort audit appends that failed after the primary write.",
		}),
		rosterIssues: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "attendance",
			Name:      "roster_issues_total",
			Help:      "Scans that hit a roster data-quality problem.",
		}, []string{"kind"}),
	}
	if reg != nil {
		reg.MustRegister(m.scans, m.duration, m.auditFailures, m.rosterIssues)
	}
	return m
}

func (m *Metrics) observe(o Outcome, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.scans.WithLabelValues(string(o)).Inc()
	m.duration.Observe(elapsed.Seconds())
}

func (m *Metrics) auditFailed() {
	if m == nil {
		return
	}
	m.auditFailures.Inc()
}

func (m *Metrics) rosterIssue(kind string) {
	if m == nil {
		return
	}
	m.rosterIssues.WithLabelValues(kind).Inc()
}
