package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the admission module.
type Metrics struct {
	// Check-in attempt outcomes by outcome, reason and method
	AttemptOutcome *prometheus.CounterVec

	// Credential decode failures by rejection reason
	CredentialFailure *prometheus.CounterVec

	// Overall check-in latency including store and audit writes
	CheckInLatency prometheus.Histogram
}

// New creates a new Metrics instance with all admission module metrics registered.
func New() *Metrics {
	return &Metrics{
		AttemptOutcome: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "turnstile_admission_attempts_total",
			Help: "Total check-in attempts by outcome, reason and method",
		}, []string{"outcome", "reason", "method"}),

		CredentialFailure: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "turnstile_credential_failures_total",
			Help: "Total credential decode failures by reason",
		}, []string{"reason"}),

		CheckInLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "turnstile_checkin_duration_seconds",
			Help:    "Duration of full check-in processing including store and audit writes",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
	}
}

// IncrementAttempt records one check-in attempt outcome.
func (m *Metrics) IncrementAttempt(outcome, reason, method string) {
	if m != nil {
		m.AttemptOutcome.WithLabelValues(outcome, reason, method).Inc()
	}
}

// IncrementCredentialFailure records a credential rejected before any store access.
func (m *Metrics) IncrementCredentialFailure(reason string) {
	if m != nil {
		m.CredentialFailure.WithLabelValues(reason).Inc()
	}
}

// ObserveCheckInLatency records the total check-in duration.
func (m *Metrics) ObserveCheckInLatency(d time.Duration) {
	if m != nil {
		m.CheckInLatency.Observe(d.Seconds())
	}
}
