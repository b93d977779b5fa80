package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the survey module.
type Metrics struct {
	// Run lifecycle transitions by resulting status
	RunTransitions *prometheus.CounterVec

	// Notification dispatch outcomes
	Notifications *prometheus.CounterVec

	// Fan-out latency for a full activation, including dispatch
	ActivationLatency prometheus.Histogram

	// Surveys completed by recipients
	Completions prometheus.Counter
}

// New creates a new Metrics instance with all survey module metrics registered.
func New() *Metrics {
	return &Metrics{
		RunTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "attest_survey_run_transitions_total",
			Help: "Total run status transitions by resulting status",
		}, []string{"status"}), // status: "active", "completed", "expired"

		Notifications: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "attest_survey_notifications_total",
			Help: "Total survey notification dispatch attempts by outcome",
		}, []string{"outcome"}), // outcome: "sent", "failed"

		ActivationLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "attest_survey_activation_duration_seconds",
			Help:    "Duration of run activation including recipient fan-out and dispatch",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),

		Completions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "attest_survey_completions_total",
			Help: "Total surveys submitted by recipients",
		}),
	}
}

// IncrementTransition records a run status transition.
func (m *Metrics) IncrementTransition(status string) {
	if m != nil {
		m.RunTransitions.WithLabelValues(status).Inc()
	}
}

// IncrementNotification records a notification dispatch outcome.
func (m *Metrics) IncrementNotification(outcome string) {
	if m != nil {
		m.Notifications.WithLabelValues(outcome).Inc()
	}
}

// ObserveActivationLatency records the total activation duration.
func (m *Metrics) ObserveActivationLatency(d time.Duration) {
	if m != nil {
		m.ActivationLatency.Observe(d.Seconds())
	}
}

// IncrementCompletion records a submitted survey.
func (m *Metrics) IncrementCompletion() {
	if m != nil {
		m.Completions.Inc()
	}
}
