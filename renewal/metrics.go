package renewal

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// renewalsTotal tracks completed renewals by certificate class and result
	// Labels: class (root_ca, intermediate_ca, standard), result (success, failure)
	renewalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "certflow_renewals_total",
			Help: "Total number of certificate renewals grouped by class and result",
		},
		[]string{"class", "result"},
	)

	// renewalDuration tracks the duration of renewal operations
	// Buckets cover fast local signing up to passphrase-wait renewals
	renewalDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "certflow_renewal_duration_seconds",
			Help:    "Duration of certificate renewal operations in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 30, 60, 120},
		},
	)

	// eligibilityDecisions tracks evaluator decisions
	// Labels: class, due (true, false)
	eligibilityDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "certflow_eligibility_decisions_total",
			Help: "Total number of renewal eligibility decisions grouped by class and outcome",
		},
		[]string{"class", "due"},
	)
)

// recordRenewal records a completed renewal
func recordRenewal(class string, success bool, seconds float64) {
	result := "success"
	if !success {
		result = "failure"
	}
	renewalsTotal.WithLabelValues(class, result).Inc()
	renewalDuration.Observe(seconds)
}

// recordDecision records an eligibility decision
func recordDecision(class string, due bool) {
	outcome := "false"
	if due {
		outcome = "true"
	}
	eligibilityDecisions.WithLabelValues(class, outcome).Inc()
}
