package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		botsExpiredTotal,
		trialExhaustedMarkedTotal,
		scheduledJobRunsTotal,
	)
}

var (
	botsExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bots_expired_total",
			Help: "Total number of bot authorizations expired by the sweep.",
		},
	)

	trialExhaustedMarkedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "trial_exhausted_marked_total",
			Help: "Total number of users marked as trial-exhausted-notified.",
		},
	)

	scheduledJobRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduled_job_runs_total",
			Help: "Scheduled job runs by job and status.",
		},
		[]string{"job", "status"}, // status: 'ok', 'failed'
	)
)

func IncBotsExpired(n int) {
	botsExpiredTotal.Add(float64(n))
}

func IncTrialExhaustedMarked(n int) {
	trialExhaustedMarkedTotal.Add(float64(n))
}

func IncScheduledJob(job, status string) {
	scheduledJobRunsTotal.WithLabelValues(norm(job), norm(status)).Inc()
}
