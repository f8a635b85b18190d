package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Run results used as the "result" label.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// JobRuns counts finished job runs by job and result.
var JobRuns = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "membercycle",
	Subsystem: "jobs",
	Name:      "runs_total",
	Help:      "Total job runs by job and result.",
}, []string{"job", "result"})

// JobChecked counts records examined by job runs.
var JobChecked = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "membercycle",
	Subsystem: "jobs",
	Name:      "checked_total",
	Help:      "Total member records examined.",
}, []string{"job"})

// JobAffected counts records mutated by job runs.
var JobAffected = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "membercycle",
	Subsystem: "jobs",
	Name:      "affected_total",
	Help:      "Total member records mutated.",
}, []string{"job"})

// JobDuration tracks job run latency.
var JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "membercycle",
	Subsystem: "jobs",
	Name:      "duration_seconds",
	Help:      "Job run duration in seconds.",
	Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
}, []string{"job"})

// ObserveRun records one finished run. Failed runs still report the records
// they got through before failing.
func ObserveRun(job string, err error, checked, affected int, d time.Duration) {
	result := ResultSuccess
	if err != nil {
		result = ResultFailure
	}
	JobRuns.WithLabelValues(job, result).Inc()
	JobChecked.WithLabelValues(job).Add(float64(checked))
	JobAffected.WithLabelValues(job).Add(float64(affected))
	JobDuration.WithLabelValues(job).Observe(d.Seconds())
}
