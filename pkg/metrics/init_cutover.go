package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initCutoverMetrics() {
	r.CutoverRunsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbscales_cutover_runs_total",
			Help: "Completed cutover runs",
		},
		[]string{"mode", "status"}, // dry_run|live, success|failed
	)

	r.CutoverStepsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbscales_cutover_steps_total",
			Help: "Cutover steps by outcome",
		},
		[]string{"step", "outcome"},
	)

	r.CutoverStepDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dbscales_cutover_step_duration_seconds",
			Help:    "Wall time of each cutover step",
			Buckets: []float64{.01, .1, .5, 1, 2, 5, 10, 30, 60, 300},
		},
		[]string{"step"},
	)

	r.PromotionWaitSeconds = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dbscales_promotion_wait_seconds",
			Help:    "Time from pg_promote until the standby left recovery",
			Buckets: []float64{.5, 1, 2, 5, 10, 20, 30},
		},
	)
}

func (r *Registry) initLoadMetrics() {
	r.LoadOperationsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbscales_load_operations_total",
			Help: "Write operations issued by the load generator",
		},
		[]string{"operation", "status"}, // insert|update|delete, success|error
	)

	r.LoadOperationDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dbscales_load_operation_duration_seconds",
			Help:    "Latency of load generator writes",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
}
