package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ReplicationSample is the subset of a snapshot exported as gauges. Nil
// pointers leave the previous gauge value untouched except for lags, which
// an idle sender reports as NULL and are exported as zero.
type ReplicationSample struct {
	PrimaryWALBytes   *int64
	ByteLag           *int64
	WriteLagSeconds   *float64
	FlushLagSeconds   *float64
	ReplayLagSeconds  *float64
	SlotRetainedBytes *int64
	Healthy           bool
	InSync            bool
	Warnings          int
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func orZero[T int64 | float64](p *T) float64 {
	if p == nil {
		return 0
	}
	return float64(*p)
}

// RecordHTTPRequest records an HTTP request with its duration
func (r *Registry) RecordHTTPRequest(path, status string, duration time.Duration) {
	r.HTTPRequestsTotal.WithLabelValues(path, status).Inc()
	r.HTTPRequestDuration.WithLabelValues(path).Observe(duration.Seconds())
}

// RecordCollection records one collector pass
func (r *Registry) RecordCollection(err error, duration time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	r.CollectionsTotal.WithLabelValues(status).Inc()
	r.CollectionDuration.Observe(duration.Seconds())
}

// UpdateReplication exports the latest snapshot
func (r *Registry) UpdateReplication(s ReplicationSample) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s.PrimaryWALBytes != nil {
		r.PrimaryWALPositionBytes.Set(float64(*s.PrimaryWALBytes))
	}
	if s.SlotRetainedBytes != nil {
		r.ReplicationSlotRetainedBytes.Set(float64(*s.SlotRetainedBytes))
	}
	r.ReplicationByteLag.Set(orZero(s.ByteLag))
	r.ReplicationWriteLagSeconds.Set(orZero(s.WriteLagSeconds))
	r.ReplicationFlushLagSeconds.Set(orZero(s.FlushLagSeconds))
	r.ReplicationReplayLagSeconds.Set(orZero(s.ReplayLagSeconds))
	r.ReplicationHealthy.Set(boolGauge(s.Healthy))
	r.ReplicationInSync.Set(boolGauge(s.InSync))
	r.ReplicationWarnings.Set(float64(s.Warnings))
}

// RecordSyncSample records one sync gate evaluation and the resulting streak
func (r *Registry) RecordSyncSample(result string, consecutive int) {
	r.SyncGateSamplesTotal.WithLabelValues(result).Inc()
	r.SyncGateConsecutive.Set(float64(consecutive))
}

// RecordCutoverStep records the outcome of a cutover step
func (r *Registry) RecordCutoverStep(step, outcome string, duration time.Duration) {
	r.CutoverStepsTotal.WithLabelValues(step, outcome).Inc()
	r.CutoverStepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

// RecordCutoverRun records a finished cutover
func (r *Registry) RecordCutoverRun(dryRun, success bool) {
	mode := "live"
	if dryRun {
		mode = "dry_run"
	}
	status := "failed"
	if success {
		status = "success"
	}
	r.CutoverRunsTotal.WithLabelValues(mode, status).Inc()
}

// RecordPromotionWait records how long the standby took to leave recovery
func (r *Registry) RecordPromotionWait(d time.Duration) {
	r.PromotionWaitSeconds.Observe(d.Seconds())
}

// RecordLoadOperation records one load generator write
func (r *Registry) RecordLoadOperation(operation string, err error, duration time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	r.LoadOperationsTotal.WithLabelValues(operation, status).Inc()
	r.LoadOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordMonitorIteration counts one monitor pass and refreshes uptime
func (r *Registry) RecordMonitorIteration(err error, started time.Time) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	r.MonitorIterationsTotal.WithLabelValues(outcome).Inc()
	r.UptimeSeconds.Set(time.Since(started).Seconds())
}

// Handler serves the registry in the Prometheus exposition format
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
