package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initReplicationMetrics() {
	r.ReplicationByteLag = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "dbscales_replication_byte_lag",
			Help: "Bytes sent by the primary but not yet replayed by the standby",
		},
	)

	r.ReplicationReplayLagSeconds = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "dbscales_replication_replay_lag_seconds",
			Help: "Replay lag reported by pg_stat_replication",
		},
	)

	r.ReplicationWriteLagSeconds = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "dbscales_replication_write_lag_seconds",
			Help: "Write lag reported by pg_stat_replication",
		},
	)

	r.ReplicationFlushLagSeconds = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "dbscales_replication_flush_lag_seconds",
			Help: "Flush lag reported by pg_stat_replication",
		},
	)

	r.ReplicationHealthy = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "dbscales_replication_healthy",
			Help: "1 when the last snapshot was healthy",
		},
	)

	r.ReplicationInSync = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "dbscales_replication_in_sync",
			Help: "1 when the last snapshot was in sync",
		},
	)

	r.ReplicationSlotRetainedBytes = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "dbscales_replication_slot_retained_bytes",
			Help: "WAL retained on the primary by the replication slot",
		},
	)

	r.PrimaryWALPositionBytes = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "dbscales_primary_wal_position_bytes",
			Help: "Current WAL write position of the primary",
		},
	)

	r.ReplicationWarnings = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "dbscales_replication_warnings",
			Help: "Number of warnings in the last snapshot",
		},
	)

	r.CollectionsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbscales_replication_collections_total",
			Help: "Total number of snapshot collections",
		},
		[]string{"status"}, // success, error
	)

	r.CollectionDuration = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dbscales_replication_collection_duration_seconds",
			Help:    "Time taken to collect one snapshot",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
		},
	)
}

func (r *Registry) initSyncGateMetrics() {
	r.SyncGateSamplesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbscales_syncgate_samples_total",
			Help: "Sync gate samples by result",
		},
		[]string{"result"}, // pass, fail, error
	)

	r.SyncGateConsecutive = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "dbscales_syncgate_consecutive_passes",
			Help: "Current run of consecutive passing samples",
		},
	)
}
