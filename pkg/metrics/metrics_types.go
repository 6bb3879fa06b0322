package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds all metrics for the application
type Registry struct {
	// Process Metrics
	HTTPRequestsTotal      *prometheus.CounterVec
	HTTPRequestDuration    *prometheus.HistogramVec
	MonitorIterationsTotal *prometheus.CounterVec
	UptimeSeconds          prometheus.Gauge

	// Replication Metrics
	ReplicationByteLag           prometheus.Gauge
	ReplicationReplayLagSeconds  prometheus.Gauge
	ReplicationWriteLagSeconds   prometheus.Gauge
	ReplicationFlushLagSeconds   prometheus.Gauge
	ReplicationHealthy           prometheus.Gauge
	ReplicationInSync            prometheus.Gauge
	ReplicationSlotRetainedBytes prometheus.Gauge
	PrimaryWALPositionBytes      prometheus.Gauge
	ReplicationWarnings          prometheus.Gauge
	CollectionsTotal             *prometheus.CounterVec
	CollectionDuration           prometheus.Histogram

	// Sync Gate Metrics
	SyncGateSamplesTotal *prometheus.CounterVec
	SyncGateConsecutive  prometheus.Gauge

	// Cutover Metrics
	CutoverRunsTotal     *prometheus.CounterVec
	CutoverStepsTotal    *prometheus.CounterVec
	CutoverStepDuration  *prometheus.HistogramVec
	PromotionWaitSeconds prometheus.Histogram

	// Load Generator Metrics
	LoadOperationsTotal   *prometheus.CounterVec
	LoadOperationDuration *prometheus.HistogramVec

	registry *prometheus.Registry
	mu       sync.RWMutex
}

var (
	// Global registry instance
	defaultRegistry *Registry
	once            sync.Once
)

// DefaultRegistry returns the global metrics registry
func DefaultRegistry() *Registry {
	once.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// NewRegistry creates a new metrics registry with all metrics initialized
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		registry: reg,
	}

	r.initProcessMetrics()
	r.initReplicationMetrics()
	r.initSyncGateMetrics()
	r.initCutoverMetrics()
	r.initLoadMetrics()

	return r
}

// GetPrometheusRegistry returns the underlying Prometheus registry
func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}
