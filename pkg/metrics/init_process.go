package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// initProcessMetrics covers the monitor process itself: its HTTP endpoints,
// its loop and the Go runtime it runs on
func (r *Registry) initProcessMetrics() {
	r.HTTPRequestsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbscales_http_requests_total",
			Help: "Requests served by the monitor endpoints",
		},
		[]string{"path", "status"},
	)

	r.HTTPRequestDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dbscales_http_request_duration_seconds",
			Help:    "Monitor endpoint latency",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 3},
		},
		[]string{"path"},
	)

	r.MonitorIterationsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "dbscales_monitor_iterations_total",
			Help: "Monitor loop passes by outcome",
		},
		[]string{"outcome"},
	)

	r.UptimeSeconds = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "dbscales_uptime_seconds",
			Help: "Seconds since the process started",
		},
	)

	r.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}
