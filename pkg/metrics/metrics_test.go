package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var metric dto.Metric
	if err := g.Write(&metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	return metric.Gauge.GetValue()
}

func counterValue(t *testing.T, c *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	counter, err := c.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("Failed to get metric: %v", err)
	}
	var metric dto.Metric
	if err := counter.Write(&metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	return metric.Counter.GetValue()
}

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()
	if r == nil {
		t.Fatal("NewRegistry() returned nil")
	}

	if r.ReplicationByteLag == nil {
		t.Error("ReplicationByteLag not initialized")
	}
	if r.SyncGateSamplesTotal == nil {
		t.Error("SyncGateSamplesTotal not initialized")
	}
	if r.CutoverStepDuration == nil {
		t.Error("CutoverStepDuration not initialized")
	}
	if r.LoadOperationsTotal == nil {
		t.Error("LoadOperationsTotal not initialized")
	}
	if r.registry == nil {
		t.Error("Prometheus registry not initialized")
	}
}

func TestDefaultRegistry(t *testing.T) {
	r1 := DefaultRegistry()
	r2 := DefaultRegistry()

	if r1 != r2 {
		t.Error("DefaultRegistry() should return the same instance")
	}
}

func TestUpdateReplication(t *testing.T) {
	r := NewRegistry()
	wal := int64(50331744)
	lag := int64(2048)
	replay := 0.25

	r.UpdateReplication(ReplicationSample{
		PrimaryWALBytes:  &wal,
		ByteLag:          &lag,
		ReplayLagSeconds: &replay,
		Healthy:          true,
		Warnings:         0,
	})

	tests := []struct {
		name     string
		gauge    prometheus.Gauge
		expected float64
	}{
		{"PrimaryWALPositionBytes", r.PrimaryWALPositionBytes, 50331744},
		{"ReplicationByteLag", r.ReplicationByteLag, 2048},
		{"ReplicationReplayLagSeconds", r.ReplicationReplayLagSeconds, 0.25},
		{"ReplicationWriteLagSeconds", r.ReplicationWriteLagSeconds, 0},
		{"ReplicationHealthy", r.ReplicationHealthy, 1},
		{"ReplicationInSync", r.ReplicationInSync, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := gaugeValue(t, tt.gauge); got != tt.expected {
				t.Errorf("%s = %v, want %v", tt.name, got, tt.expected)
			}
		})
	}

	// A later sample with nil lags exports zero but keeps the WAL position
	r.UpdateReplication(ReplicationSample{Warnings: 2})
	if got := gaugeValue(t, r.ReplicationByteLag); got != 0 {
		t.Errorf("ReplicationByteLag = %v, want 0", got)
	}
	if got := gaugeValue(t, r.PrimaryWALPositionBytes); got != 50331744 {
		t.Errorf("PrimaryWALPositionBytes = %v, want 50331744", got)
	}
	if got := gaugeValue(t, r.ReplicationWarnings); got != 2 {
		t.Errorf("ReplicationWarnings = %v, want 2", got)
	}
}

func TestRecordCollection(t *testing.T) {
	r := NewRegistry()

	r.RecordCollection(nil, 10*time.Millisecond)
	r.RecordCollection(nil, 20*time.Millisecond)
	r.RecordCollection(errors.New("boom"), 5*time.Millisecond)

	if got := counterValue(t, r.CollectionsTotal, "success"); got != 2 {
		t.Errorf("Success counter = %v, want 2", got)
	}
	if got := counterValue(t, r.CollectionsTotal, "error"); got != 1 {
		t.Errorf("Error counter = %v, want 1", got)
	}

	var metric dto.Metric
	if err := r.CollectionDuration.Write(&metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	if metric.Histogram.GetSampleCount() != 3 {
		t.Errorf("Sample count = %v, want 3", metric.Histogram.GetSampleCount())
	}
}

func TestRecordSyncSample(t *testing.T) {
	r := NewRegistry()

	r.RecordSyncSample("pass", 1)
	r.RecordSyncSample("pass", 2)
	r.RecordSyncSample("fail", 0)

	if got := counterValue(t, r.SyncGateSamplesTotal, "pass"); got != 2 {
		t.Errorf("pass = %v, want 2", got)
	}
	if got := gaugeValue(t, r.SyncGateConsecutive); got != 0 {
		t.Errorf("consecutive = %v, want 0", got)
	}
}

func TestRecordCutover(t *testing.T) {
	r := NewRegistry()

	r.RecordCutoverStep("PROMOTE", "ok", 3*time.Second)
	r.RecordCutoverRun(true, true)
	r.RecordCutoverRun(false, false)
	r.RecordPromotionWait(2 * time.Second)

	if got := counterValue(t, r.CutoverStepsTotal, "PROMOTE", "ok"); got != 1 {
		t.Errorf("step counter = %v, want 1", got)
	}
	if got := counterValue(t, r.CutoverRunsTotal, "dry_run", "success"); got != 1 {
		t.Errorf("dry run counter = %v, want 1", got)
	}
	if got := counterValue(t, r.CutoverRunsTotal, "live", "failed"); got != 1 {
		t.Errorf("live failed counter = %v, want 1", got)
	}

	histogram, err := r.CutoverStepDuration.GetMetricWithLabelValues("PROMOTE")
	if err != nil {
		t.Fatalf("Failed to get histogram: %v", err)
	}
	var metric dto.Metric
	if err := histogram.(prometheus.Histogram).Write(&metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	if metric.Histogram.GetSampleSum() != 3 {
		t.Errorf("Sample sum = %v, want 3", metric.Histogram.GetSampleSum())
	}
}

func TestRecordLoadOperation(t *testing.T) {
	r := NewRegistry()

	r.RecordLoadOperation("insert", nil, time.Millisecond)
	r.RecordLoadOperation("insert", errors.New("duplicate key"), time.Millisecond)
	r.RecordLoadOperation("delete", nil, time.Millisecond)

	if got := counterValue(t, r.LoadOperationsTotal, "insert", "success"); got != 1 {
		t.Errorf("insert success = %v, want 1", got)
	}
	if got := counterValue(t, r.LoadOperationsTotal, "insert", "error"); got != 1 {
		t.Errorf("insert error = %v, want 1", got)
	}
}

func TestConcurrentMetricUpdates(t *testing.T) {
	r := NewRegistry()

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				r.RecordHTTPRequest("/metrics", "200", 10*time.Millisecond)
				r.UpdateReplication(ReplicationSample{Healthy: true})
			}
			done <- true
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	if got := counterValue(t, r.HTTPRequestsTotal, "/metrics", "200"); got != 1000 {
		t.Errorf("Counter = %v, want 1000", got)
	}
}

func TestHandler(t *testing.T) {
	r := NewRegistry()
	lag := int64(512)
	r.UpdateReplication(ReplicationSample{ByteLag: &lag})
	r.RecordMonitorIteration(nil, time.Now().Add(-time.Minute))

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if rec.Code != 200 {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(string(body), "dbscales_replication_byte_lag 512") {
		t.Errorf("byte lag missing from exposition:\n%s", body)
	}
	if !strings.Contains(string(body), "go_goroutines") {
		t.Error("go runtime collector missing from exposition")
	}
}

func TestMetricNaming(t *testing.T) {
	r := NewRegistry()
	r.RecordHTTPRequest("/health", "200", time.Millisecond)

	metrics, err := r.GetPrometheusRegistry().Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}
	if len(metrics) == 0 {
		t.Fatal("No metrics registered")
	}

	var own int
	for _, m := range metrics {
		name := m.GetName()
		// Runtime and process collectors use their standard names
		if strings.HasPrefix(name, "go_") || strings.HasPrefix(name, "process_") {
			continue
		}
		own++
		if !strings.HasPrefix(name, "dbscales_") {
			t.Errorf("Metric %s does not have dbscales_ prefix", name)
		}
	}
	if own == 0 {
		t.Error("no dbscales_ metrics gathered")
	}
}

func BenchmarkUpdateReplication(b *testing.B) {
	r := NewRegistry()
	lag := int64(100)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r.UpdateReplication(ReplicationSample{ByteLag: &lag, Healthy: true})
	}
}

func TestRecordMonitorIteration(t *testing.T) {
	r := NewRegistry()

	r.RecordMonitorIteration(nil, time.Now().Add(-time.Minute))
	r.RecordMonitorIteration(errors.New("connection refused"), time.Now().Add(-time.Minute))

	if got := counterValue(t, r.MonitorIterationsTotal, "success"); got != 1 {
		t.Errorf("success iterations = %v, want 1", got)
	}
	if got := counterValue(t, r.MonitorIterationsTotal, "error"); got != 1 {
		t.Errorf("error iterations = %v, want 1", got)
	}
	if got := gaugeValue(t, r.UptimeSeconds); got < 60 {
		t.Errorf("uptime = %v, want >= 60", got)
	}
}
