// Command cutover promotes the standby to primary once replication is in
// sync, then demotes the old primary and writes a report.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/koval-yurko/db-scales/pkg/config"
	"github.com/koval-yurko/db-scales/pkg/cutover"
	"github.com/koval-yurko/db-scales/pkg/health"
	"github.com/koval-yurko/db-scales/pkg/logging"
	"github.com/koval-yurko/db-scales/pkg/metrics"
	"github.com/koval-yurko/db-scales/pkg/monitor"
	"github.com/koval-yurko/db-scales/pkg/pgexec"
	"github.com/koval-yurko/db-scales/pkg/promotion"
	"github.com/koval-yurko/db-scales/pkg/replication"
	"github.com/koval-yurko/db-scales/pkg/report"
	"github.com/koval-yurko/db-scales/pkg/syncgate"
)

func main() {
	os.Exit(run())
}

func run() int {
	dryRun := flag.Bool("dry-run", false, "Simulate the cutover without promoting or demoting")
	metricsAddr := flag.String("metrics-addr", "", "Serve /metrics, /health and /ready on this address during the run")
	maxWait := flag.Float64("max-wait-time", 0, "Maximum seconds to wait for sync (default from config)")
	interval := flag.Float64("sync-check-interval", 0, "Seconds between sync checks (default from config)")
	flag.Parse()

	logger := logging.NewFromEnv()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", logging.Error(err))
		return 1
	}
	logger.SetLevel(logging.ParseLevel(cfg.LogLevel))
	if *dryRun {
		cfg.Cutover.DryRun = true
	}
	if *maxWait > 0 {
		cfg.Cutover.MaxWait = seconds(*maxWait)
	}
	if *interval > 0 {
		cfg.Cutover.SyncCheckInterval = seconds(*interval)
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}
	logger.Info("configuration loaded", logging.String("config", cfg.String()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	primary, err := pgexec.NewPool(ctx, "primary", cfg.Primary, pgexec.DefaultPoolOptions(), logger)
	if err != nil {
		logger.Error("failed to create primary pool", logging.Error(err))
		return 1
	}
	standby, err := pgexec.NewPool(ctx, "replica", cfg.Standby, pgexec.DefaultPoolOptions(), logger)
	if err != nil {
		primary.Close()
		logger.Error("failed to create replica pool", logging.Error(err))
		return 1
	}

	reg := metrics.DefaultRegistry()
	collector := replication.NewCollector(primary, standby, cfg, logger).WithMetrics(reg)
	gate := syncgate.New(collector, cfg.SyncGate, logger).WithMetrics(reg)
	driver := promotion.NewDriver(standby, cfg.Cutover, logger).WithMetrics(reg)

	if cfg.MetricsAddr != "" {
		stopServer := serveMetrics(cfg.MetricsAddr, reg, primary, standby, logger)
		defer stopServer()
	}

	sinks := []report.Sink{report.FileSink{Dir: cfg.Report.LogDir}, report.WriterSink{W: os.Stdout}}
	if cfg.Report.S3Bucket != "" {
		s3Sink, err := report.NewS3Sink(ctx, cfg.Report.S3Bucket, cfg.Report.S3Prefix)
		if err != nil {
			logger.Warn("report upload disabled", logging.Error(err))
		} else {
			sinks = append(sinks, s3Sink)
		}
	}

	machine := cutover.New(cfg, cutover.Deps{
		Primary:   primary,
		Standby:   standby,
		Collector: collector,
		Gate:      gate,
		Promoter:  driver,
		Reporter:  report.NewPublisher(logger, sinks...),
		Logger:    logger,
		Metrics:   reg,
	})

	result := machine.Execute(ctx)
	if !result.Success {
		fmt.Fprintf(os.Stderr, "cutover %s: %s\n", result.Status(), result.Error)
		return 1
	}
	return 0
}

// serveMetrics exposes the run's registry until the returned func is called.
// The listener outlives an interrupt so the final counters stay scrapeable
// while the report is written.
func serveMetrics(addr string, reg *metrics.Registry, primary, standby *pgexec.Pool, logger logging.Logger) func() {
	checker := health.NewHealthChecker()
	checker.RegisterCheck("primary", health.DatabaseCheck("primary", primary.Ping))
	checker.RegisterCheck("replica", health.DatabaseCheck("replica", standby.Ping))

	srv := monitor.NewServer(addr, nil, checker, reg, logger)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	return func() {
		cancel()
		if err := <-done; err != nil {
			logger.Warn("metrics server stopped with error", logging.Error(err))
		}
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
