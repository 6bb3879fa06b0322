// Command replmon watches primary/standby replication, printing or drawing
// each snapshot and optionally serving metrics and health over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/sync/errgroup"

	"github.com/koval-yurko/db-scales/pkg/config"
	"github.com/koval-yurko/db-scales/pkg/dashboard"
	"github.com/koval-yurko/db-scales/pkg/health"
	"github.com/koval-yurko/db-scales/pkg/logging"
	"github.com/koval-yurko/db-scales/pkg/metrics"
	"github.com/koval-yurko/db-scales/pkg/monitor"
	"github.com/koval-yurko/db-scales/pkg/pgexec"
	"github.com/koval-yurko/db-scales/pkg/replication"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "replmon: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	duration := flag.Int("duration", 0, "Monitoring duration in seconds (default: infinite)")
	noSave := flag.Bool("no-save", false, "Don't save metrics to file")
	metricsAddr := flag.String("metrics-addr", "", "Serve /metrics, /health and /ready on this address")
	tui := flag.Bool("tui", false, "Show a live dashboard instead of printing snapshots")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}

	logger, closeLog, err := newLogger(cfg, *tui)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	primary, err := pgexec.NewPool(ctx, "primary", cfg.Primary, pgexec.DefaultPoolOptions(), logger)
	if err != nil {
		return err
	}
	defer primary.Close()
	standby, err := pgexec.NewPool(ctx, "replica", cfg.Standby, pgexec.DefaultPoolOptions(), logger)
	if err != nil {
		return err
	}
	defer standby.Close()

	reg := metrics.DefaultRegistry()
	collector := replication.NewCollector(primary, standby, cfg, logger).WithMetrics(reg)
	mon := monitor.New(collector, cfg.MonitorInterval, logger).WithMetrics(reg)

	if !*noSave {
		snapshots, err := replication.OpenSnapshotLog(cfg.Report.LogDir)
		if err != nil {
			return err
		}
		defer snapshots.Close()
		mon.WithLog(snapshots)
		logger.Info("saving snapshots", logging.Path(snapshots.Path()))
	}

	g, ctx := errgroup.WithContext(ctx)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var program *tea.Program
	if *tui {
		program = tea.NewProgram(dashboard.New(), tea.WithAltScreen(), tea.WithContext(ctx))
		mon.OnSnapshot(func(s replication.Snapshot) {
			program.Send(dashboard.SnapshotMsg(s))
		})
		mon.OnError(func(err error) { program.Send(dashboard.ErrorMsg{Err: err}) })
	} else {
		mon.OnSnapshot(func(s replication.Snapshot) {
			fmt.Println(replication.Display(s))
		})
	}

	g.Go(func() error {
		mon.Run(ctx, time.Duration(*duration)*time.Second)
		cancel()
		return nil
	})

	if cfg.MetricsAddr != "" {
		checker := health.NewHealthChecker()
		checker.RegisterCheck("primary", health.DatabaseCheck("primary", primary.Ping))
		checker.RegisterCheck("replica", health.DatabaseCheck("replica", standby.Ping))
		checker.RegisterCheck("replication", health.ReplicationCheck(mon.Latest, 3*cfg.MonitorInterval))
		checker.RegisterReadinessCheck("in_sync", health.SyncCheck(mon.Latest))

		srv := monitor.NewServer(cfg.MetricsAddr, mon, checker, reg, logger)
		g.Go(func() error { return srv.Serve(ctx) })
	}

	if program != nil {
		g.Go(func() error {
			defer cancel()
			if _, err := program.Run(); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		})
	}

	return g.Wait()
}

// newLogger writes to stdout, or to a file in the log directory while the
// dashboard owns the terminal
func newLogger(cfg config.Config, tui bool) (logging.Logger, func(), error) {
	level := logging.ParseLevel(cfg.LogLevel)
	if !tui {
		return logging.NewJSONLogger(os.Stdout, level), func() {}, nil
	}
	if err := os.MkdirAll(cfg.Report.LogDir, 0o755); err != nil {
		return nil, nil, err
	}
	f, err := os.OpenFile(filepath.Join(cfg.Report.LogDir, "replmon.log"), os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	return logging.NewJSONLogger(f, level), func() { f.Close() }, nil
}
