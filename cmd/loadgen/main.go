// Command loadgen drives a steady mixed write load against the primary.
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
	"github.com/koval-yurko/db-scales/pkg/loadgen"
	"github.com/koval-yurko/db-scales/pkg/logging"
	"github.com/koval-yurko/db-scales/pkg/metrics"
	"github.com/koval-yurko/db-scales/pkg/pgexec"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "loadgen: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	opsPerSecond := flag.Int("ops-per-second", 0, "Target write operations per second (default from config)")
	workers := flag.Int("workers", 0, "Concurrent writers (default from config)")
	duration := flag.Int("duration", 0, "Run for this many seconds (default: until interrupted)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if *opsPerSecond > 0 {
		cfg.Load.OperationsPerSecond = *opsPerSecond
	}
	if *workers > 0 {
		cfg.Load.Workers = *workers
	}

	logger := logging.NewJSONLogger(os.Stdout, logging.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(*duration)*time.Second)
		defer cancel()
	}

	opts := pgexec.DefaultPoolOptions()
	opts.MaxConns = int32(cfg.Load.Workers)
	primary, err := pgexec.NewPool(ctx, "primary", cfg.Primary, opts, logger)
	if err != nil {
		return err
	}
	defer primary.Close()

	return loadgen.New(primary, cfg.Load, logger).WithMetrics(metrics.DefaultRegistry()).Run(ctx)
}
