package report

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/koval-yurko/db-scales/pkg/cutover"
	"github.com/koval-yurko/db-scales/pkg/logging"
	"github.com/koval-yurko/db-scales/pkg/replication"
)

// Sink stores one rendered report
type Sink interface {
	Name() string
	Write(ctx context.Context, r Report, text string) error
}

// WriterSink prints the report, typically to stdout
type WriterSink struct {
	W io.Writer
}

func (s WriterSink) Name() string { return "console" }

func (s WriterSink) Write(ctx context.Context, r Report, text string) error {
	_, err := io.WriteString(s.W, text)
	return err
}

// FileSink saves the report under Dir. An existing report with the same
// name is never overwritten.
type FileSink struct {
	Dir string
}

func (s FileSink) Name() string { return "file" }

func (s FileSink) Write(ctx context.Context, r Report, text string) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}
	path := filepath.Join(s.Dir, r.FileName())
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	if _, err := io.WriteString(f, text); err != nil {
		f.Close()
		return fmt.Errorf("failed to write report file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync report file: %w", err)
	}
	return f.Close()
}

// Publisher renders a run and hands it to every sink. Sink failures are
// logged and never change the run outcome.
type Publisher struct {
	sinks  []Sink
	logger logging.Logger
}

// NewPublisher creates a publisher over sinks
func NewPublisher(logger logging.Logger, sinks ...Sink) *Publisher {
	return &Publisher{sinks: sinks, logger: logger.With(logging.Component("report"))}
}

// Report implements cutover.Reporter
func (p *Publisher) Report(ctx context.Context, run cutover.Run, final *replication.Snapshot, finalErr error) {
	r := Generate(run, final, finalErr)
	text := r.Render()

	for _, s := range p.sinks {
		if err := p.write(ctx, s, r, text); err != nil {
			p.logger.Error("could not save report", logging.String("sink", s.Name()), logging.Error(err))
			continue
		}
		p.logger.Info("report saved", logging.String("sink", s.Name()), logging.String("name", r.FileName()))
	}
}

func (p *Publisher) write(ctx context.Context, s Sink, r Report, text string) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("sink panicked: %v", rec)
		}
	}()
	return s.Write(ctx, r, text)
}

var _ cutover.Reporter = (*Publisher)(nil)
