package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/koval-yurko/db-scales/pkg/health"
	"github.com/koval-yurko/db-scales/pkg/logging"
	"github.com/koval-yurko/db-scales/pkg/metrics"
)

// ShutdownTimeout bounds graceful shutdown of the HTTP listener
const ShutdownTimeout = 5 * time.Second

// Server exposes /metrics, /health, /ready and /snapshot
type Server struct {
	addr    string
	handler http.Handler
	logger  logging.Logger
}

// NewServer wires the monitor's endpoints on addr. /snapshot is served only
// when mon is non-nil and /metrics only when reg is non-nil.
func NewServer(addr string, mon *Monitor, checker *health.HealthChecker, reg *metrics.Registry, logger logging.Logger) *Server {
	logger = logger.With(logging.Component("http"))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", checker.HTTPHandler())
	mux.HandleFunc("GET /ready", checker.ReadinessHandler())
	if mon != nil {
		mux.HandleFunc("GET /snapshot", snapshotHandler(mon))
	}

	mws := []Middleware{RequestID(), Recovery(logger), Logging(logger)}
	if reg != nil {
		mux.Handle("GET /metrics", reg.Handler())
		mws = append(mws, Metrics(reg))
	}

	return &Server{
		addr:    addr,
		handler: Chain(mux, mws...),
		logger:  logger,
	}
}

// Handler returns the wrapped mux
func (s *Server) Handler() http.Handler { return s.handler }

// Serve listens until ctx is done, then shuts down gracefully
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.serve(ctx, ln)
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", logging.Host(ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func snapshotHandler(mon *Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := mon.Latest()
		if !ok {
			http.Error(w, "no snapshot collected yet", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(s)
	}
}
