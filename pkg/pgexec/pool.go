package pgexec

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/koval-yurko/db-scales/pkg/config"
	"github.com/koval-yurko/db-scales/pkg/logging"
)

// Pool is a pgxpool-backed QueryExecutor for one database
type Pool struct {
	target string
	addr   string
	pool   *pgxpool.Pool
	logger logging.Logger
}

// PoolOptions tunes the underlying pgxpool
type PoolOptions struct {
	MaxConns       int32
	ConnectTimeout time.Duration
}

// DefaultPoolOptions mirrors a small fixed pool: the state machine never holds
// more than one connection per database at a time.
func DefaultPoolOptions() PoolOptions {
	return PoolOptions{
		MaxConns:       5,
		ConnectTimeout: 5 * time.Second,
	}
}

// NewPool creates a pool for db without connecting. The first Execute dials,
// so an unreachable host surfaces as a ConnectivityError at call time rather
// than at construction.
func NewPool(ctx context.Context, target string, db config.DatabaseConfig, opts PoolOptions, logger logging.Logger) (*Pool, error) {
	pcfg, err := pgxpool.ParseConfig(db.ConnString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s connection config: %w", target, err)
	}

	pcfg.MaxConns = opts.MaxConns
	pcfg.MinConns = 0
	pcfg.MaxConnLifetime = 5 * time.Minute
	pcfg.MaxConnIdleTime = time.Minute
	pcfg.ConnConfig.ConnectTimeout = opts.ConnectTimeout

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s connection pool: %w", target, err)
	}

	logger.Info("connection pool initialized", logging.Target(target), logging.Host(db.Addr()))

	return &Pool{
		target: target,
		addr:   db.Addr(),
		pool:   pool,
		logger: logger,
	}, nil
}

// Execute implements QueryExecutor
func (p *Pool) Execute(ctx context.Context, query string, params []any, fetch bool) ([]Row, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, &ConnectivityError{Target: p.target, Addr: p.addr, Err: err}
	}
	defer conn.Release()

	if !fetch {
		if _, err := conn.Exec(ctx, query, params...); err != nil {
			return nil, p.classify(query, err)
		}
		return nil, nil
	}

	rows, err := conn.Query(ctx, query, params...)
	if err != nil {
		return nil, p.classify(query, err)
	}
	maps, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, p.classify(query, err)
	}

	out := make([]Row, len(maps))
	for i, m := range maps {
		out[i] = Row(m)
	}
	return out, nil
}

// classify separates a dropped connection from a statement the server rejected
func (p *Pool) classify(query string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &QueryError{Target: p.target, Query: query, Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) || pgconn.Timeout(err) {
		return &ConnectivityError{Target: p.target, Addr: p.addr, Err: err}
	}

	return &QueryError{Target: p.target, Query: query, Err: err}
}

// Ping checks connectivity with a trivial round trip
func (p *Pool) Ping(ctx context.Context) error {
	_, err := p.Execute(ctx, "SELECT 1", nil, true)
	return err
}

// Target returns the role name this pool was created for
func (p *Pool) Target() string {
	return p.target
}

// Close closes all connections in the pool
func (p *Pool) Close() {
	p.pool.Close()
	p.logger.Info("connection pool closed", logging.Target(p.target))
}
