// Package health grades the monitored databases and the replication stream
// for the /health and /ready endpoints.
package health

import (
	"context"
	"sync"
	"time"
)

// CheckTimeout bounds a single check so one hung ping cannot stall a probe
const CheckTimeout = 3 * time.Second

// Status is the grade of one check or of a whole probe
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

func (s Status) rank() int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

// Check is the result of one named check
type Check struct {
	Name      string         `json:"name"`
	Status    Status         `json:"status"`
	Message   string         `json:"message,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	CheckedAt time.Time      `json:"checked_at"`
	LatencyMS float64        `json:"latency_ms"`
}

// CheckFunc performs one check. It must honor ctx.
type CheckFunc func(ctx context.Context) Check

// Response is the aggregate answer to one probe. Status is the worst status
// among its checks.
type Response struct {
	Status    Status           `json:"status"`
	Timestamp time.Time        `json:"timestamp"`
	Checks    map[string]Check `json:"checks"`
	Uptime    float64          `json:"uptime_seconds"`
}

// HealthChecker holds the liveness and readiness check sets
type HealthChecker struct {
	mu          sync.RWMutex
	checks      map[string]CheckFunc
	readyChecks map[string]CheckFunc
	timeout     time.Duration
	started     time.Time
	now         func() time.Time
}

// NewHealthChecker creates a checker with no checks registered
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		checks:      make(map[string]CheckFunc),
		readyChecks: make(map[string]CheckFunc),
		timeout:     CheckTimeout,
		started:     time.Now(),
		now:         time.Now,
	}
}

// RegisterCheck adds a check to /health
func (hc *HealthChecker) RegisterCheck(name string, check CheckFunc) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.checks[name] = check
}

// RegisterReadinessCheck adds a check to /ready
func (hc *HealthChecker) RegisterReadinessCheck(name string, check CheckFunc) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	hc.readyChecks[name] = check
}

// Check runs the health checks
func (hc *HealthChecker) Check(ctx context.Context) Response {
	return hc.run(ctx, func() map[string]CheckFunc { return hc.checks })
}

// CheckReadiness runs the readiness checks
func (hc *HealthChecker) CheckReadiness(ctx context.Context) Response {
	return hc.run(ctx, func() map[string]CheckFunc { return hc.readyChecks })
}

// run executes every check in the selected set concurrently, each under its
// own timeout
func (hc *HealthChecker) run(ctx context.Context, set func() map[string]CheckFunc) Response {
	hc.mu.RLock()
	checks := make(map[string]CheckFunc, len(set()))
	for name, fn := range set() {
		checks[name] = fn
	}
	hc.mu.RUnlock()

	now := hc.now()
	resp := Response{
		Status:    StatusHealthy,
		Timestamp: now,
		Checks:    make(map[string]Check, len(checks)),
		Uptime:    now.Sub(hc.started).Seconds(),
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for name, fn := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := hc.runOne(ctx, name, fn)

			mu.Lock()
			defer mu.Unlock()
			resp.Checks[name] = c
			if c.Status.rank() > resp.Status.rank() {
				resp.Status = c.Status
			}
		}()
	}
	wg.Wait()

	return resp
}

func (hc *HealthChecker) runOne(ctx context.Context, name string, fn CheckFunc) Check {
	ctx, cancel := context.WithTimeout(ctx, hc.timeout)
	defer cancel()

	start := hc.now()
	c := fn(ctx)
	c.CheckedAt = start
	c.LatencyMS = float64(hc.now().Sub(start).Microseconds()) / 1000
	if c.Name == "" {
		c.Name = name
	}
	if c.Status == "" {
		c.Status = StatusUnhealthy
	}
	return c
}
