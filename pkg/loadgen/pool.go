package loadgen

import (
	"context"
	"fmt"
	"sync"

	"github.com/koval-yurko/db-scales/pkg/logging"
)

// MaxWorkers caps the pool size
const MaxWorkers = 1024

// ErrTooManyWorkers is returned when the worker count exceeds MaxWorkers
var ErrTooManyWorkers = fmt.Errorf("worker count exceeds maximum")

// WorkerPool runs submitted tasks on a fixed set of goroutines
type WorkerPool struct {
	workers   int
	taskQueue chan func(context.Context)
	ctx       context.Context
	logger    logging.Logger
	wg        sync.WaitGroup
	once      sync.Once
	mu        sync.RWMutex // protects taskQueue from close during send
	closed    bool
}

// NewWorkerPool starts workers goroutines. Tasks receive ctx detached from
// cancellation so an in-flight write always completes.
func NewWorkerPool(ctx context.Context, workers int, logger logging.Logger) (*WorkerPool, error) {
	if workers <= 0 {
		workers = 1
	}
	if workers > MaxWorkers {
		return nil, fmt.Errorf("%w: %d exceeds %d", ErrTooManyWorkers, workers, MaxWorkers)
	}

	pool := &WorkerPool{
		workers:   workers,
		taskQueue: make(chan func(context.Context), workers*2),
		ctx:       context.WithoutCancel(ctx),
		logger:    logger,
	}
	for i := 0; i < pool.workers; i++ {
		pool.wg.Add(1)
		go pool.worker()
	}
	return pool, nil
}

func (wp *WorkerPool) worker() {
	defer wp.wg.Done()

	for task := range wp.taskQueue {
		func() {
			defer func() {
				if r := recover(); r != nil {
					wp.logger.Error("worker panic recovered", logging.Any("panic", r))
				}
			}()
			task(wp.ctx)
		}()
	}
}

// Submit queues a task, blocking while the queue is full. It returns false
// if the pool is closed or ctx ends first.
func (wp *WorkerPool) Submit(ctx context.Context, task func(context.Context)) bool {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	if wp.closed {
		return false
	}
	select {
	case wp.taskQueue <- task:
		return true
	case <-ctx.Done():
		return false
	}
}

// Close stops accepting tasks and waits for queued ones to finish
func (wp *WorkerPool) Close() {
	wp.once.Do(func() {
		wp.mu.Lock()
		wp.closed = true
		close(wp.taskQueue)
		wp.mu.Unlock()
	})
	wp.wg.Wait()
}
