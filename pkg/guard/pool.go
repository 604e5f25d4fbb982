package guard

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Task is a unit of background work. Errors are logged and dropped.
type Task func(ctx context.Context) error

// PoolMetrics receives pool measurements.
type PoolMetrics interface {
	RecordPoolDrop(task string)
}

type nopPoolMetrics struct{}

func (nopPoolMetrics) RecordPoolDrop(string) {}

// PoolConfig configures a Pool.
type PoolConfig struct {
	// Workers is the number of goroutines draining the queue.
	// Default: 4
	Workers int

	// QueueSize bounds pending tasks. Submissions beyond it are dropped.
	// Default: 1024
	QueueSize int

	// TaskTimeout bounds each task's detached context.
	// Default: 5 seconds
	TaskTimeout time.Duration

	Metrics PoolMetrics
}

type namedTask struct {
	name string
	fn   Task
}

// Pool runs fire-and-forget work off the request path. A full queue drops
// the task; a panicking task is recovered and logged.
type Pool struct {
	tasks   chan namedTask
	wg      sync.WaitGroup
	timeout time.Duration
	metrics PoolMetrics
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool

	dropped atomic.Int64
	dropLog *rate.Limiter
}

// NewPool starts the workers.
func NewPool(cfg PoolConfig) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 5 * time.Second
	}
	if cfg.Metrics == nil {
		cfg.Metrics = nopPoolMetrics{}
	}

	p := &Pool{
		tasks:   make(chan namedTask, cfg.QueueSize),
		timeout: cfg.TaskTimeout,
		metrics: cfg.Metrics,
		logger:  slog.Default().With("component", "guard.pool"),
		dropLog: rate.NewLimiter(rate.Every(5*time.Second), 1),
	}

	p.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go p.worker()
	}
	return p
}

// Submit queues fn without blocking. It reports false when the task was
// dropped because the queue is full or the pool is closed.
func (p *Pool) Submit(name string, fn Task) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.closed {
		select {
		case p.tasks <- namedTask{name: name, fn: fn}:
			return true
		default:
		}
	}

	n := p.dropped.Add(1)
	p.metrics.RecordPoolDrop(name)
	if p.dropLog.Allow() {
		p.logger.Warn("background task dropped", "task", name, "closed", p.closed, "dropped_total", n)
	}
	return false
}

// Dropped returns the number of tasks dropped so far.
func (p *Pool) Dropped() int64 {
	return p.dropped.Load()
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for t := range p.tasks {
		p.run(t)
	}
}

func (p *Pool) run(t namedTask) {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	defer func() {
		if v := recover(); v != nil {
			p.logger.Error("background task panicked",
				"task", t.name,
				"panic", fmt.Sprint(v),
				"stack", string(debug.Stack()),
			)
		}
	}()

	if err := t.fn(ctx); err != nil {
		p.logger.Warn("background task failed", "task", t.name, "error", err)
	}
}

// Close stops accepting tasks, runs the queued ones and waits for the
// workers. It is safe to call more than once.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	p.wg.Wait()
}
