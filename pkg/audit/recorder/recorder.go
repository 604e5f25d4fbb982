// Package recorder writes audit entries asynchronously, behind a circuit
// breaker, with an in-memory fallback for entries storage could not take.
package recorder

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rpzk/throttleguard/internal/ring"
	"github.com/rpzk/throttleguard/pkg/audit"
)

// Metrics receives recorder measurements.
type Metrics interface {
	SetAuditBreakerState(state BreakerState)
	SetAuditFallbackSize(n int)
	RecordAuditEntry(action audit.Action, outcome string)
}

type nopMetrics struct{}

func (nopMetrics) SetAuditBreakerState(BreakerState)     {}
func (nopMetrics) SetAuditFallbackSize(int)              {}
func (nopMetrics) RecordAuditEntry(audit.Action, string) {}

// Entry outcomes reported to Metrics.
const (
	OutcomeStored   = "stored"
	OutcomeFallback = "fallback"
)

// Config contains configuration for the recorder.
type Config struct {
	// AsyncBuffer is the size of the write queue.
	// Default: 1000
	AsyncBuffer int

	// EnqueueTimeout bounds how long Record waits for queue space before
	// sending the entry to the fallback ring.
	// Default: 50 milliseconds
	EnqueueTimeout time.Duration

	// WriteTimeout bounds a single storage write.
	// Default: 5 seconds
	WriteTimeout time.Duration

	// FallbackSize is the capacity of the fallback ring.
	// Default: 1000
	FallbackSize int

	Breaker BreakerConfig

	Metrics Metrics
	Clock   func() time.Time
}

// DefaultConfig returns the default recorder configuration.
func DefaultConfig() Config {
	return Config{
		AsyncBuffer:    1000,
		EnqueueTimeout: 50 * time.Millisecond,
		WriteTimeout:   5 * time.Second,
		FallbackSize:   1000,
	}
}

// Recorder queues audit entries and writes them from a single worker.
type Recorder struct {
	storage audit.Storage
	config  Config
	breaker *Breaker
	metrics Metrics
	logger  *slog.Logger

	queue chan *audit.Entry
	wg    sync.WaitGroup

	// mu guards closed against sends racing Close.
	mu     sync.RWMutex
	closed bool

	fbMu     sync.Mutex
	fallback *ring.Buffer[audit.Entry]
}

// New creates a recorder and starts its worker.
func New(storage audit.Storage, cfg Config) *Recorder {
	def := DefaultConfig()
	if cfg.AsyncBuffer <= 0 {
		cfg.AsyncBuffer = def.AsyncBuffer
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = def.EnqueueTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.FallbackSize <= 0 {
		cfg.FallbackSize = def.FallbackSize
	}
	if cfg.Metrics == nil {
		cfg.Metrics = nopMetrics{}
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	r := &Recorder{
		storage:  storage,
		config:   cfg,
		metrics:  cfg.Metrics,
		logger:   slog.Default().With("component", "audit.recorder"),
		queue:    make(chan *audit.Entry, cfg.AsyncBuffer),
		fallback: ring.New[audit.Entry](cfg.FallbackSize),
	}
	r.breaker = NewBreaker(cfg.Breaker, cfg.Clock, func(from, to BreakerState) {
		r.metrics.SetAuditBreakerState(to)
		r.logger.Warn("audit storage breaker changed state", "from", from, "to", to)
	})
	r.metrics.SetAuditBreakerState(BreakerClosed)

	r.wg.Add(1)
	go r.worker()

	return r
}

// Record queues entry for storage, assigning an ID and timestamp when
// missing. It does not wait for the write. When the queue stays full for
// EnqueueTimeout the entry goes straight to the fallback ring.
func (r *Recorder) Record(ctx context.Context, entry *audit.Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = r.config.Clock().UTC()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return audit.NewRecorderError(entry.ID, audit.ErrRecorderClosed)
	}

	select {
	case r.queue <- entry:
		return nil
	default:
	}

	timer := time.NewTimer(r.config.EnqueueTimeout)
	defer timer.Stop()

	select {
	case r.queue <- entry:
	case <-timer.C:
		r.logger.Warn("audit queue full, keeping entry in fallback", "id", entry.ID, "action", entry.Action)
		r.toFallback(entry)
	case <-ctx.Done():
		r.toFallback(entry)
	}
	return nil
}

func (r *Recorder) worker() {
	defer r.wg.Done()
	for entry := range r.queue {
		r.write(entry)
	}
}

func (r *Recorder) write(entry *audit.Entry) {
	if !r.breaker.Allow() {
		r.toFallback(entry)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.config.WriteTimeout)
	err := r.storage.Store(ctx, entry)
	cancel()

	if err != nil {
		r.breaker.Failure()
		r.logger.Error("failed to store audit entry",
			"error", audit.NewRecorderError(entry.ID, err),
			"action", entry.Action,
		)
		r.toFallback(entry)
		return
	}

	r.breaker.Success()
	r.metrics.RecordAuditEntry(entry.Action, OutcomeStored)
}

func (r *Recorder) toFallback(entry *audit.Entry) {
	r.fbMu.Lock()
	r.fallback.Push(*entry)
	n := r.fallback.Len()
	r.fbMu.Unlock()

	r.metrics.SetAuditFallbackSize(n)
	r.metrics.RecordAuditEntry(entry.Action, OutcomeFallback)
}

// Fallback returns a snapshot of the entries held in memory, oldest first.
func (r *Recorder) Fallback() []audit.Entry {
	r.fbMu.Lock()
	defer r.fbMu.Unlock()
	return r.fallback.Slice()
}

// BreakerState returns the storage breaker state.
func (r *Recorder) BreakerState() BreakerState {
	return r.breaker.State()
}

// Close stops accepting entries, drains the queue and waits for the worker.
// It does not close the storage.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	r.wg.Wait()
	r.logger.Info("audit recorder closed", "fallback_entries", len(r.Fallback()))
	return nil
}
