package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rpzk/throttleguard/pkg/limits"
)

// Name is the limiter name reported in metrics and provider info.
const Name = "local"

// Config configures the in-process limiter.
type Config struct {
	// CleanupInterval is how often idle windows are evicted.
	// Default: 1 minute
	CleanupInterval time.Duration

	// Clock overrides time.Now, for tests.
	Clock limits.Clock

	// Recorder receives check measurements.
	// Default: limits.NopRecorder
	Recorder limits.Recorder
}

// Limiter is the single-process implementation of limits.Limiter.
type Limiter struct {
	mu      sync.RWMutex // guards windows, not the windows themselves
	windows map[string]*window

	clock    limits.Clock
	recorder limits.Recorder
	logger   *slog.Logger

	cleanupInterval time.Duration
	done            chan struct{}
	closeOnce       sync.Once
}

// NewLimiter creates a limiter and starts its janitor.
func NewLimiter(cfg Config) *Limiter {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Recorder == nil {
		cfg.Recorder = limits.NopRecorder{}
	}

	l := &Limiter{
		windows:         make(map[string]*window),
		clock:           cfg.Clock,
		recorder:        cfg.Recorder,
		logger:          slog.Default().With("component", "limits.local"),
		cleanupInterval: cfg.CleanupInterval,
		done:            make(chan struct{}),
	}

	go l.cleanupLoop()

	return l
}

// Check implements limits.Limiter.
func (l *Limiter) Check(ctx context.Context, key string, policy limits.Policy) limits.Result {
	start := time.Now()

	for {
		w := l.load(key)

		w.mu.Lock()
		if w.evicted {
			w.mu.Unlock()
			continue
		}
		res, blocked := w.advance(l.clock(), policy)
		w.mu.Unlock()

		if blocked {
			l.recorder.RecordBlock(Name, policy.Category)
			l.logger.Info("subject blocked",
				"key", key,
				"category", policy.Category,
				"block_duration", policy.BlockDuration,
			)
		}
		l.recorder.RecordCheck(Name, policy.Category, res.Allowed, time.Since(start))

		return res
	}
}

// load returns the window for key, creating it if needed.
func (l *Limiter) load(key string) *window {
	l.mu.RLock()
	w, ok := l.windows[key]
	l.mu.RUnlock()
	if ok {
		return w
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if w, ok := l.windows[key]; ok {
		return w
	}
	w = &window{}
	l.windows[key] = w
	return w
}

// Reset implements limits.Limiter.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if !ok {
		return nil
	}

	w.mu.Lock()
	w.evicted = true
	w.mu.Unlock()
	delete(l.windows, key)

	return nil
}

// Stats implements limits.Limiter.
func (l *Limiter) Stats(ctx context.Context) (limits.Stats, error) {
	now := l.clock()

	l.mu.RLock()
	defer l.mu.RUnlock()

	var stats limits.Stats
	for _, w := range l.windows {
		w.mu.Lock()
		if !w.idle(now) {
			stats.ActiveSubjects++
		}
		if w.blocked(now) {
			stats.BlockedSubjects++
		}
		w.mu.Unlock()
	}

	return stats, nil
}

// Name implements limits.Limiter.
func (l *Limiter) Name() string {
	return Name
}

// Len returns the number of tracked keys, idle ones included.
func (l *Limiter) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.windows)
}

// Close stops the janitor. The limiter stays usable.
func (l *Limiter) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
	})
	return nil
}

// cleanupLoop evicts idle windows until Close is called.
func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(l.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := l.evictIdle(); n > 0 {
				l.logger.Debug("evicted idle windows", "count", n)
			}
		case <-l.done:
			return
		}
	}
}

// evictIdle removes windows that are neither live nor blocked.
func (l *Limiter) evictIdle() int {
	now := l.clock()

	l.mu.Lock()
	defer l.mu.Unlock()

	evicted := 0
	for key, w := range l.windows {
		w.mu.Lock()
		if w.idle(now) {
			w.evicted = true
			delete(l.windows, key)
			evicted++
		}
		w.mu.Unlock()
	}

	return evicted
}
