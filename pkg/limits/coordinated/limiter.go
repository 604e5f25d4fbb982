package coordinated

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/rpzk/throttleguard/pkg/limits"
)

// Name is the limiter name reported in metrics and provider info.
const Name = "coordinated"

const blockSuffix = ":block"

//go:embed fixed_window.lua
var fixedWindowSource string

//go:embed sliding_log.lua
var slidingLogSource string

var (
	fixedWindowScript = redis.NewScript(fixedWindowSource)
	slidingLogScript  = redis.NewScript(slidingLogSource)
)

// Algorithm selects the counting policy used by the script.
type Algorithm string

const (
	// AlgorithmFixedWindow counts requests in fixed buckets. Default.
	AlgorithmFixedWindow Algorithm = "fixed_window"

	// AlgorithmSlidingLog keeps one timestamp per admitted request.
	AlgorithmSlidingLog Algorithm = "sliding_log"
)

// ParseAlgorithm converts a configured name to an Algorithm.
func ParseAlgorithm(s string) (Algorithm, error) {
	switch Algorithm(s) {
	case "", AlgorithmFixedWindow:
		return AlgorithmFixedWindow, nil
	case AlgorithmSlidingLog:
		return AlgorithmSlidingLog, nil
	default:
		return "", fmt.Errorf("unknown limiter algorithm %q", s)
	}
}

// Config configures the coordinated limiter.
type Config struct {
	// Namespace is prepended to every key this limiter writes.
	// Default: "throttleguard:"
	Namespace string

	// Algorithm is the counting policy for the whole process.
	// Default: AlgorithmFixedWindow
	Algorithm Algorithm

	// OpTimeout bounds each store round trip.
	// Default: 50ms
	OpTimeout time.Duration

	// MaxRetries is how many times a failed round trip is retried before
	// the limiter fails open. Zero means a single attempt.
	MaxRetries int

	// RetryBackoff is the initial delay between retries; it doubles each time.
	// Default: 10ms
	RetryBackoff time.Duration

	// Clock overrides time.Now, for tests.
	Clock limits.Clock

	// Recorder receives check measurements.
	Recorder limits.Recorder
}

// Limiter is the Redis backed implementation of limits.Limiter. The whole
// check runs in one Lua script, so concurrent callers on any number of
// instances observe one consistent count.
type Limiter struct {
	client   redis.UniversalClient
	script   *redis.Script
	config   Config
	recorder limits.Recorder
	logger   *slog.Logger

	// degradedLog keeps fail-open warnings from flooding the log while the
	// store is down.
	degradedLog *rate.Limiter
}

// NewLimiter creates a coordinated limiter on client. It does not contact the
// store; use Ping to probe health.
func NewLimiter(client redis.UniversalClient, cfg Config) (*Limiter, error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "throttleguard:"
	}
	if cfg.Algorithm == "" {
		cfg.Algorithm = AlgorithmFixedWindow
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 50 * time.Millisecond
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 10 * time.Millisecond
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Recorder == nil {
		cfg.Recorder = limits.NopRecorder{}
	}

	var script *redis.Script
	switch cfg.Algorithm {
	case AlgorithmFixedWindow:
		script = fixedWindowScript
	case AlgorithmSlidingLog:
		script = slidingLogScript
	default:
		return nil, fmt.Errorf("unknown limiter algorithm %q", cfg.Algorithm)
	}

	return &Limiter{
		client:      client,
		script:      script,
		config:      cfg,
		recorder:    cfg.Recorder,
		logger:      slog.Default().With("component", "limits.coordinated"),
		degradedLog: rate.NewLimiter(rate.Every(10*time.Second), 1),
	}, nil
}

// Check implements limits.Limiter. Store failures never surface: after the
// retry budget is spent the request is allowed with Remaining = Limit-1.
func (l *Limiter) Check(ctx context.Context, key string, policy limits.Policy) limits.Result {
	start := time.Now()
	now := l.config.Clock()

	res, newlyBlocked, err := l.eval(ctx, key, policy, now)
	if err != nil {
		res = l.failOpen(key, policy, now, err)
	}
	if newlyBlocked {
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

// eval runs the script with the configured timeout and retry budget.
func (l *Limiter) eval(ctx context.Context, key string, policy limits.Policy, now time.Time) (limits.Result, bool, error) {
	keys := []string{l.config.Namespace + key, l.config.Namespace + key + blockSuffix}
	args := []interface{}{
		now.UnixMilli(),
		policy.Limit,
		policy.Window.Milliseconds(),
		policy.BlockDuration.Milliseconds(),
	}
	if l.config.Algorithm == AlgorithmSlidingLog {
		args = append(args, uuid.NewString())
	}

	var lastErr error
	backoff := l.config.RetryBackoff

	for attempt := 0; attempt <= l.config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
				backoff *= 2
			case <-ctx.Done():
				return limits.Result{}, false, fmt.Errorf("%w: %v", limits.ErrStoreUnavailable, ctx.Err())
			}
		}

		opCtx, cancel := context.WithTimeout(ctx, l.config.OpTimeout)
		raw, err := l.script.Run(opCtx, l.client, keys, args...).Int64Slice()
		cancel()

		if err == nil {
			return decode(raw, policy, now)
		}
		lastErr = err
	}

	return limits.Result{}, false, fmt.Errorf("%w: %v", limits.ErrStoreUnavailable, lastErr)
}

// decode converts the script reply {allowed, count, at_ms, blocked}, where
// blocked is 0 (not blocked), 1 (serving a block) or 2 (block started now).
func decode(raw []int64, policy limits.Policy, now time.Time) (limits.Result, bool, error) {
	if len(raw) != 4 {
		return limits.Result{}, false, fmt.Errorf("unexpected script reply of length %d", len(raw))
	}

	at := time.UnixMilli(raw[2])
	res := limits.Result{
		Allowed:   raw[0] == 1,
		Limit:     policy.Limit,
		Remaining: limits.Remaining(policy.Limit, int(raw[1])),
		ResetAt:   at,
		IsBlocked: raw[3] != 0,
	}
	if !res.Allowed {
		res.RetryAfter = limits.RetryAfterSeconds(at.Sub(now))
	}
	return res, raw[3] == 2, nil
}

// failOpen builds the allowing result used when the store is unreachable.
func (l *Limiter) failOpen(key string, policy limits.Policy, now time.Time, err error) limits.Result {
	l.recorder.RecordFailOpen(Name)

	if l.degradedLog.Allow() {
		l.logger.Warn("coordination store unavailable, failing open",
			"key", key,
			"category", policy.Category,
			"error", err,
		)
	}

	return limits.Result{
		Allowed:   true,
		Limit:     policy.Limit,
		Remaining: limits.Remaining(policy.Limit, 1),
		ResetAt:   now.Add(policy.Window),
	}
}

// Reset implements limits.Limiter.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, l.config.OpTimeout*time.Duration(l.config.MaxRetries+1))
	defer cancel()

	full := l.config.Namespace + key
	if err := l.client.Del(ctx, full, full+blockSuffix).Err(); err != nil {
		return fmt.Errorf("%w: reset %s: %v", limits.ErrStoreUnavailable, key, err)
	}
	return nil
}

// Stats implements limits.Limiter by scanning the namespace.
func (l *Limiter) Stats(ctx context.Context) (limits.Stats, error) {
	now := l.config.Clock().UnixMilli()

	active := make(map[string]struct{})
	var blockKeys []string

	iter := l.client.Scan(ctx, 0, l.config.Namespace+"*", 500).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		if strings.HasSuffix(k, blockSuffix) {
			blockKeys = append(blockKeys, k)
			continue
		}
		active[k] = struct{}{}
	}
	if err := iter.Err(); err != nil {
		return limits.Stats{}, fmt.Errorf("%w: scan: %v", limits.ErrStoreUnavailable, err)
	}

	var stats limits.Stats
	for start := 0; start < len(blockKeys); start += 500 {
		end := min(start+500, len(blockKeys))
		vals, err := l.client.MGet(ctx, blockKeys[start:end]...).Result()
		if err != nil {
			return limits.Stats{}, fmt.Errorf("%w: mget: %v", limits.ErrStoreUnavailable, err)
		}
		for i, v := range vals {
			s, ok := v.(string)
			if !ok {
				continue
			}
			// Scripts store numbers as Lua renders them, which may be in
			// exponent form.
			until, err := strconv.ParseFloat(s, 64)
			if err != nil || int64(until) <= now {
				continue
			}
			stats.BlockedSubjects++
			active[strings.TrimSuffix(blockKeys[start+i], blockSuffix)] = struct{}{}
		}
	}
	stats.ActiveSubjects = len(active)

	return stats, nil
}

// Ping probes the store once with the configured timeout.
func (l *Limiter) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, l.config.OpTimeout*time.Duration(l.config.MaxRetries+1))
	defer cancel()

	if err := l.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", limits.ErrStoreUnavailable, err)
	}
	return nil
}

// Name implements limits.Limiter.
func (l *Limiter) Name() string {
	return Name
}

// Close implements limits.Limiter. The client is owned by the caller.
func (l *Limiter) Close() error {
	return nil
}
