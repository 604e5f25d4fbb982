package ratelimit

import (
	"sync"
	"time"

	"github.com/rpzk/throttleguard/pkg/limits"
)

// window is the state of one key.
type window struct {
	mu sync.Mutex

	count        int
	resetAt      time.Time
	blockedUntil time.Time

	// evicted is set when the janitor or Reset dropped this window from the
	// map. A caller that loaded the pointer before eviction must retry.
	evicted bool
}

// advance runs one check at now. The caller must hold w.mu.
// The second return value reports whether this check started a block.
func (w *window) advance(now time.Time, p limits.Policy) (limits.Result, bool) {
	if now.Before(w.blockedUntil) {
		return limits.Result{
			Allowed:    false,
			Limit:      p.Limit,
			Remaining:  0,
			ResetAt:    w.blockedUntil,
			IsBlocked:  true,
			RetryAfter: limits.RetryAfterSeconds(w.blockedUntil.Sub(now)),
		}, false
	}

	// A served block always ends in a fresh window, even when the block was
	// shorter than what was left of the old one.
	if w.resetAt.IsZero() || !now.Before(w.resetAt) || !w.blockedUntil.IsZero() {
		w.count = 1
		w.resetAt = now.Add(p.Window)
		w.blockedUntil = time.Time{}
		return limits.Result{
			Allowed:   true,
			Limit:     p.Limit,
			Remaining: limits.Remaining(p.Limit, w.count),
			ResetAt:   w.resetAt,
		}, false
	}

	w.count++
	if w.count > p.Limit {
		w.blockedUntil = now.Add(p.BlockDuration)
		return limits.Result{
			Allowed:    false,
			Limit:      p.Limit,
			Remaining:  0,
			ResetAt:    w.blockedUntil,
			IsBlocked:  true,
			RetryAfter: limits.RetryAfterSeconds(p.BlockDuration),
		}, true
	}

	return limits.Result{
		Allowed:   true,
		Limit:     p.Limit,
		Remaining: limits.Remaining(p.Limit, w.count),
		ResetAt:   w.resetAt,
	}, false
}

// idle reports whether the window has expired and no block is pending.
func (w *window) idle(now time.Time) bool {
	return !now.Before(w.resetAt) && !now.Before(w.blockedUntil)
}

// blocked reports whether a block is in force at now.
func (w *window) blocked(now time.Time) bool {
	return now.Before(w.blockedUntil)
}
