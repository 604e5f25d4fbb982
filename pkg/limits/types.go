package limits

import (
	"context"
	"math"
	"time"
)

// Clock returns the current time. Limiters accept one so tests can move time
// without sleeping.
type Clock func() time.Time

// Policy is the throttling configuration for one request category.
// Policies are values; a changed policy is a new Policy.
type Policy struct {
	// Category is the request category this policy applies to.
	Category Category `json:"category" yaml:"-"`

	// Limit is the maximum number of requests admitted per window.
	Limit int `json:"limit" yaml:"limit"`

	// Window is the length of a counting window.
	Window time.Duration `json:"window" yaml:"window"`

	// BlockDuration is how long a subject is rejected after exceeding Limit.
	BlockDuration time.Duration `json:"block_duration" yaml:"block_duration"`

	// KeyPrefix namespaces limiter state per category.
	// Default: "rl:<category>:"
	KeyPrefix string `json:"key_prefix,omitempty" yaml:"key_prefix"`
}

// Key returns the limiter key for a subject under this policy.
func (p Policy) Key(subject string) string {
	prefix := p.KeyPrefix
	if prefix == "" {
		prefix = "rl:" + string(p.Category) + ":"
	}
	return prefix + subject
}

// Result is the outcome of a single limiter check. It is returned to the
// caller and never stored.
type Result struct {
	// Allowed reports whether the request may proceed.
	Allowed bool `json:"allowed"`

	// Limit is the policy limit the check ran against.
	Limit int `json:"limit"`

	// Remaining is max(0, Limit - count) for the current window.
	Remaining int `json:"remaining"`

	// ResetAt is when the current window ends, or when the block ends for a
	// blocked subject.
	ResetAt time.Time `json:"reset_at"`

	// IsBlocked reports whether the subject is serving a block.
	IsBlocked bool `json:"is_blocked"`

	// RetryAfter is the number of whole seconds the caller should wait.
	// Zero when the request was allowed.
	RetryAfter int `json:"retry_after,omitempty"`
}

// Stats summarizes limiter state for the administrative surface.
type Stats struct {
	// ActiveSubjects counts keys with a live window or block.
	ActiveSubjects int `json:"activeSubjects"`

	// BlockedSubjects counts keys currently serving a block.
	BlockedSubjects int `json:"blockedSubjects"`
}

// Limiter decides whether a subject may proceed under a policy.
//
// Check never returns an error: implementations backed by external stores
// convert store failures into an allowing result.
type Limiter interface {
	// Check runs the check-and-increment sequence for key.
	Check(ctx context.Context, key string, policy Policy) Result

	// Reset clears all state for key. Resetting an unknown key is a no-op.
	Reset(ctx context.Context, key string) error

	// Stats reports how many keys are active and blocked.
	Stats(ctx context.Context) (Stats, error)

	// Name identifies the implementation ("local", "coordinated").
	Name() string

	// Close releases background resources.
	Close() error
}

// Remaining computes max(0, limit-count).
func Remaining(limit, count int) int {
	if count >= limit {
		return 0
	}
	return limit - count
}

// RetryAfterSeconds rounds d up to whole seconds, never below zero.
func RetryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}
