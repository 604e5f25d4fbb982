package limits

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrRateLimitExceeded is returned when a subject is over its limit or
	// serving a block.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrStoreUnavailable marks coordination store failures. It never
	// reaches limiter callers; the coordinated limiter fails open instead.
	ErrStoreUnavailable = errors.New("coordination store unavailable")
)

// RateLimitError carries the details of a rejected check.
type RateLimitError struct {
	// Key is the limiter key that was rejected.
	Key string

	// Category is the category of the rejected request.
	Category Category

	// RetryAfter is how long the caller should wait.
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s (category=%s, retry after %s)",
		e.Key, e.Category, e.RetryAfter)
}

// Unwrap allows errors.Is(err, ErrRateLimitExceeded).
func (e *RateLimitError) Unwrap() error {
	return ErrRateLimitExceeded
}

// NewRateLimitError builds a RateLimitError from a rejected result.
func NewRateLimitError(key string, policy Policy, res Result) *RateLimitError {
	return &RateLimitError{
		Key:        key,
		Category:   policy.Category,
		RetryAfter: time.Duration(res.RetryAfter) * time.Second,
	}
}
