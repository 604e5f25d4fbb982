package recorder

import (
	"sync"
	"time"
)

// BreakerState is the state of the storage circuit breaker.
type BreakerState int

const (
	// BreakerClosed passes writes through to storage.
	BreakerClosed BreakerState = iota
	// BreakerOpen diverts writes to the fallback ring.
	BreakerOpen
	// BreakerHalfOpen lets one probe write through after the cool-down.
	BreakerHalfOpen
)

// String returns the lower-case state name.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures a Breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// breaker.
	// Default: 3
	FailureThreshold int

	// CoolDown is how long the breaker stays open before probing.
	// Default: 30 seconds
	CoolDown time.Duration
}

// Breaker guards storage writes. CLOSED→OPEN after FailureThreshold
// consecutive failures; OPEN→HALF_OPEN once CoolDown has elapsed; a successful
// probe closes it again and a failed probe re-opens it.
type Breaker struct {
	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time

	config   BreakerConfig
	now      func() time.Time
	onChange func(from, to BreakerState)
}

// NewBreaker creates a closed breaker. onChange, if non-nil, is called with
// the lock held on every transition and must not call back into the breaker.
func NewBreaker(cfg BreakerConfig, now func() time.Time, onChange func(from, to BreakerState)) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = 30 * time.Second
	}
	if now == nil {
		now = time.Now
	}
	if onChange == nil {
		onChange = func(BreakerState, BreakerState) {}
	}
	return &Breaker{config: cfg, now: now, onChange: onChange}
}

// Allow reports whether a write may go to storage.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.config.CoolDown {
			return false
		}
		b.transition(BreakerHalfOpen)
		return true
	default:
		return true
	}
}

// Success records a successful write.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	if b.state != BreakerClosed {
		b.transition(BreakerClosed)
	}
}

// Failure records a failed write.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	if b.state == BreakerHalfOpen || (b.state == BreakerClosed && b.failures >= b.config.FailureThreshold) {
		b.openedAt = b.now()
		b.transition(BreakerOpen)
	}
}

// State returns the current state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) transition(to BreakerState) {
	from := b.state
	b.state = to
	b.onChange(from, to)
}
