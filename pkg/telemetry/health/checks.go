package health

import (
	"context"
	"errors"
	"fmt"

	"github.com/rpzk/throttleguard/pkg/audit"
	"github.com/rpzk/throttleguard/pkg/audit/recorder"
)

// ErrCheckTimeout is reported when a check outlives its timeout.
var ErrCheckTimeout = errors.New("health check timeout")

// Pinger is implemented by the coordinated limiter.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck reports the coordination store unhealthy when Ping fails.
func PingCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("coordination store unreachable: %w", err)
		}
		return nil
	}
}

// AuditStorageCheck probes the audit storage with a count of one entry.
func AuditStorageCheck(s audit.Storage) CheckFunc {
	return func(ctx context.Context) error {
		if _, err := s.Count(ctx, &audit.Query{Limit: 1}); err != nil {
			return fmt.Errorf("audit storage: %w", err)
		}
		return nil
	}
}

// AuditBreakerCheck reports unhealthy while the audit breaker is open.
func AuditBreakerCheck(state func() recorder.BreakerState) CheckFunc {
	return func(context.Context) error {
		if s := state(); s == recorder.BreakerOpen {
			return fmt.Errorf("audit circuit breaker is %s", s)
		}
		return nil
	}
}
