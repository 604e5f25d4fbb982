package audit

import (
	"context"
	"time"
)

// Action identifies what an audit entry records.
type Action string

const (
	// ActionRateLimitExceeded records a request rejected by the limiter.
	ActionRateLimitExceeded Action = "rate_limit_exceeded"

	// ActionCriticalAnomaly records a CRITICAL finding on a rejected request.
	ActionCriticalAnomaly Action = "critical_anomaly_detected"

	// ActionAnomalyDetected records MEDIUM or higher findings on an admitted
	// request.
	ActionAnomalyDetected Action = "anomaly_detected"

	// ActionAPIError records a handler failure.
	ActionAPIError Action = "api_error"
)

// Valid reports whether a is one of the known actions.
func (a Action) Valid() bool {
	switch a {
	case ActionRateLimitExceeded, ActionCriticalAnomaly, ActionAnomalyDetected, ActionAPIError:
		return true
	}
	return false
}

// Entry is a single audit record.
type Entry struct {
	ID           string         `json:"id"`
	Timestamp    time.Time      `json:"timestamp"`
	ActorID      string         `json:"actorId"`
	ActorEmail   string         `json:"actorEmail,omitempty"`
	ActorRole    string         `json:"actorRole,omitempty"`
	Action       Action         `json:"action"`
	Resource     string         `json:"resource"`
	Success      bool           `json:"success"`
	Details      map[string]any `json:"details,omitempty"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
}

// Query filters entries. Zero values match everything.
type Query struct {
	ActorID string
	Action  Action

	// Since and Until bound Timestamp, both inclusive.
	Since time.Time
	Until time.Time

	// Success filters on outcome when set.
	Success *bool

	// Limit caps the result size. Zero means no limit.
	Limit  int
	Offset int
}

// Matches reports whether e satisfies the query filters, ignoring paging.
func (q *Query) Matches(e *Entry) bool {
	if q == nil {
		return true
	}
	if q.ActorID != "" && e.ActorID != q.ActorID {
		return false
	}
	if q.Action != "" && e.Action != q.Action {
		return false
	}
	if !q.Since.IsZero() && e.Timestamp.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && e.Timestamp.After(q.Until) {
		return false
	}
	if q.Success != nil && e.Success != *q.Success {
		return false
	}
	return true
}

// Storage persists audit entries.
//
// Implementations must be safe for concurrent use.
type Storage interface {
	// Store persists a single entry.
	Store(ctx context.Context, entry *Entry) error

	// Query returns matching entries, newest first.
	Query(ctx context.Context, query *Query) ([]*Entry, error)

	// Count returns the number of matching entries, ignoring paging.
	Count(ctx context.Context, query *Query) (int64, error)

	// Delete removes entries recorded before olderThan and returns how many
	// were removed.
	Delete(ctx context.Context, olderThan time.Time) (int64, error)

	// Close releases backend resources.
	Close() error
}
