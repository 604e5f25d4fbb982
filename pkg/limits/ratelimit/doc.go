// Package ratelimit provides the in-process fixed window limiter.
//
// # Overview
//
// Limiter keeps one window per key in a map and runs the fixed window with
// block escalation algorithm described in package limits:
//
//	l := ratelimit.NewLimiter(ratelimit.Config{})
//	defer l.Close()
//
//	res := l.Check(ctx, policy.Key("user:42"), policy)
//	if !res.Allowed {
//	    // reject, retry after res.RetryAfter seconds
//	}
//
// # Concurrency
//
// Each key has its own mutex, so the read-increment-write sequence is atomic
// for concurrent callers sharing a key, while different keys never contend.
// A background janitor evicts windows that have expired and are not blocked.
//
// # Single Instance Only
//
// State lives in process memory. Several instances behind a load balancer
// each keep their own counters and together admit up to N times the limit.
// Deployments with more than one instance must use the coordinated limiter.
package ratelimit
