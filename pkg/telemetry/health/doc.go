// Package health serves liveness and readiness probes.
//
// # Endpoints
//
//   - /health: liveness, 200 while the process runs
//   - /ready: readiness, 503 when any registered check fails
//   - /version: build information
//
// # Checks
//
// A check is a func(ctx) error registered under a name. The Checker runs all
// checks concurrently, each under its own timeout. The checks throttleguard
// registers are built by the constructors in checks.go:
//
//	checker := health.New(2 * time.Second)
//	checker.RegisterCheck("audit_storage", health.AuditStorageCheck(store))
//	checker.RegisterCheck("audit_breaker", health.AuditBreakerCheck(rec.BreakerState))
//	if coordinated != nil {
//	    checker.RegisterCheck("coordination_store", health.PingCheck(coordinated))
//	}
//
// Readiness degrades but liveness never fails: the limiter keeps serving
// (failing open) when the coordination store is down, so restarting the
// process would not help.
package health
