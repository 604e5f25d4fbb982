// Package audit records security-relevant decisions taken by the request
// guard: rejected requests, anomaly findings and handler failures.
//
// # Architecture
//
//	guard ──► recorder.Recorder ──(queue)──► worker ──► Breaker ──► Storage
//	                                                       │
//	                                                       └──► fallback ring
//
// Recording never blocks a request. The recorder enqueues the entry and a
// single worker writes it through a circuit breaker. While the breaker is
// open, or when a write fails, the entry is kept in a bounded in-memory ring
// instead so it can still be inspected.
//
// # Storage
//
// Two backends implement Storage:
//   - storage.MemoryStorage for tests and single-run deployments
//   - storage.SQLiteStorage for durable, queryable history
//
// # Retention
//
// retention.Pruner deletes entries older than the configured number of days.
// retention.Scheduler runs it on a cron schedule.
package audit
