// Package anomaly learns per-subject behavior and flags requests that deviate
// from it.
//
// # Overview
//
// Every request produces an Event. The Detector appends the event to a bounded
// history, runs five independent heuristics over that history and the
// subject's profile, updates the profile and returns the findings. A single
// event may yield zero, one or several findings.
//
// # Heuristics
//
//	RATE_SPIKE         5 minute count far above the learned hourly rate
//	UNUSUAL_HOURS      busy outside the hours the subject is normally active
//	SUSPICIOUS_SOURCE  one address serving many subjects, or many auth failures
//	FAILED_AUTH_BURST  repeated 401/403 responses for one subject
//	ENDPOINT_ABUSE     one subject hammering one endpoint
//
// Findings are signals, not enforcement. Callers decide what to do with them.
//
// # State
//
// The event history holds at most 10,000 events and drops the oldest first.
// Profiles live for the lifetime of the process unless persisted through
// Snapshot and Restore. Flagged sources expire after SuspiciousSourceTTL.
// A Sweeper prunes history older than 24 hours and drops expired sources on
// a cron schedule.
//
// # Thread Safety
//
// All Detector methods are safe for concurrent use. Analysis order relative
// to the next request of the same subject is not guaranteed, so profile
// learning is eventually consistent.
package anomaly
