// Package coordinated provides a Redis backed limiter whose state is shared by
// every instance pointing at the same store.
//
// # Atomicity
//
// The check-blocked, maybe-new-window, increment and maybe-block sequence runs
// as a single Lua script. Redis executes scripts one at a time, so two
// instances can never both read count N and both write N+1.
//
// # Keys
//
//	<namespace><policy key>         window state (hash, or sorted set for the sliding log)
//	<namespace><policy key>:block   blocked-until marker in unix milliseconds
//
// # Failure Mode
//
// Every round trip has a timeout and a small retry budget. When the budget is
// spent the limiter fails open: the request is allowed with Remaining set to
// Limit-1, the fail-open counter is incremented and a rate limited warning is
// logged. Callers never see a store error from Check.
//
// # Algorithms
//
// The fixed window with block escalation is the default and matches the
// in-process limiter. The sliding window log is available as an alternative
// for the whole process; the two are never mixed within one deployment.
package coordinated
