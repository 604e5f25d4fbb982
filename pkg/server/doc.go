// Package server hosts the guarded HTTP API.
//
// The mux carries one placeholder business route per rate limit category,
// each wrapped by the guard:
//
//	POST /api/ai/analyze        aiMedical
//	     /api/consultations     consultations
//	     /api/patients[/{id}]   patients
//	     /api/dashboard         dashboard
//	     /api/...               default
//
// plus the admin endpoints (/admin/ratelimit/stats, /admin/ratelimit/reset),
// the probes (/health, /ready, /version) and, when enabled, the metrics path.
//
// Start listens and serves until its context is cancelled; Shutdown drains
// in-flight requests within ServerConfig.ShutdownTimeout. Signal handling is
// left to the caller.
package server
