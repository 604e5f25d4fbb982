// Package middleware holds the HTTP middleware that wraps the whole mux.
//
// The chain, outermost first, is
//
//	RequestID -> Logging -> Recovery -> tracing -> Route(mux)
//
// RequestID runs first so that every log line, including the one written for
// a recovered panic, carries the request ID. Recovery sits inside Logging so a
// panic is still logged and counted as a 500.
//
// Panics inside guarded routes never reach Recovery: the guard turns them into
// its own 500 response and audit entry. Recovery covers the admin, health and
// metrics routes.
package middleware
