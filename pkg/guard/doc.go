// Package guard wraps business handlers with authentication, per-category
// rate limiting, anomaly analysis and audit emission.
//
// # Request lifecycle
//
//	AUTHENTICATING → RATE_LIMITING → (ANOMALY_ANALYSIS ∥ HANDLER) → RESPONSE
//
//   - Authentication failure: the failure is analyzed in the background and
//     the authenticator's status and message are returned unchanged.
//   - Rejected by the limiter: the request is analyzed synchronously, audited,
//     and answered with 429 and the non-LOW findings.
//   - Allowed: the handler runs with the X-RateLimit-* headers already set;
//     analysis and any resulting audit entry run on the background Pool.
//   - Handler failure (panic or returned error): a generic 500 is returned
//     while the audit entry and the analysis are submitted to the Pool.
//
// Only three outcomes are visible to callers: auth rejected, 429, or a generic
// 500. Analysis and audit failures never change the response.
//
// # Subject keys
//
// Authenticated requests are keyed "user:<id>". Anonymous requests are keyed
// "anon:" plus a truncated SHA-256 of the client address and user agent.
package guard
