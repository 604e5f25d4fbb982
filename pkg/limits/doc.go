// Package limits defines the request throttling contract shared by every
// limiter implementation.
//
// # Overview
//
// Requests are classified into a closed set of categories. Each category maps
// to an immutable Policy that says how many requests a subject may issue per
// window and how long the subject is blocked once it goes over:
//
//	aiMedical      30 / 60s, block 300s
//	consultations 100 / 60s, block 120s
//	patients      200 / 60s, block 60s
//	dashboard     500 / 60s, block 30s
//	default       100 / 60s, block 60s
//
// # Algorithm
//
// All limiters implement a fixed window with block escalation:
//
//  1. A subject with an active block is rejected until the block ends.
//  2. A subject without a live window starts a new one with count 1.
//  3. Otherwise the count is incremented; going over the limit starts a block.
//
// # Architecture
//
// The package is organized into sub-packages:
//
//   - ratelimit: in-process limiter, correct for a single instance only
//   - coordinated: Redis backed limiter using one atomic Lua script per check
//   - provider: chooses between the two once, at start-up
//
// # Thread Safety
//
// Limiter implementations must be safe for concurrent use. Concurrent checks
// on the same key are serialized so that a window never admits more than
// Policy.Limit requests.
package limits
