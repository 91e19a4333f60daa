// Package goGate is a shared admission gate for multi-instance services. It
// combines per-identity fixed-window rate limits, escalating bans and
// role-based authorization behind a single check, [Engine.Guard].
//
// All counters and bans live in Redis, so every instance sharing a key
// prefix enforces one budget per identity and category. Engine methods are
// safe to call from multiple goroutines after [Builder.Build].
//
// # Order of checks
//
// Guard resolves the category policy, rejects banned identities, counts the
// call against the current window and only then verifies credentials. An
// unauthenticated flood is therefore throttled before any token parsing or
// principal lookup happens.
//
// # Store failures
//
// Each category chooses what happens when Redis is unreachable: fail-closed
// categories return an error wrapping [ErrStoreUnavailable], fail-open
// categories admit the call with [Decision.Degraded] set. Administrative
// operations always fail closed.
//
// # What this package must NOT do
//
//   - Expose Redis clients or key layout in its public API.
//   - Perform store I/O during Build.
//   - Keep admission state in process memory.
//   - Import any sub-package that re-imports goGate.
package goGate
