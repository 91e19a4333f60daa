// Package middleware adapts the admission gate to net/http.
//
// # Guards
//
//   - [Guard] runs Engine.Guard for a route's category and minimum role.
//   - [RequireRole], [RequireAdmin] and [RequireSuperAdmin] are shorthands.
//
// The identity defaults to the remote host (optionally the first
// X-Forwarded-For hop or a trusted header). The credential is the bearer
// token of the Authorization header and is read only when a role is required.
//
// # Status mapping
//
// Rate limited maps to 429 with Retry-After, unauthenticated to 401, forbidden
// to 403 and store failures of fail-closed categories to 503.
//
// # What this package must NOT do
//
//   - Parse or create tokens directly.
//   - Access Redis.
//   - Reveal whether a 429 was caused by a ban.
package middleware
