// Package bans manages the block list of identities.
//
// A ban is a Redis key under <prefix>:ban:<identity> whose TTL is the ban
// duration; indefinite bans carry no TTL. Ban refreshes keep the later of the
// existing and the requested expiry, so a ban is never shortened. Repeated
// automatic bans are escalated through a strike counter kept under
// <prefix>:strike:<identity>.
//
// Enumeration and bulk clearing walk the namespace with SCAN in bounded pages.
// Clearing is atomic per key only; an interrupted ClearAll can be retried.
//
// # What this package must NOT do
//
//   - Count calls or decide admission.
//   - Read-then-write a ban record outside a script.
package bans
