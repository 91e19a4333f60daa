// Package policy defines operation categories and the immutable limit policy
// attached to each one.
//
// # Registry lifecycle
//
// Policies are registered once during startup and the [Registry] is frozen
// before the first admission decision. After [Registry.Freeze] the registry is
// read-only; resolving an unknown category is a programming error reported as
// [ErrUnknownCategory].
//
// # What this package must NOT do
//
//   - Access Redis, the network, or any clock.
//   - Import goGate or any internal package.
//   - Allow categories to be created at request time.
package policy
