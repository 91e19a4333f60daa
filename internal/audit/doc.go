// Package audit implements asynchronous event dispatching for admission
// decisions.
//
// # Components
//
//   - [Sink]: interface for event consumers (channel, JSON writer, slog, no-op).
//   - [Dispatcher]: buffered async relay that drops events when full.
//   - [Event]: structured record with id, timestamp, type, identity, category,
//     subject, reason and metadata.
//
// # Architecture boundaries
//
// This package owns event buffering and sink delivery. It does not decide
// which events to emit; the Engine does.
//
// # What this package must NOT do
//
//   - Block or fail the caller of Emit.
//   - Import goGate or any sibling internal package.
//   - Persist events beyond what a caller-supplied Sink does.
package audit
