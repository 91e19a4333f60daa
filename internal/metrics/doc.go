// Package metrics provides lock-free counters and a latency histogram for
// admission decisions.
//
// # Design
//
// Counters are stored in cache-line-padded uint64 slots and incremented
// atomically. The guard latency histogram uses 8 fixed buckets (1ms to +Inf).
// Both are allocation-free on the write path.
//
// # Architecture boundaries
//
// This package owns metric storage and snapshot creation. Export (Prometheus,
// OTel) lives in metrics/export/ and reads snapshots through the Engine.
//
// # What this package must NOT do
//
//   - Perform I/O or network calls.
//   - Import goGate or any sibling package.
//   - Expose global metric registries.
package metrics
