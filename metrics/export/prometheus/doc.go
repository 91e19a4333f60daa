// Package prometheus renders gate metrics in Prometheus text exposition
// format.
//
// [NewPrometheusExporter] wraps an engine and exposes an [http.Handler].
// Counters are named gogate_*_total and the single histogram is
// gogate_guard_latency_seconds.
//
// # What this package must NOT do
//
//   - Register metrics in a global Prometheus registry. Callers mount the Handler.
//   - Mutate engine state.
package prometheus
