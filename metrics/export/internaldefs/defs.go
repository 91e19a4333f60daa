package internaldefs

import (
	goGate "github.com/MrEthical07/goGate"
)

// CounterDef names one engine counter for export.
type CounterDef struct {
	ID   goGate.MetricID
	Name string
	Help string
}

// HistogramDef names one engine histogram for export.
type HistogramDef struct {
	ID   goGate.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in output order.
var CounterDefs = []CounterDef{
	{ID: goGate.MetricAdmitted, Name: "gogate_admitted_total", Help: "Calls admitted within budget."},
	{ID: goGate.MetricRateLimited, Name: "gogate_rate_limited_total", Help: "Calls denied for exceeding the window budget."},
	{ID: goGate.MetricBanRejected, Name: "gogate_ban_rejected_total", Help: "Calls denied because the identity is banned."},
	{ID: goGate.MetricBanIssued, Name: "gogate_ban_issued_total", Help: "Bans created or extended."},
	{ID: goGate.MetricBanCleared, Name: "gogate_ban_cleared_total", Help: "Bans lifted by an administrator."},
	{ID: goGate.MetricUnauthenticated, Name: "gogate_unauthenticated_total", Help: "Admitted calls rejected for missing or invalid credentials."},
	{ID: goGate.MetricForbidden, Name: "gogate_forbidden_total", Help: "Admitted calls rejected for insufficient role."},
	{ID: goGate.MetricStoreFailOpen, Name: "gogate_store_fail_open_total", Help: "Calls admitted in degraded mode while the store was unavailable."},
	{ID: goGate.MetricStoreFailClosed, Name: "gogate_store_fail_closed_total", Help: "Calls rejected while the store was unavailable."},
	{ID: goGate.MetricBreakerRejected, Name: "gogate_breaker_rejected_total", Help: "Store calls short-circuited by the open breaker."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: goGate.MetricGuardLatency, Name: "gogate_guard_latency_seconds", Help: "Guard latency histogram."},
}

// HistogramBounds are the upper bounds of the latency buckets in seconds.
var HistogramBounds = []string{
	"0.001",
	"0.0025",
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"+Inf",
}

// HistogramBoundSuffix is HistogramBounds spelled for metric names.
var HistogramBoundSuffix = []string{
	"0_001",
	"0_0025",
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"inf",
}

// NormalizeBuckets copies raw into a fixed-size array, zero-filling missing
// buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets converts per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
