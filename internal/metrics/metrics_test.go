package metrics

import (
	"sync"
	"testing"
	"time"
)

func TestDisabledMetricsRecordNothing(t *testing.T) {
	m := New(Config{Enabled: false, EnableLatencyHistograms: true})
	m.Inc(MetricAdmitted)
	m.Observe(MetricGuardLatency, time.Millisecond)

	if m.Value(MetricAdmitted) != 0 {
		t.Fatal("disabled metrics must not count")
	}
	s := m.Snapshot()
	if len(s.Counters) != 0 || len(s.Histograms) != 0 {
		t.Fatalf("expected empty snapshot, got %+v", s)
	}
}

func TestConcurrentIncrements(t *testing.T) {
	m := New(Config{Enabled: true})

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.Inc(MetricRateLimited)
			}
		}()
	}
	wg.Wait()

	if got := m.Snapshot().Counters[MetricRateLimited]; got != 3200 {
		t.Fatalf("expected 3200, got %d", got)
	}
}

func TestLatencyHistogram(t *testing.T) {
	m := New(Config{Enabled: true, EnableLatencyHistograms: true})
	m.Observe(MetricGuardLatency, 500*time.Microsecond)
	m.Observe(MetricGuardLatency, 7*time.Millisecond)
	m.Observe(MetricGuardLatency, time.Second)
	m.Observe(MetricAdmitted, time.Second)

	buckets := m.Snapshot().Histograms[MetricGuardLatency]
	if len(buckets) != HistBucketCount {
		t.Fatalf("expected %d buckets, got %d", HistBucketCount, len(buckets))
	}
	if buckets[0] != 1 || buckets[3] != 1 || buckets[7] != 1 {
		t.Fatalf("unexpected buckets %v", buckets)
	}
}

func TestOutOfRangeIDIgnored(t *testing.T) {
	var m *Metrics
	m.Inc(MetricAdmitted)
	if m.Enabled() {
		t.Fatal("nil metrics must report disabled")
	}

	m = New(Config{Enabled: true})
	m.Inc(MetricIDCount + 3)
	if m.Value(MetricIDCount+3) != 0 {
		t.Fatal("out of range ids must be ignored")
	}
}
