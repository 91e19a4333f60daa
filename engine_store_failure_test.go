package goGate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/goGate/policy"
)

func TestStoreFailureFailOpen(t *testing.T) {
	env := newTestEnv(t, nil)
	env.mr.SetError("LOADING")

	d, err := env.engine.Admit(context.Background(), "X", policy.CategoryGeneral)
	if err != nil {
		t.Fatalf("fail-open category must not error, got %v", err)
	}
	if !d.Allowed || !d.Degraded {
		t.Fatalf("expected degraded admission, got %+v", d)
	}
	if d.Remaining != 0 {
		t.Fatalf("degraded decision must report remaining 0, got %d", d.Remaining)
	}
	if !d.ResetAt.Equal(testStart.Add(time.Minute)) {
		t.Fatalf("unexpected resetAt %v", d.ResetAt)
	}

	if got := env.engine.MetricsSnapshot().Counters[MetricStoreFailOpen]; got != 1 {
		t.Fatalf("expected 1 fail-open, got %d", got)
	}

	var sawStoreEvent bool
	for _, ev := range env.auditEvents() {
		if ev.EventType == "store_unavailable" && ev.Reason == "open" {
			sawStoreEvent = true
		}
	}
	if !sawStoreEvent {
		t.Fatal("expected a store_unavailable audit event")
	}
}

func TestStoreFailureFailClosed(t *testing.T) {
	env := newTestEnv(t, nil)
	env.mr.SetError("LOADING")

	for _, category := range []policy.Category{
		policy.CategoryAuthentication,
		policy.CategoryPrivilegedMutation,
	} {
		d, err := env.engine.Admit(context.Background(), "X", category)
		if !errors.Is(err, ErrStoreUnavailable) {
			t.Fatalf("%s: expected ErrStoreUnavailable, got %v", category, err)
		}
		if d.Allowed {
			t.Fatalf("%s: fail-closed category admitted a call", category)
		}
	}

	_, err := env.engine.Guard(context.Background(), GuardRequest{
		Identity: "X",
		Category: policy.CategoryPrivilegedMutation,
		MinRole:  RoleAdmin,
	})
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("Guard: expected ErrStoreUnavailable, got %v", err)
	}
}

func TestStoreFailureTimeout(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) {
		cfg.Store.OperationTimeout = 20 * time.Millisecond
	})
	env.mr.Close()

	start := time.Now()
	_, err := env.engine.Admit(context.Background(), "X", policy.CategoryAuthentication)
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("store call was not bounded: %v", elapsed)
	}
}

func TestBreakerShortCircuitsAndRecovers(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) {
		cfg.Breaker.FailureThreshold = 2
		cfg.Breaker.OpenDuration = time.Second
	})
	ctx := context.Background()
	env.mr.SetError("LOADING")

	for i := 0; i < 3; i++ {
		d, err := env.engine.Admit(ctx, "X", policy.CategoryGeneral)
		if err != nil || !d.Degraded {
			t.Fatalf("call %d: expected degraded admission, got %+v %v", i+1, d, err)
		}
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricBreakerRejected]; got != 1 {
		t.Fatalf("expected 1 breaker rejection, got %d", got)
	}
	if got := env.engine.Report().BreakerState; got != "open" {
		t.Fatalf("expected open breaker, got %q", got)
	}

	env.mr.SetError("")
	env.clock.Advance(2 * time.Second)

	d, err := env.engine.Admit(ctx, "X", policy.CategoryGeneral)
	if err != nil || d.Degraded || !d.Allowed {
		t.Fatalf("expected normal admission after recovery, got %+v %v", d, err)
	}
	if got := env.engine.Report().BreakerState; got != "closed" {
		t.Fatalf("expected closed breaker, got %q", got)
	}
}

func TestCancellationDoesNotTripBreaker(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) {
		cfg.Breaker.FailureThreshold = 1
	})

	for i := 0; i < 3; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := env.engine.Admit(ctx, "X", policy.CategoryGeneral); !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	}
	if got := env.engine.Report().BreakerState; got != "closed" {
		t.Fatalf("cancellation tripped the breaker: %q", got)
	}
}

func TestPing(t *testing.T) {
	env := newTestEnv(t, nil)

	if err := env.engine.Ping(context.Background()); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
	env.mr.SetError("LOADING")
	if err := env.engine.Ping(context.Background()); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}
