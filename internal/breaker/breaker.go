// Package breaker short-circuits calls to the shared store after repeated
// failures so that an outage is reported quickly instead of once per timeout.
package breaker

import (
	"errors"
	"sync/atomic"
	"time"
)

// ErrOpen is returned by [Breaker.Do] while the breaker rejects calls.
var ErrOpen = errors.New("circuit open")

// State is the breaker state.
type State int32

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Options configures breaker thresholds.
type Options struct {
	FailureThreshold int64
	OpenDuration     time.Duration
	HalfOpenMaxCalls int64
}

// Breaker counts consecutive store failures. A nil *Breaker allows every call.
type Breaker struct {
	state     atomic.Int32
	failures  atomic.Int64
	openUntil atomic.Int64
	probes    atomic.Int64
	opts      Options
	now       func() time.Time
}

// New constructs a [Breaker]. Zero option fields fall back to defaults and a
// nil now uses [time.Now].
func New(opts Options, now func() time.Time) *Breaker {
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = 5
	}
	if opts.OpenDuration <= 0 {
		opts.OpenDuration = time.Second
	}
	if opts.HalfOpenMaxCalls <= 0 {
		opts.HalfOpenMaxCalls = 1
	}
	if now == nil {
		now = time.Now
	}
	b := &Breaker{opts: opts, now: now}
	b.state.Store(int32(Closed))
	return b
}

// State returns the current state.
func (b *Breaker) State() State {
	if b == nil {
		return Closed
	}
	return State(b.state.Load())
}

// Allow reports whether a store call may proceed. Every allowed call must be
// followed by exactly one Success or Failure.
func (b *Breaker) Allow() bool {
	if b == nil {
		return true
	}
	switch State(b.state.Load()) {
	case Open:
		if b.now().UnixNano() < b.openUntil.Load() {
			return false
		}
		if b.state.CompareAndSwap(int32(Open), int32(HalfOpen)) {
			b.probes.Store(0)
		}
		return b.takeProbe()
	case HalfOpen:
		return b.takeProbe()
	default:
		return true
	}
}

// Success records a store call that completed.
func (b *Breaker) Success() {
	if b == nil {
		return
	}
	if State(b.state.Load()) == HalfOpen {
		b.probes.Add(-1)
		b.state.Store(int32(Closed))
	}
	b.failures.Store(0)
}

// Failure records a store call that failed.
func (b *Breaker) Failure() {
	if b == nil {
		return
	}
	if State(b.state.Load()) == HalfOpen {
		b.probes.Add(-1)
		b.trip()
		return
	}
	if b.failures.Add(1) >= b.opts.FailureThreshold {
		b.trip()
	}
}

// Do runs fn when the breaker allows it and records the outcome. Errors for
// which ignore returns true are not counted as failures.
func (b *Breaker) Do(fn func() error, ignore func(error) bool) error {
	if !b.Allow() {
		return ErrOpen
	}
	err := fn()
	switch {
	case err == nil:
		b.Success()
	case ignore != nil && ignore(err):
		b.release()
	default:
		b.Failure()
	}
	return err
}

func (b *Breaker) takeProbe() bool {
	if b.probes.Add(1) <= b.opts.HalfOpenMaxCalls {
		return true
	}
	b.probes.Add(-1)
	return false
}

func (b *Breaker) release() {
	if b == nil {
		return
	}
	if State(b.state.Load()) == HalfOpen {
		b.probes.Add(-1)
	}
}

func (b *Breaker) trip() {
	b.failures.Store(0)
	b.openUntil.Store(b.now().Add(b.opts.OpenDuration).UnixNano())
	b.state.Store(int32(Open))
}
