package goGate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	internalaudit "github.com/MrEthical07/goGate/internal/audit"
	"github.com/MrEthical07/goGate/internal/bans"
	"github.com/MrEthical07/goGate/internal/breaker"
	internalmetrics "github.com/MrEthical07/goGate/internal/metrics"
	"github.com/MrEthical07/goGate/internal/rate"
	"github.com/MrEthical07/goGate/jwt"
	"github.com/MrEthical07/goGate/policy"
	xrate "golang.org/x/time/rate"
)

// Engine is the admission gate. It holds no per-call state; all counters and
// bans live in the shared store. Methods are safe for concurrent use.
type Engine struct {
	config     Config
	policies   *policy.Registry
	limiter    *rate.Limiter
	bans       *bans.Manager
	breaker    *breaker.Breaker
	tokens     *jwt.Manager
	principals PrincipalProvider
	audit      *internalaudit.Dispatcher
	metrics    *internalmetrics.Metrics
	logger     *slog.Logger
	storeLog   *xrate.Sometimes
	now        func() time.Time
	closed     atomic.Bool
}

// Close flushes the audit dispatcher. The Redis client is owned by the caller
// and stays open.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.closed.Store(true)
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped returns how many audit events were dropped under backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a copy of the engine metrics.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Categories returns the registered categories in sorted order.
func (e *Engine) Categories() []policy.Category {
	if e == nil {
		return nil
	}
	return e.policies.Categories()
}

// Policy returns the policy of category.
func (e *Engine) Policy(category policy.Category) (policy.Policy, error) {
	if e == nil {
		return policy.Policy{}, ErrEngineNotReady
	}
	return e.policies.Resolve(category)
}

// ValidateCategories fails unless every category has a registered policy.
// Boundary layers call it at startup for every category they reference.
func (e *Engine) ValidateCategories(categories ...policy.Category) error {
	if e == nil {
		return ErrEngineNotReady
	}
	return e.policies.Validate(categories...)
}

// Admit decides whether identity may perform one call in category. A denied
// call returns a Decision with Allowed=false and a nil error. Errors are
// reserved for unknown categories, caller cancellation and store failures of
// fail-closed categories.
func (e *Engine) Admit(ctx context.Context, identity string, category policy.Category) (Decision, error) {
	if e == nil || e.closed.Load() {
		return Decision{}, ErrEngineNotReady
	}
	p, err := e.policies.Resolve(category)
	if err != nil {
		return Decision{}, err
	}
	if strings.TrimSpace(identity) == "" {
		return Decision{}, ErrMissingIdentity
	}
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}

	d, err := e.admit(ctx, identity, category, p)
	if err == nil {
		return d, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Decision{}, ctxErr
	}
	return e.onStoreFailure(ctx, identity, category, p, err)
}

func (e *Engine) admit(ctx context.Context, identity string, category policy.Category, p policy.Policy) (Decision, error) {
	var ban bans.State
	err := e.storeCall(ctx, func() error {
		var err error
		ban, err = e.bans.IsBanned(ctx, identity)
		return err
	})
	if err != nil {
		return Decision{}, err
	}

	if ban.Banned {
		window := rate.WindowAt(e.limiter.Now(), p.Window)
		resetAt := ban.ExpiresAt
		if ban.Indefinite {
			resetAt = window.End
		}
		e.metrics.Inc(MetricBanRejected)
		e.emitAudit(ctx, AuditEvent{
			EventType: auditEventRateLimited,
			Identity:  identity,
			Category:  string(category),
			Reason:    auditReasonBanActive,
		})
		return Decision{Limit: p.MaxCalls, ResetAt: resetAt}, nil
	}

	var (
		count  int64
		window rate.Window
	)
	err = e.storeCall(ctx, func() error {
		var err error
		count, window, err = e.limiter.Increment(ctx, string(category), identity, p.Window)
		return err
	})
	if err != nil {
		return Decision{}, err
	}

	if count <= p.MaxCalls {
		e.metrics.Inc(MetricAdmitted)
		return Decision{
			Allowed:   true,
			Limit:     p.MaxCalls,
			Remaining: p.MaxCalls - count,
			ResetAt:   window.End,
		}, nil
	}

	e.metrics.Inc(MetricRateLimited)
	e.emitAudit(ctx, AuditEvent{
		EventType: auditEventRateLimited,
		Identity:  identity,
		Category:  string(category),
		Reason:    auditReasonWindowExceeded,
		Metadata:  map[string]string{"count": fmt.Sprint(count), "limit": fmt.Sprint(p.MaxCalls)},
	})

	// Every over-limit call bans. Only the call that crosses the limit
	// records a strike; later ones reach here only after a shorter ban
	// expired inside the window, and extend it by BanDuration.
	if p.BanDuration > 0 {
		e.escalate(ctx, identity, category, p, count == p.MaxCalls+1)
	}

	return Decision{Limit: p.MaxCalls, ResetAt: window.End}, nil
}

// escalate bans identity, recording a strike when strike is set. Failures
// are logged and never turn the denial into an error.
func (e *Engine) escalate(ctx context.Context, identity string, category policy.Category, p policy.Policy, strike bool) {
	var (
		st bans.State
		d  = p.BanDuration
	)
	err := e.storeCall(ctx, func() error {
		var err error
		if strike {
			st, d, err = e.bans.Escalate(ctx, identity, p.BanDuration)
			return err
		}
		st, err = e.bans.Extend(ctx, identity, p.BanDuration)
		return err
	})
	if err != nil {
		if ctx.Err() == nil {
			e.logger.LogAttrs(ctx, slog.LevelError, "ban escalation failed",
				slog.String("identity", identity),
				slog.String("category", string(category)),
				slog.Any("error", err),
			)
		}
		return
	}

	e.metrics.Inc(MetricBanIssued)
	e.emitAudit(ctx, AuditEvent{
		EventType: auditEventBanned,
		Identity:  identity,
		Category:  string(category),
		Reason:    auditReasonAutomatic,
		Metadata:  banMetadata(st, d),
	})
	e.logger.LogAttrs(ctx, slog.LevelInfo, "identity banned",
		slog.String("identity", identity),
		slog.String("category", string(category)),
		slog.Duration("requested", d),
		slog.Time("expires_at", st.ExpiresAt),
		slog.Bool("indefinite", st.Indefinite),
	)
}

func (e *Engine) onStoreFailure(ctx context.Context, identity string, category policy.Category, p policy.Policy, cause error) (Decision, error) {
	mode := p.OnStoreFailure
	e.emitAudit(ctx, AuditEvent{
		EventType: auditEventStoreUnavailable,
		Identity:  identity,
		Category:  string(category),
		Reason:    mode.String(),
	})
	e.storeLog.Do(func() {
		e.logger.LogAttrs(ctx, slog.LevelWarn, "shared store unavailable",
			slog.String("category", string(category)),
			slog.String("failure_mode", mode.String()),
			slog.Any("error", cause),
		)
	})

	if mode == policy.FailOpen {
		e.metrics.Inc(MetricStoreFailOpen)
		return Decision{
			Allowed:  true,
			Limit:    p.MaxCalls,
			ResetAt:  rate.WindowAt(e.limiter.Now(), p.Window).End,
			Degraded: true,
		}, nil
	}

	e.metrics.Inc(MetricStoreFailClosed)
	if errors.Is(cause, ErrStoreUnavailable) {
		return Decision{}, cause
	}
	return Decision{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, cause)
}

// Guard is the single check a protected operation performs before running.
// The rate limit is checked first; credentials are resolved only for
// admitted calls with MinRole above RoleAnonymous.
func (e *Engine) Guard(ctx context.Context, req GuardRequest) (Admission, error) {
	start := time.Now()
	defer func() {
		e.metrics.Observe(MetricGuardLatency, time.Since(start))
	}()

	d, err := e.Admit(ctx, req.Identity, req.Category)
	if err != nil {
		return Admission{}, err
	}
	if !d.Allowed {
		return Admission{Decision: d}, &RateLimitError{
			Limit:     d.Limit,
			Remaining: d.Remaining,
			ResetAt:   d.ResetAt,
		}
	}
	if req.MinRole == RoleAnonymous {
		return Admission{Decision: d}, nil
	}

	p, err := e.requireRole(ctx, req.Credential, req.MinRole, req.Identity, req.Category)
	if err != nil {
		return Admission{Decision: d}, err
	}
	return Admission{Decision: d, Principal: &p}, nil
}

// IssueAccessToken signs a credential for subject. It requires a configured
// private key.
func (e *Engine) IssueAccessToken(subject string, role Role) (string, error) {
	if e == nil || e.tokens == nil {
		return "", ErrEngineNotReady
	}
	if !e.tokens.CanSign() {
		return "", ErrTokenIssuerDisabled
	}
	return e.tokens.CreateAccess(subject, role.String())
}

// storeCall runs fn through the circuit breaker. Caller cancellation is not
// counted as a store failure.
func (e *Engine) storeCall(ctx context.Context, fn func() error) error {
	err := e.breaker.Do(fn, func(error) bool { return ctx.Err() != nil })
	if errors.Is(err, breaker.ErrOpen) {
		e.metrics.Inc(MetricBreakerRejected)
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return err
}
