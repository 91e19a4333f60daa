package goGate

import (
	"context"
	"log/slog"
	"strings"

	"github.com/MrEthical07/goGate/internal/rate"
	"github.com/MrEthical07/goGate/policy"
)

// Status reports the remaining budget of identity in category without
// counting a call. Bans are not reflected. An unreachable store yields
// StoreReachable=false and a nil error.
func (e *Engine) Status(ctx context.Context, identity string, category policy.Category) (Status, error) {
	if e == nil || e.closed.Load() {
		return Status{}, ErrEngineNotReady
	}
	p, err := e.policies.Resolve(category)
	if err != nil {
		return Status{}, err
	}
	if strings.TrimSpace(identity) == "" {
		return Status{}, ErrMissingIdentity
	}
	if err := ctx.Err(); err != nil {
		return Status{}, err
	}

	var (
		count  int64
		window rate.Window
	)
	err = e.storeCall(ctx, func() error {
		var err error
		count, window, err = e.limiter.Peek(ctx, string(category), identity, p.Window)
		return err
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Status{}, ctxErr
		}
		e.storeLog.Do(func() {
			e.logger.LogAttrs(ctx, slog.LevelWarn, "status lookup failed",
				slog.String("category", string(category)),
				slog.Any("error", err),
			)
		})
		return Status{
			Limit:          p.MaxCalls,
			Remaining:      0,
			ResetAt:        rate.WindowAt(e.limiter.Now(), p.Window).End,
			StoreReachable: false,
		}, nil
	}

	return Status{
		Limit:          p.MaxCalls,
		Remaining:      max(0, p.MaxCalls-count),
		ResetAt:        window.End,
		StoreReachable: true,
	}, nil
}

// Ping reports whether the shared store answers within the operation
// timeout. It bypasses the circuit breaker.
func (e *Engine) Ping(ctx context.Context) error {
	if e == nil || e.closed.Load() {
		return ErrEngineNotReady
	}
	return e.limiter.Ping(ctx)
}
