package goGate

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/MrEthical07/goGate/internal/bans"
)

// authorizeAdmin gates every administrative operation through Guard with the
// admin category and RoleSuperAdmin.
func (e *Engine) authorizeAdmin(ctx context.Context, caller Caller) (Principal, error) {
	adm, err := e.Guard(ctx, GuardRequest{
		Identity:   caller.Identity,
		Category:   e.config.Admin.Category,
		Credential: caller.Credential,
		MinRole:    RoleSuperAdmin,
	})
	if err != nil {
		return Principal{}, err
	}
	return *adm.Principal, nil
}

// ListBans returns the active bans, ordered by identity and bounded by
// Store.MaxListedBans.
func (e *Engine) ListBans(ctx context.Context, caller Caller) ([]BanEntry, error) {
	if _, err := e.authorizeAdmin(ctx, caller); err != nil {
		return nil, err
	}

	var entries []bans.Entry
	err := e.storeCall(ctx, func() error {
		var err error
		entries, err = e.bans.List(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([]BanEntry, len(entries))
	for i, entry := range entries {
		out[i] = BanEntry{
			Identity:   entry.Identity,
			Indefinite: entry.Indefinite,
			ExpiresAt:  entry.ExpiresAt,
		}
	}
	return out, nil
}

// ClearBan lifts the ban of identity, forgets its strikes and resets its
// current window in every category. It reports whether a ban existed.
func (e *Engine) ClearBan(ctx context.Context, caller Caller, identity string) (bool, error) {
	principal, err := e.authorizeAdmin(ctx, caller)
	if err != nil {
		return false, err
	}
	if strings.TrimSpace(identity) == "" {
		return false, ErrMissingIdentity
	}

	var existed bool
	err = e.storeCall(ctx, func() error {
		var err error
		existed, err = e.bans.Clear(ctx, identity)
		return err
	})
	if err != nil {
		return false, err
	}

	windows := make(map[string]time.Duration)
	for _, category := range e.policies.Categories() {
		p, _ := e.policies.Resolve(category)
		windows[string(category)] = p.Window
	}
	err = e.storeCall(ctx, func() error {
		return e.limiter.Reset(ctx, identity, windows)
	})
	if err != nil {
		return existed, err
	}

	if existed {
		e.metrics.Inc(MetricBanCleared)
	}
	e.emitAudit(ctx, AuditEvent{
		EventType: auditEventBanCleared,
		Identity:  identity,
		SubjectID: principal.SubjectID,
		Reason:    auditReasonManual,
	})
	e.logger.LogAttrs(ctx, slog.LevelInfo, "ban cleared",
		slog.String("identity", identity),
		slog.String("by", principal.SubjectID),
		slog.Bool("existed", existed),
	)
	return existed, nil
}

// ClearAllBans lifts every ban and returns how many were removed. Window
// counters are left alone. A failed call may have cleared some bans and can
// be retried.
func (e *Engine) ClearAllBans(ctx context.Context, caller Caller) (int, error) {
	principal, err := e.authorizeAdmin(ctx, caller)
	if err != nil {
		return 0, err
	}

	var cleared int
	err = e.storeCall(ctx, func() error {
		var err error
		cleared, err = e.bans.ClearAll(ctx)
		return err
	})

	for i := 0; i < cleared; i++ {
		e.metrics.Inc(MetricBanCleared)
	}
	e.emitAudit(ctx, AuditEvent{
		EventType: auditEventBanCleared,
		SubjectID: principal.SubjectID,
		Reason:    auditReasonBulk,
		Metadata:  map[string]string{"cleared": strconv.Itoa(cleared)},
	})
	e.logger.LogAttrs(ctx, slog.LevelInfo, "all bans cleared",
		slog.String("by", principal.SubjectID),
		slog.Int("cleared", cleared),
	)
	return cleared, err
}

// BanIdentity bans identity for d, or indefinitely when d <= 0. An existing
// longer ban is kept.
func (e *Engine) BanIdentity(ctx context.Context, caller Caller, identity string, d time.Duration) (BanEntry, error) {
	principal, err := e.authorizeAdmin(ctx, caller)
	if err != nil {
		return BanEntry{}, err
	}
	if strings.TrimSpace(identity) == "" {
		return BanEntry{}, ErrMissingIdentity
	}

	var st bans.State
	err = e.storeCall(ctx, func() error {
		var err error
		st, err = e.bans.Ban(ctx, identity, d)
		return err
	})
	if err != nil {
		return BanEntry{}, err
	}

	e.metrics.Inc(MetricBanIssued)
	e.emitAudit(ctx, AuditEvent{
		EventType: auditEventBanned,
		Identity:  identity,
		SubjectID: principal.SubjectID,
		Reason:    auditReasonManual,
		Metadata:  banMetadata(st, d),
	})
	e.logger.LogAttrs(ctx, slog.LevelInfo, "identity banned",
		slog.String("identity", identity),
		slog.String("by", principal.SubjectID),
		slog.Duration("requested", d),
		slog.Bool("indefinite", st.Indefinite),
	)
	return BanEntry{Identity: identity, Indefinite: st.Indefinite, ExpiresAt: st.ExpiresAt}, nil
}
