package goGate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MrEthical07/goGate/policy"
)

// Resolve verifies credential and returns the current principal. It never
// touches rate limits. The provider's role overrides the role in the token.
func (e *Engine) Resolve(ctx context.Context, credential string) (Principal, error) {
	if e == nil || e.closed.Load() {
		return Principal{}, ErrEngineNotReady
	}
	if err := ctx.Err(); err != nil {
		return Principal{}, err
	}

	credential = strings.TrimSpace(credential)
	if credential == "" {
		return Principal{}, unauthenticated(ErrMissingCredential)
	}

	claims, err := e.tokens.ParseAccess(credential)
	if err != nil {
		e.logger.LogAttrs(ctx, slog.LevelDebug, "credential rejected", slog.Any("error", err))
		return Principal{}, unauthenticated(ErrInvalidCredential)
	}

	p, err := e.principals.GetPrincipal(ctx, claims.Subject)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Principal{}, ctxErr
		}
		if errors.Is(err, ErrPrincipalNotFound) {
			return Principal{}, unauthenticated(ErrPrincipalNotFound)
		}
		return Principal{}, fmt.Errorf("principal lookup: %w", err)
	}
	if p.SubjectID == "" {
		p.SubjectID = claims.Subject
	}
	if !p.Role.Valid() {
		return Principal{}, unauthenticated(ErrInvalidCredential)
	}
	return p, nil
}

// RequireRole resolves credential and checks that its role grants minRole.
func (e *Engine) RequireRole(ctx context.Context, credential string, minRole Role) (Principal, error) {
	return e.requireRole(ctx, credential, minRole, "", "")
}

// RequireAdmin is RequireRole with [RoleAdmin].
func (e *Engine) RequireAdmin(ctx context.Context, credential string) (Principal, error) {
	return e.RequireRole(ctx, credential, RoleAdmin)
}

// RequireSuperAdmin is RequireRole with [RoleSuperAdmin].
func (e *Engine) RequireSuperAdmin(ctx context.Context, credential string) (Principal, error) {
	return e.RequireRole(ctx, credential, RoleSuperAdmin)
}

func (e *Engine) requireRole(ctx context.Context, credential string, minRole Role, identity string, category policy.Category) (Principal, error) {
	p, err := e.Resolve(ctx, credential)
	if err != nil {
		var authErr *AuthError
		if errors.As(err, &authErr) {
			e.metrics.Inc(MetricUnauthenticated)
			e.emitAudit(ctx, AuditEvent{
				EventType: auditEventAuthDenied,
				Identity:  identity,
				Category:  string(category),
				Reason:    reasonCode(err),
				Metadata:  map[string]string{"min_role": minRole.String()},
			})
		}
		return Principal{}, err
	}

	if !p.Role.AtLeast(minRole) {
		e.metrics.Inc(MetricForbidden)
		e.emitAudit(ctx, AuditEvent{
			EventType: auditEventAuthDenied,
			Identity:  identity,
			Category:  string(category),
			SubjectID: p.SubjectID,
			Reason:    reasonCode(ErrInsufficientRole),
			Metadata:  map[string]string{"min_role": minRole.String(), "role": p.Role.String()},
		})
		return Principal{}, forbidden(ErrInsufficientRole)
	}
	return p, nil
}
