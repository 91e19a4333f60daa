package goGate

import (
	"context"
	"strconv"
	"time"

	"github.com/MrEthical07/goGate/internal/bans"
)

const (
	auditEventRateLimited      = "rate_limited"
	auditEventBanned           = "banned"
	auditEventBanCleared       = "ban_cleared"
	auditEventAuthDenied       = "auth_denied"
	auditEventStoreUnavailable = "store_unavailable"
)

const (
	auditReasonWindowExceeded = "window_exceeded"
	auditReasonBanActive      = "ban_active"
	auditReasonAutomatic      = "automatic"
	auditReasonManual         = "manual"
	auditReasonBulk           = "bulk"
)

func (e *Engine) emitAudit(ctx context.Context, event AuditEvent) {
	if e == nil || e.audit == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = e.now()
	}
	e.audit.Emit(ctx, event)
}

func banMetadata(st bans.State, requested time.Duration) map[string]string {
	md := map[string]string{
		"indefinite": strconv.FormatBool(st.Indefinite),
	}
	if requested > 0 {
		md["requested_seconds"] = strconv.FormatInt(int64(requested/time.Second), 10)
	}
	if !st.Indefinite {
		md["expires_at_ms"] = strconv.FormatInt(st.ExpiresAt.UnixMilli(), 10)
	}
	return md
}
