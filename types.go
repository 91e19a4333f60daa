package goGate

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	internalaudit "github.com/MrEthical07/goGate/internal/audit"
	internalmetrics "github.com/MrEthical07/goGate/internal/metrics"
	"github.com/MrEthical07/goGate/policy"
)

// Role is an ordered authorization level. Higher values include the
// privileges of lower ones.
type Role uint8

const (
	RoleAnonymous Role = iota
	RoleUser
	RoleAdmin
	RoleSuperAdmin
)

var roleNames = [...]string{
	RoleAnonymous:  "anonymous",
	RoleUser:       "user",
	RoleAdmin:      "admin",
	RoleSuperAdmin: "super_admin",
}

func (r Role) String() string {
	if int(r) < len(roleNames) {
		return roleNames[r]
	}
	return fmt.Sprintf("role(%d)", uint8(r))
}

// AtLeast reports whether r grants min.
func (r Role) AtLeast(min Role) bool {
	return r >= min
}

// Valid reports whether r is one of the defined roles.
func (r Role) Valid() bool {
	return r <= RoleSuperAdmin
}

// ParseRole parses a role name as produced by [Role.String]. "superadmin" and
// "super-admin" are accepted as aliases.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "anonymous", "":
		return RoleAnonymous, nil
	case "user":
		return RoleUser, nil
	case "admin":
		return RoleAdmin, nil
	case "super_admin", "superadmin", "super-admin":
		return RoleSuperAdmin, nil
	default:
		return RoleAnonymous, fmt.Errorf("unknown role %q", s)
	}
}

// Principal is a verified caller.
type Principal struct {
	SubjectID string
	Role      Role
}

// PrincipalProvider looks up the current role of a verified subject. It
// returns [ErrPrincipalNotFound] for unknown subjects, which resolves to an
// unauthenticated [AuthError]. Any other error is returned wrapped as a
// lookup failure, not an AuthError.
type PrincipalProvider interface {
	GetPrincipal(ctx context.Context, subjectID string) (Principal, error)
}

// StaticPrincipalProvider is an in-memory [PrincipalProvider]. Roles may be
// changed at runtime with Set and Remove.
type StaticPrincipalProvider struct {
	mu    sync.RWMutex
	roles map[string]Role
}

// NewStaticPrincipalProvider copies roles into a new provider.
func NewStaticPrincipalProvider(roles map[string]Role) *StaticPrincipalProvider {
	p := &StaticPrincipalProvider{roles: make(map[string]Role, len(roles))}
	for subject, role := range roles {
		p.roles[subject] = role
	}
	return p
}

func (p *StaticPrincipalProvider) GetPrincipal(_ context.Context, subjectID string) (Principal, error) {
	p.mu.RLock()
	role, ok := p.roles[subjectID]
	p.mu.RUnlock()
	if !ok {
		return Principal{}, ErrPrincipalNotFound
	}
	return Principal{SubjectID: subjectID, Role: role}, nil
}

func (p *StaticPrincipalProvider) Set(subjectID string, role Role) {
	p.mu.Lock()
	p.roles[subjectID] = role
	p.mu.Unlock()
}

func (p *StaticPrincipalProvider) Remove(subjectID string) {
	p.mu.Lock()
	delete(p.roles, subjectID)
	p.mu.Unlock()
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed   bool
	Limit     int64
	Remaining int64
	ResetAt   time.Time
	// Degraded is set when the store was unreachable and the category
	// fails open.
	Degraded bool
}

// ResetAtMillis returns ResetAt as epoch milliseconds.
func (d Decision) ResetAtMillis() int64 {
	return d.ResetAt.UnixMilli()
}

// GuardRequest is the input of [Engine.Guard].
type GuardRequest struct {
	Identity   string
	Category   policy.Category
	Credential string
	MinRole    Role
}

// Admission is the result of a successful [Engine.Guard]. Principal is set
// only when a role was required.
type Admission struct {
	Decision  Decision
	Principal *Principal
}

// Caller identifies the requester of an administrative operation.
type Caller struct {
	Identity   string
	Credential string
}

// Status is a read-only view of an identity's budget for a category. It
// reflects the window counter only.
type Status struct {
	Limit          int64
	Remaining      int64
	ResetAt        time.Time
	StoreReachable bool
}

// BanEntry is one active ban as returned by [Engine.ListBans].
type BanEntry struct {
	Identity   string
	Indefinite bool
	ExpiresAt  time.Time
}

// AuditEvent is a structured audit record emitted by the engine.
type AuditEvent = internalaudit.Event

// AuditSink receives [AuditEvent] values from the engine's audit dispatcher.
type AuditSink = internalaudit.Sink

// NoOpSink is an [AuditSink] that discards all events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based [AuditSink].
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink writes JSON-encoded events to an [io.Writer].
type JSONWriterSink = internalaudit.JSONWriterSink

// SlogSink logs events through a [*slog.Logger].
type SlogSink = internalaudit.SlogSink

func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

func NewSlogSink(logger *slog.Logger, level slog.Level) *SlogSink {
	return internalaudit.NewSlogSink(logger, level)
}

// MetricID identifies a counter or histogram in the in-process metrics.
type MetricID = internalmetrics.MetricID

const (
	MetricAdmitted        = internalmetrics.MetricAdmitted
	MetricRateLimited     = internalmetrics.MetricRateLimited
	MetricBanRejected     = internalmetrics.MetricBanRejected
	MetricBanIssued       = internalmetrics.MetricBanIssued
	MetricBanCleared      = internalmetrics.MetricBanCleared
	MetricUnauthenticated = internalmetrics.MetricUnauthenticated
	MetricForbidden       = internalmetrics.MetricForbidden
	MetricStoreFailOpen   = internalmetrics.MetricStoreFailOpen
	MetricStoreFailClosed = internalmetrics.MetricStoreFailClosed
	MetricBreakerRejected = internalmetrics.MetricBreakerRejected
	MetricGuardLatency    = internalmetrics.MetricGuardLatency
)

// MetricsSnapshot is a point-in-time copy of the engine metrics.
type MetricsSnapshot = internalmetrics.Snapshot

// MetricsConfig toggles metric collection.
type MetricsConfig = internalmetrics.Config
