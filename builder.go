package goGate

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	internalaudit "github.com/MrEthical07/goGate/internal/audit"
	"github.com/MrEthical07/goGate/internal/bans"
	"github.com/MrEthical07/goGate/internal/breaker"
	internalmetrics "github.com/MrEthical07/goGate/internal/metrics"
	"github.com/MrEthical07/goGate/internal/rate"
	"github.com/MrEthical07/goGate/jwt"
	"github.com/MrEthical07/goGate/policy"
	"github.com/redis/go-redis/v9"
	xrate "golang.org/x/time/rate"
)

// storeLogInterval bounds how often store failures are logged.
const storeLogInterval = 10 * time.Second

// Builder assembles an [Engine]. A Builder can be used for one Build only.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	principals PrincipalProvider
	auditSink  AuditSink
	logger     *slog.Logger
	now        func() time.Time
	required   []policy.Category

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the shared store. Single-node, sentinel and cluster clients
// are all accepted.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithPrincipalProvider sets the lookup used to resolve a verified subject
// to its current role.
func (b *Builder) WithPrincipalProvider(p PrincipalProvider) *Builder {
	b.principals = p
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the structured logger. Defaults to [slog.Default].
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock replaces the wall clock used for window arithmetic.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithRequiredCategories makes Build fail unless every listed category has a
// registered policy. Boundary layers list every category they reference.
func (b *Builder) WithRequiredCategories(categories ...policy.Category) *Builder {
	b.required = append(b.required, categories...)
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and returns a ready [Engine]. It performs
// no store I/O.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.principals == nil {
		return nil, errors.New("principal provider required")
	}

	// -------- POLICY REGISTRY --------
	registry, err := policy.NewRegistryFrom(cfg.Policies)
	if err != nil {
		return nil, err
	}
	if err := registry.Validate(b.required...); err != nil {
		return nil, fmt.Errorf("required categories: %w", err)
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	// -------- TOKENS --------
	tokens, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		PrivateKey:    cloneBytes(cfg.JWT.PrivateKey),
		PublicKey:     cloneBytes(cfg.JWT.PublicKey),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		RequireIAT:    true,
	})
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:     cloneConfig(cfg),
		policies:   registry,
		principals: b.principals,
		tokens:     tokens,
		logger:     logger.With(slog.String("component", "gogate")),
		now:        now,
		storeLog:   &xrate.Sometimes{First: 1, Interval: storeLogInterval},
	}

	engine.limiter = rate.New(b.redis, rate.Config{
		Prefix:  cfg.Store.KeyPrefix,
		Timeout: cfg.Store.OperationTimeout,
	}, now)
	engine.bans = bans.NewManager(b.redis, bans.Config{
		Prefix:           cfg.Store.KeyPrefix,
		Timeout:          cfg.Store.OperationTimeout,
		ScanPageSize:     cfg.Store.ScanPageSize,
		MaxListed:        cfg.Store.MaxListedBans,
		EscalationFactor: cfg.Bans.EscalationFactor,
		MaxBanDuration:   cfg.Bans.MaxBanDuration,
		StrikeMemory:     cfg.Bans.StrikeMemory,
	}, now)
	if cfg.Breaker.Enabled {
		engine.breaker = breaker.New(breaker.Options{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			OpenDuration:     cfg.Breaker.OpenDuration,
			HalfOpenMaxCalls: cfg.Breaker.HalfOpenMaxCalls,
		}, now)
	}
	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
	}, b.auditSink, now)
	engine.metrics = internalmetrics.New(cfg.Metrics)

	b.built = true

	return engine, nil
}
