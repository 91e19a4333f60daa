package goGate

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/goGate/policy"
)

// Config holds all engine settings. Obtain a baseline with [DefaultConfig],
// adjust it and pass it to [Builder.WithConfig].
type Config struct {
	Store    StoreConfig
	Policies map[policy.Category]policy.Policy
	Bans     BanConfig
	Breaker  BreakerConfig
	JWT      JWTConfig
	Admin    AdminConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
}

/*
====================================
STORE CONFIG
====================================
*/

// StoreConfig configures access to the shared counter store.
type StoreConfig struct {
	KeyPrefix        string
	OperationTimeout time.Duration
	ScanPageSize     int64
	MaxListedBans    int
}

/*
====================================
BAN CONFIG
====================================
*/

// BanConfig configures automatic ban escalation. The n-th automatic ban
// within StrikeMemory lasts BanDuration * EscalationFactor^(n-1), capped at
// MaxBanDuration.
type BanConfig struct {
	EscalationFactor int
	MaxBanDuration   time.Duration
	StrikeMemory     time.Duration
}

/*
====================================
BREAKER CONFIG
====================================
*/

// BreakerConfig configures the store circuit breaker.
type BreakerConfig struct {
	Enabled          bool
	FailureThreshold int64
	OpenDuration     time.Duration
	HalfOpenMaxCalls int64
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig configures credential verification. Ed25519 needs PublicKey;
// PrivateKey is only required to issue tokens. HS256 uses PrivateKey for both.
type JWTConfig struct {
	SigningMethod string // "ed25519" (default) or "hs256"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	AccessTTL     time.Duration
}

/*
====================================
ADMIN / AUDIT
====================================
*/

// AdminConfig names the category that gates the administrative surface.
type AdminConfig struct {
	Category policy.Category
}

// AuditConfig controls the asynchronous audit dispatcher. Events that do not
// fit BufferSize are dropped.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the baseline configuration with the built-in
// category policies.
func DefaultConfig() Config {
	return Config{
		Store: StoreConfig{
			KeyPrefix:        "gate",
			OperationTimeout: 50 * time.Millisecond,
			ScanPageSize:     100,
			MaxListedBans:    1000,
		},
		Policies: policy.DefaultPolicies(),
		Bans: BanConfig{
			EscalationFactor: 2,
			MaxBanDuration:   24 * time.Hour,
			StrikeMemory:     24 * time.Hour,
		},
		Breaker: BreakerConfig{
			Enabled:          true,
			FailureThreshold: 5,
			OpenDuration:     time.Second,
			HalfOpenMaxCalls: 1,
		},
		JWT: JWTConfig{
			SigningMethod: "ed25519",
			Leeway:        30 * time.Second,
			AccessTTL:     5 * time.Minute,
		},
		Admin: AdminConfig{
			Category: policy.CategoryBanAdmin,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	if cfg.Policies != nil {
		out.Policies = make(map[policy.Category]policy.Policy, len(cfg.Policies))
		for c, p := range cfg.Policies {
			out.Policies[c] = p
		}
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	// Store
	if strings.TrimSpace(c.Store.KeyPrefix) == "" {
		return errors.New("Store KeyPrefix must not be empty")
	}
	if strings.ContainsAny(c.Store.KeyPrefix, "*?[]") {
		return errors.New("Store KeyPrefix must not contain glob characters")
	}
	if c.Store.OperationTimeout <= 0 {
		return errors.New("Store OperationTimeout must be > 0")
	}
	if c.Store.ScanPageSize <= 0 {
		return errors.New("Store ScanPageSize must be > 0")
	}
	if c.Store.MaxListedBans <= 0 {
		return errors.New("Store MaxListedBans must be > 0")
	}

	// Policies
	if len(c.Policies) == 0 {
		return errors.New("at least one category policy is required")
	}
	for category, p := range c.Policies {
		if strings.TrimSpace(string(category)) == "" {
			return errors.New("policy category must not be empty")
		}
		if strings.ContainsAny(string(category), ":*?[]") {
			return fmt.Errorf("policy category %q contains reserved characters", category)
		}
		if err := p.Validate(); err != nil {
			return fmt.Errorf("policy %q: %w", category, err)
		}
	}

	// Bans
	if c.Bans.EscalationFactor < 1 {
		return errors.New("Bans EscalationFactor must be >= 1")
	}
	if c.Bans.MaxBanDuration < 0 {
		return errors.New("Bans MaxBanDuration must be >= 0")
	}
	if c.Bans.StrikeMemory <= 0 {
		return errors.New("Bans StrikeMemory must be > 0")
	}

	// Breaker
	if c.Breaker.Enabled {
		if c.Breaker.FailureThreshold <= 0 {
			return errors.New("Breaker FailureThreshold must be > 0")
		}
		if c.Breaker.OpenDuration <= 0 {
			return errors.New("Breaker OpenDuration must be > 0")
		}
		if c.Breaker.HalfOpenMaxCalls <= 0 {
			return errors.New("Breaker HalfOpenMaxCalls must be > 0")
		}
	}

	// JWT
	switch c.JWT.SigningMethod {
	case "ed25519":
		if len(c.JWT.PublicKey) == 0 {
			return errors.New("ed25519 requires PublicKey")
		}
	case "hs256":
		if len(c.JWT.PrivateKey) == 0 {
			return errors.New("hs256 requires PrivateKey")
		}
	default:
		return errors.New("unsupported JWT signing method")
	}
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be between 0 and 2m")
	}
	if c.JWT.Audience != "" && strings.TrimSpace(c.JWT.Audience) == "" {
		return errors.New("JWT Audience must not be blank")
	}

	// Admin
	if c.Admin.Category == "" {
		return errors.New("Admin Category must be set")
	}
	if _, ok := c.Policies[c.Admin.Category]; !ok {
		return fmt.Errorf("Admin Category %q has no policy", c.Admin.Category)
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}

	return nil
}
