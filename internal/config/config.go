// Package config loads the gated daemon settings from the environment, with
// optional .env support.
package config

import (
	"crypto/rand"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	goGate "github.com/MrEthical07/goGate"
	"github.com/MrEthical07/goGate/policy"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr string
	Redis    RedisConfig
	Gate     goGate.Config

	Principals map[string]goGate.Role
	TrustXFF   bool
	LogLevel   slog.Level
	AuditLog   bool

	// EphemeralSecret is set when GATE_JWT_SECRET was empty and a random
	// secret was generated. Tokens do not survive a restart.
	EphemeralSecret bool
}

// RedisConfig selects the shared store. An empty Addr runs an in-process
// miniredis.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Load reads .env when present and then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		HTTPAddr: getEnv("GATE_HTTP_ADDR", ":8080"),
		Gate:     goGate.DefaultConfig(),
	}

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid REDIS_DB: %w", err)
	}
	cfg.Redis = RedisConfig{
		Addr:     strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       redisDB,
	}

	cfg.Gate.Store.KeyPrefix = getEnv("GATE_KEY_PREFIX", cfg.Gate.Store.KeyPrefix)
	timeoutMS, err := strconv.Atoi(getEnv("GATE_STORE_TIMEOUT_MS", "50"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid GATE_STORE_TIMEOUT_MS: %w", err)
	}
	cfg.Gate.Store.OperationTimeout = time.Duration(timeoutMS) * time.Millisecond

	secret := os.Getenv("GATE_JWT_SECRET")
	if secret == "" {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return Config{}, fmt.Errorf("generate jwt secret: %w", err)
		}
		secret = string(buf)
		cfg.EphemeralSecret = true
	}
	cfg.Gate.JWT.SigningMethod = "hs256"
	cfg.Gate.JWT.PrivateKey = []byte(secret)
	cfg.Gate.JWT.Issuer = getEnv("GATE_JWT_ISSUER", "gated")

	policies, err := ParsePolicies(os.Getenv("GATE_POLICIES"))
	if err != nil {
		return Config{}, err
	}
	for category, p := range policies {
		cfg.Gate.Policies[category] = p
	}
	if admin := strings.TrimSpace(os.Getenv("GATE_ADMIN_CATEGORY")); admin != "" {
		cfg.Gate.Admin.Category = policy.Category(admin)
	}

	cfg.Principals, err = ParsePrincipals(os.Getenv("GATE_PRINCIPALS"))
	if err != nil {
		return Config{}, err
	}

	if cfg.TrustXFF, err = getBool("GATE_TRUST_XFF", false); err != nil {
		return Config{}, err
	}
	if cfg.AuditLog, err = getBool("GATE_AUDIT_LOG", true); err != nil {
		return Config{}, err
	}
	cfg.Gate.Audit.Enabled = cfg.AuditLog
	if cfg.Gate.Metrics.Enabled, err = getBool("GATE_METRICS", true); err != nil {
		return Config{}, err
	}
	cfg.Gate.Metrics.EnableLatencyHistograms = cfg.Gate.Metrics.Enabled

	if err := cfg.LogLevel.UnmarshalText([]byte(getEnv("GATE_LOG_LEVEL", "info"))); err != nil {
		return Config{}, fmt.Errorf("invalid GATE_LOG_LEVEL: %w", err)
	}

	if err := cfg.Gate.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ParsePolicies parses CATEGORY:WINDOW_SECONDS:MAX_CALLS:BAN_SECONDS:open|closed
// entries separated by commas. The failure mode may be omitted and defaults
// to closed.
func ParsePolicies(raw string) (map[policy.Category]policy.Policy, error) {
	out := make(map[policy.Category]policy.Policy)
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return out, nil
	}

	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		parts := strings.Split(item, ":")
		if len(parts) != 4 && len(parts) != 5 {
			return nil, fmt.Errorf("policy must follow CATEGORY:WINDOW_SECONDS:MAX_CALLS:BAN_SECONDS[:open|closed]: %s", item)
		}

		category := policy.Category(strings.TrimSpace(parts[0]))
		if category == "" {
			return nil, fmt.Errorf("policy without category: %s", item)
		}
		window, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			return nil, fmt.Errorf("invalid window seconds for %s: %w", category, err)
		}
		maxCalls, err := strconv.ParseInt(strings.TrimSpace(parts[2]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid max calls for %s: %w", category, err)
		}
		ban, err := strconv.Atoi(strings.TrimSpace(parts[3]))
		if err != nil {
			return nil, fmt.Errorf("invalid ban seconds for %s: %w", category, err)
		}
		mode := policy.FailClosed
		if len(parts) == 5 {
			if mode, err = policy.ParseFailureMode(strings.TrimSpace(parts[4])); err != nil {
				return nil, fmt.Errorf("policy %s: %w", category, err)
			}
		}

		p := policy.Policy{
			Window:         time.Duration(window) * time.Second,
			MaxCalls:       maxCalls,
			BanDuration:    time.Duration(ban) * time.Second,
			OnStoreFailure: mode,
		}
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("policy %s: %w", category, err)
		}
		out[category] = p
	}
	return out, nil
}

// ParsePrincipals parses SUBJECT:ROLE entries separated by commas.
func ParsePrincipals(raw string) (map[string]goGate.Role, error) {
	out := make(map[string]goGate.Role)
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return out, nil
	}

	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		subject, roleName, ok := strings.Cut(item, ":")
		subject = strings.TrimSpace(subject)
		if !ok || subject == "" {
			return nil, fmt.Errorf("principal must follow SUBJECT:ROLE: %s", item)
		}
		role, err := goGate.ParseRole(roleName)
		if err != nil {
			return nil, fmt.Errorf("principal %s: %w", subject, err)
		}
		out[subject] = role
	}
	return out, nil
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getBool(key string, fallback bool) (bool, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}
