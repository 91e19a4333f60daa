package goGate

import (
	"fmt"
	"sort"
	"time"

	"github.com/MrEthical07/goGate/policy"
)

// LintSeverity ranks a [LintWarning].
type LintSeverity uint8

const (
	LintInfo LintSeverity = iota
	LintWarn
	LintHigh
)

func (s LintSeverity) String() string {
	switch s {
	case LintHigh:
		return "high"
	case LintWarn:
		return "warn"
	default:
		return "info"
	}
}

// LintWarning is a valid but questionable setting.
type LintWarning struct {
	Code     string
	Severity LintSeverity
	Message  string
}

// LintResult is the list of warnings produced by [Config.Lint].
type LintResult []LintWarning

// Codes returns the warning codes in order.
func (r LintResult) Codes() []string {
	out := make([]string, len(r))
	for i, w := range r {
		out[i] = w.Code
	}
	return out
}

// AtLeast returns the warnings with severity >= min.
func (r LintResult) AtLeast(min LintSeverity) LintResult {
	var out LintResult
	for _, w := range r {
		if w.Severity >= min {
			out = append(out, w)
		}
	}
	return out
}

// Lint inspects a configuration that already passes Validate and reports
// settings that weaken abuse prevention.
func (c *Config) Lint() LintResult {
	var ws LintResult

	categories := make([]policy.Category, 0, len(c.Policies))
	for category := range c.Policies {
		categories = append(categories, category)
	}
	sort.Slice(categories, func(i, j int) bool { return categories[i] < categories[j] })

	for _, category := range categories {
		p := c.Policies[category]
		if category != policy.CategoryGeneral && p.OnStoreFailure == policy.FailOpen {
			ws = append(ws, LintWarning{
				Code:     "privileged_fail_open",
				Severity: LintHigh,
				Message:  fmt.Sprintf("category %q admits calls while the store is unavailable", category),
			})
		}
	}

	if p, ok := c.Policies[policy.CategoryAuthentication]; ok && p.BanDuration == 0 {
		ws = append(ws, LintWarning{
			Code:     "authentication_no_ban",
			Severity: LintWarn,
			Message:  "authentication category never bans repeat offenders",
		})
	}
	if p, ok := c.Policies[c.Admin.Category]; ok && p.OnStoreFailure == policy.FailOpen {
		ws = append(ws, LintWarning{
			Code:     "admin_fail_open",
			Severity: LintHigh,
			Message:  "administrative surface admits calls while the store is unavailable",
		})
	}
	if !c.Breaker.Enabled {
		ws = append(ws, LintWarning{
			Code:     "breaker_disabled",
			Severity: LintInfo,
			Message:  "every call waits for the full store timeout during an outage",
		})
	}
	if c.Store.OperationTimeout > time.Second {
		ws = append(ws, LintWarning{
			Code:     "store_timeout_long",
			Severity: LintWarn,
			Message:  "store timeout above 1s adds that latency to every call during an outage",
		})
	}
	if c.Bans.EscalationFactor > 1 && c.Bans.MaxBanDuration == 0 {
		ws = append(ws, LintWarning{
			Code:     "ban_escalation_uncapped",
			Severity: LintWarn,
			Message:  "escalated bans have no upper bound",
		})
	}
	if c.JWT.SigningMethod == "hs256" {
		ws = append(ws, LintWarning{
			Code:     "signing_hs256",
			Severity: LintInfo,
			Message:  "hs256 shares the verification key with every issuer",
		})
	}
	if c.JWT.Leeway > time.Minute {
		ws = append(ws, LintWarning{
			Code:     "leeway_large",
			Severity: LintWarn,
			Message:  "JWT leeway above 1m extends the life of expired credentials",
		})
	}
	if !c.Audit.Enabled {
		ws = append(ws, LintWarning{
			Code:     "audit_disabled",
			Severity: LintInfo,
			Message:  "rate-limit, ban and auth events are not emitted",
		})
	}
	return ws
}
