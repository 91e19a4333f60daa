package goGate

import (
	"time"

	"github.com/MrEthical07/goGate/policy"
)

// Report is a point-in-time summary of the engine's effective settings. It
// contains no identities or counters.
type Report struct {
	KeyPrefix        string
	StoreTimeout     time.Duration
	SigningAlgorithm string
	TokenIssuing     bool
	AdminCategory    policy.Category
	PoliciesFrozen   bool
	Categories       []CategoryReport
	BreakerEnabled   bool
	BreakerState     string
	AuditEnabled     bool
	AuditDropped     uint64
	MetricsEnabled   bool
	LintCodes        []string
}

// CategoryReport describes one registered category.
type CategoryReport struct {
	Category       policy.Category
	Window         time.Duration
	WindowSeconds  int64
	MaxCalls       int64
	BanDuration    time.Duration
	OnStoreFailure string
}

// Report summarizes the engine configuration for operators.
func (e *Engine) Report() Report {
	if e == nil {
		return Report{}
	}

	out := make([]CategoryReport, 0, e.policies.Count())
	for _, category := range e.policies.Categories() {
		p, err := e.policies.Resolve(category)
		if err != nil {
			continue
		}
		out = append(out, CategoryReport{
			Category:       category,
			Window:         p.Window,
			WindowSeconds:  p.WindowSeconds(),
			MaxCalls:       p.MaxCalls,
			BanDuration:    p.BanDuration,
			OnStoreFailure: p.OnStoreFailure.String(),
		})
	}

	return Report{
		KeyPrefix:        e.config.Store.KeyPrefix,
		StoreTimeout:     e.config.Store.OperationTimeout,
		SigningAlgorithm: e.config.JWT.SigningMethod,
		TokenIssuing:     e.tokens != nil && e.tokens.CanSign(),
		AdminCategory:    e.config.Admin.Category,
		PoliciesFrozen:   e.policies.Frozen(),
		Categories:       out,
		BreakerEnabled:   e.breaker != nil,
		BreakerState:     e.breaker.State().String(),
		AuditEnabled:     e.audit != nil,
		AuditDropped:     e.AuditDropped(),
		MetricsEnabled:   e.metrics.Enabled(),
		LintCodes:        e.config.Lint().Codes(),
	}
}
