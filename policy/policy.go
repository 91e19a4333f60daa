package policy

import (
	"errors"
	"fmt"
	"time"
)

// Category names a class of protected operation. Every category owns an
// independent call budget.
type Category string

const (
	// CategoryGeneral covers bulk read traffic.
	CategoryGeneral Category = "general"
	// CategoryPrivilegedMutation covers administrative writes.
	CategoryPrivilegedMutation Category = "privileged-mutation"
	// CategoryAuthentication covers login and credential exchange attempts.
	CategoryAuthentication Category = "authentication"
	// CategoryBanAdmin gates the ban administration surface itself.
	CategoryBanAdmin Category = "ban-admin"
)

// FailureMode selects the decision taken when the counter store cannot be
// reached.
type FailureMode uint8

const (
	// FailClosed denies the call.
	FailClosed FailureMode = iota
	// FailOpen admits the call and records a degraded decision.
	FailOpen
)

// String returns "open" or "closed".
func (m FailureMode) String() string {
	if m == FailOpen {
		return "open"
	}
	return "closed"
}

// ParseFailureMode accepts "open" or "closed".
func ParseFailureMode(s string) (FailureMode, error) {
	switch s {
	case "open":
		return FailOpen, nil
	case "closed":
		return FailClosed, nil
	default:
		return FailClosed, fmt.Errorf("unknown failure mode %q", s)
	}
}

// Policy is the limit configuration of one category.
type Policy struct {
	// Window is the fixed window length. Whole seconds, at least one.
	Window time.Duration
	// MaxCalls is the budget per identity per window.
	MaxCalls int64
	// BanDuration is the base automatic ban applied when the budget is
	// exceeded. Zero disables automatic bans for the category.
	BanDuration time.Duration
	// OnStoreFailure decides admission while the store is unavailable.
	OnStoreFailure FailureMode
}

// WindowSeconds returns the window length in whole seconds.
func (p Policy) WindowSeconds() int64 {
	return int64(p.Window / time.Second)
}

// Validate checks the policy invariants.
func (p Policy) Validate() error {
	if p.MaxCalls < 1 {
		return errors.New("policy MaxCalls must be >= 1")
	}
	if p.Window < time.Second {
		return errors.New("policy Window must be >= 1s")
	}
	if p.Window%time.Second != 0 {
		return errors.New("policy Window must be a whole number of seconds")
	}
	if p.BanDuration < 0 {
		return errors.New("policy BanDuration must be >= 0")
	}
	if p.BanDuration%time.Second != 0 {
		return errors.New("policy BanDuration must be a whole number of seconds")
	}
	switch p.OnStoreFailure {
	case FailOpen, FailClosed:
	default:
		return errors.New("policy OnStoreFailure is invalid")
	}
	return nil
}

// DefaultPolicies returns the built-in policy set. General traffic fails
// open; every other category fails closed.
func DefaultPolicies() map[Category]Policy {
	return map[Category]Policy{
		CategoryGeneral: {
			Window:         time.Minute,
			MaxCalls:       300,
			OnStoreFailure: FailOpen,
		},
		CategoryPrivilegedMutation: {
			Window:         time.Minute,
			MaxCalls:       30,
			OnStoreFailure: FailClosed,
		},
		CategoryAuthentication: {
			Window:         time.Minute,
			MaxCalls:       10,
			BanDuration:    15 * time.Minute,
			OnStoreFailure: FailClosed,
		},
		CategoryBanAdmin: {
			Window:         time.Minute,
			MaxCalls:       20,
			OnStoreFailure: FailClosed,
		},
	}
}
