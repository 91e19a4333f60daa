package goGate

import (
	"errors"
	"time"

	"github.com/MrEthical07/goGate/internal/rate"
	"github.com/MrEthical07/goGate/policy"
)

var (
	// ErrRateLimited is wrapped by every [RateLimitError].
	ErrRateLimited = errors.New("rate limited")
	// ErrUnauthenticated is the status of an [AuthError] for missing or unusable credentials.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden is the status of an [AuthError] for a valid principal below the required role.
	ErrForbidden = errors.New("forbidden")
	// ErrStoreUnavailable reports that the shared store could not be reached in time.
	ErrStoreUnavailable = rate.ErrStoreUnavailable
	// ErrUnknownCategory reports an operation category with no registered policy.
	ErrUnknownCategory = policy.ErrUnknownCategory
	// ErrMissingCredential is returned when no credential was presented.
	ErrMissingCredential = errors.New("missing credential")
	// ErrInvalidCredential is returned for malformed, expired or badly signed credentials.
	ErrInvalidCredential = errors.New("invalid credential")
	// ErrPrincipalNotFound is returned when a verified subject is unknown to the principal provider.
	ErrPrincipalNotFound = errors.New("principal not found")
	// ErrInsufficientRole is returned when the principal's role is below the required role.
	ErrInsufficientRole = errors.New("insufficient role")
	// ErrMissingIdentity is returned when the boundary supplied no identity.
	ErrMissingIdentity = errors.New("missing identity")
	// ErrEngineNotReady is returned by methods called on a nil or closed Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrTokenIssuerDisabled is returned by IssueAccessToken when no signing key is configured.
	ErrTokenIssuerDisabled = errors.New("token issuing disabled")
)

// RateLimitError is returned when an identity exhausted its budget for a
// category. It carries the same fields whether or not a ban caused the denial.
type RateLimitError struct {
	Limit     int64
	Remaining int64
	ResetAt   time.Time
}

func (e *RateLimitError) Error() string {
	return "rate limited"
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

// RetryAfter returns the time left until ResetAt relative to now, rounded up
// to whole seconds and never below one second.
func (e *RateLimitError) RetryAfter(now time.Time) time.Duration {
	d := e.ResetAt.Sub(now)
	if d < time.Second {
		return time.Second
	}
	if rem := d % time.Second; rem != 0 {
		d += time.Second - rem
	}
	return d
}

// StatusClass says whether an [AuthError] maps to unauthenticated or forbidden.
type StatusClass uint8

const (
	StatusUnauthenticated StatusClass = iota
	StatusForbidden
)

func (s StatusClass) String() string {
	if s == StatusForbidden {
		return "forbidden"
	}
	return "unauthenticated"
}

func (s StatusClass) sentinel() error {
	if s == StatusForbidden {
		return ErrForbidden
	}
	return ErrUnauthenticated
}

// AuthError reports a failed identity or role check. errors.Is matches both
// the Reason and the sentinel of Status.
type AuthError struct {
	Reason error
	Status StatusClass
}

func (e *AuthError) Error() string {
	if e.Reason == nil {
		return e.Status.String()
	}
	return e.Status.String() + ": " + e.Reason.Error()
}

func (e *AuthError) Unwrap() []error {
	if e.Reason == nil {
		return []error{e.Status.sentinel()}
	}
	return []error{e.Reason, e.Status.sentinel()}
}

func unauthenticated(reason error) *AuthError {
	return &AuthError{Reason: reason, Status: StatusUnauthenticated}
}

func forbidden(reason error) *AuthError {
	return &AuthError{Reason: reason, Status: StatusForbidden}
}

// reasonCode is the stable audit label of an error.
func reasonCode(err error) string {
	switch {
	case errors.Is(err, ErrMissingCredential):
		return "missing_credential"
	case errors.Is(err, ErrInvalidCredential):
		return "invalid_credential"
	case errors.Is(err, ErrPrincipalNotFound):
		return "principal_not_found"
	case errors.Is(err, ErrInsufficientRole):
		return "insufficient_role"
	case errors.Is(err, ErrStoreUnavailable):
		return "store_unavailable"
	default:
		return "internal"
	}
}
