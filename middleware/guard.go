package middleware

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	goGate "github.com/MrEthical07/goGate"
	"github.com/MrEthical07/goGate/policy"
)

// IdentityFunc derives the rate-limit identity of a request.
type IdentityFunc func(r *http.Request) string

// Options configures [Guard].
type Options struct {
	Category policy.Category
	MinRole  goGate.Role

	// IdentityFn overrides the default identity derivation.
	IdentityFn         IdentityFunc
	IdentityHeader     string
	TrustXForwardedFor bool

	AddRateLimitHeaders bool

	Logger *slog.Logger
	Now    func() time.Time
}

// DefaultIdentityFunc uses identityHeader when present, then the first
// X-Forwarded-For hop when trustXFF is set, then the remote host.
func DefaultIdentityFunc(identityHeader string, trustXFF bool) IdentityFunc {
	return func(r *http.Request) string {
		if identityHeader != "" {
			if v := strings.TrimSpace(r.Header.Get(identityHeader)); v != "" {
				return v
			}
		}

		if trustXFF {
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				first, _, _ := strings.Cut(xff, ",")
				if ip := strings.TrimSpace(first); ip != "" {
					return ip
				}
			}
		}

		host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
		if err == nil && host != "" {
			return host
		}
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "unknown"
	}
}

// Guard admits each request through engine.Guard before calling next. The
// admission is stored in the request context, see
// [goGate.AdmissionFromContext].
//
// Guard panics when opts.Category has no registered policy, so a bad route
// table fails at startup.
func Guard(engine *goGate.Engine, opts Options) func(http.Handler) http.Handler {
	if err := engine.ValidateCategories(opts.Category); err != nil {
		panic(fmt.Sprintf("middleware: %v", err))
	}
	if opts.IdentityFn == nil {
		opts.IdentityFn = DefaultIdentityFunc(opts.IdentityHeader, opts.TrustXForwardedFor)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			req := goGate.GuardRequest{
				Identity: opts.IdentityFn(r),
				Category: opts.Category,
				MinRole:  opts.MinRole,
			}
			if opts.MinRole > goGate.RoleAnonymous {
				req.Credential, _ = bearerToken(r.Header.Get("Authorization"))
			}

			adm, err := engine.Guard(r.Context(), req)
			if opts.AddRateLimitHeaders {
				writeRateLimitHeaders(w, adm.Decision)
			}
			if err != nil {
				WriteError(w, r, err, opts.Now(), opts.Logger)
				return
			}

			next.ServeHTTP(w, r.WithContext(goGate.WithAdmission(r.Context(), adm)))
		})
	}
}

// RequireRole is Guard with the given category and minimum role.
func RequireRole(engine *goGate.Engine, category policy.Category, minRole goGate.Role) func(http.Handler) http.Handler {
	return Guard(engine, Options{Category: category, MinRole: minRole})
}

func RequireAdmin(engine *goGate.Engine, category policy.Category) func(http.Handler) http.Handler {
	return RequireRole(engine, category, goGate.RoleAdmin)
}

func RequireSuperAdmin(engine *goGate.Engine, category policy.Category) func(http.Handler) http.Handler {
	return RequireRole(engine, category, goGate.RoleSuperAdmin)
}

// StatusCode maps an engine error to an HTTP status.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, goGate.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, goGate.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, goGate.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, goGate.ErrStoreUnavailable), errors.Is(err, goGate.ErrEngineNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, goGate.ErrMissingIdentity):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// WriteError writes the response for an engine error. Rate-limit responses
// carry Retry-After; the body never says whether a ban caused the denial.
func WriteError(w http.ResponseWriter, r *http.Request, err error, now time.Time, logger *slog.Logger) {
	status := StatusCode(err)

	var rl *goGate.RateLimitError
	switch {
	case errors.As(err, &rl):
		w.Header().Set("Retry-After", strconv.FormatInt(int64(rl.RetryAfter(now)/time.Second), 10))
	case status == http.StatusUnauthorized:
		w.Header().Set("WWW-Authenticate", `Bearer`)
	case status >= http.StatusInternalServerError && logger != nil:
		logger.LogAttrs(r.Context(), slog.LevelError, "guard failed",
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
	}

	http.Error(w, http.StatusText(status), status)
}

func writeRateLimitHeaders(w http.ResponseWriter, d goGate.Decision) {
	if d.Limit == 0 {
		return
	}
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.FormatInt(d.Limit, 10))
	h.Set("X-RateLimit-Remaining", strconv.FormatInt(d.Remaining, 10))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
	if d.Degraded {
		h.Set("X-RateLimit-Degraded", "true")
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
