// Package adminapi serves the gate's administrative, diagnostic and demo
// routes over HTTP.
//
// Every /admin route is gated by the engine itself with the admin category
// and RoleSuperAdmin; the handlers pass the caller through and let the engine
// decide.
package adminapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	goGate "github.com/MrEthical07/goGate"
	"github.com/MrEthical07/goGate/metrics/export/prometheus"
	"github.com/MrEthical07/goGate/middleware"
	"github.com/MrEthical07/goGate/policy"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

type Options struct {
	TrustXFF bool
	Logger   *slog.Logger
	Now      func() time.Time
}

type Server struct {
	engine   *goGate.Engine
	identity middleware.IdentityFunc
	trustXFF bool
	logger   *slog.Logger
	now      func() time.Time
}

func New(engine *goGate.Engine, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Server{
		engine:   engine,
		identity: middleware.DefaultIdentityFunc("", opts.TrustXFF),
		trustXFF: opts.TrustXFF,
		logger:   opts.Logger,
		now:      opts.Now,
	}
}

// Routes builds the router. It panics if the general, privileged-mutation or
// admin category is not registered.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/status", s.handleOwnStatus)
	r.Method(http.MethodGet, "/metrics", prometheus.NewPrometheusExporter(s.engine).Handler())

	r.Route("/admin", func(r chi.Router) {
		r.Get("/bans", s.handleListBans)
		r.Post("/bans", s.handleBan)
		r.Delete("/bans", s.handleClearAll)
		r.Delete("/bans/{identity}", s.handleClearBan)
		r.With(middleware.Guard(s.engine, middleware.Options{
			Category:           s.engine.Report().AdminCategory,
			MinRole:            goGate.RoleSuperAdmin,
			TrustXForwardedFor: s.trustXFF,
			Logger:             s.logger,
			Now:                s.now,
		})).Get("/report", s.handleReport)
	})

	r.Route("/api", func(r chi.Router) {
		r.With(middleware.Guard(s.engine, middleware.Options{
			Category:            policy.CategoryGeneral,
			TrustXForwardedFor:  s.trustXFF,
			AddRateLimitHeaders: true,
			Logger:              s.logger,
			Now:                 s.now,
		})).Get("/ping", s.handlePing)
		r.With(middleware.Guard(s.engine, middleware.Options{
			Category:            policy.CategoryPrivilegedMutation,
			MinRole:             goGate.RoleAdmin,
			TrustXForwardedFor:  s.trustXFF,
			AddRateLimitHeaders: true,
			Logger:              s.logger,
			Now:                 s.now,
		})).Post("/mutate", s.handleMutate)
	})

	return r
}

type statusResponse struct {
	Category       string `json:"category"`
	Limit          int64  `json:"limit"`
	Remaining      int64  `json:"remaining"`
	ResetAt        int64  `json:"reset_at_ms"`
	StoreReachable bool   `json:"store_reachable"`
}

type banResponse struct {
	Identity   string `json:"identity"`
	Indefinite bool   `json:"indefinite"`
	ExpiresAt  int64  `json:"expires_at_ms,omitempty"`
}

type banRequest struct {
	Identity        string `json:"identity"`
	DurationSeconds int64  `json:"duration_seconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "store unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleOwnStatus reports the caller's own budget for ?category= without
// counting a call.
func (s *Server) handleOwnStatus(w http.ResponseWriter, r *http.Request) {
	category := policy.Category(strings.TrimSpace(r.URL.Query().Get("category")))
	if category == "" {
		category = policy.CategoryGeneral
	}

	st, err := s.engine.Status(r.Context(), s.identity(r), category)
	if err != nil {
		if errors.Is(err, goGate.ErrUnknownCategory) {
			http.Error(w, "unknown category", http.StatusBadRequest)
			return
		}
		middleware.WriteError(w, r, err, s.now(), s.logger)
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Category:       string(category),
		Limit:          st.Limit,
		Remaining:      st.Remaining,
		ResetAt:        st.ResetAt.UnixMilli(),
		StoreReachable: st.StoreReachable,
	})
}

func (s *Server) handleListBans(w http.ResponseWriter, r *http.Request) {
	entries, err := s.engine.ListBans(r.Context(), s.caller(r))
	if err != nil {
		middleware.WriteError(w, r, err, s.now(), s.logger)
		return
	}
	out := make([]banResponse, len(entries))
	for i, e := range entries {
		out[i] = toBanResponse(e)
	}
	writeJSON(w, http.StatusOK, map[string]any{"bans": out})
}

func (s *Server) handleBan(w http.ResponseWriter, r *http.Request) {
	var req banRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if req.DurationSeconds < 0 {
		http.Error(w, "duration_seconds must be >= 0", http.StatusBadRequest)
		return
	}

	entry, err := s.engine.BanIdentity(r.Context(), s.caller(r), req.Identity, time.Duration(req.DurationSeconds)*time.Second)
	if err != nil {
		middleware.WriteError(w, r, err, s.now(), s.logger)
		return
	}
	writeJSON(w, http.StatusCreated, toBanResponse(entry))
}

func (s *Server) handleClearAll(w http.ResponseWriter, r *http.Request) {
	n, err := s.engine.ClearAllBans(r.Context(), s.caller(r))
	if err != nil {
		middleware.WriteError(w, r, err, s.now(), s.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"cleared": n})
}

func (s *Server) handleClearBan(w http.ResponseWriter, r *http.Request) {
	identity := chi.URLParam(r, "identity")
	existed, err := s.engine.ClearBan(r.Context(), s.caller(r), identity)
	if err != nil {
		middleware.WriteError(w, r, err, s.now(), s.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cleared": existed})
}

func (s *Server) handleReport(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Report())
}

func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "pong"})
}

func (s *Server) handleMutate(w http.ResponseWriter, r *http.Request) {
	p, _ := goGate.PrincipalFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"performed_by": p.SubjectID})
}

func (s *Server) caller(r *http.Request) goGate.Caller {
	c := goGate.Caller{Identity: s.identity(r)}
	if v := r.Header.Get("Authorization"); len(v) > 7 && strings.EqualFold(v[:7], "bearer ") {
		c.Credential = strings.TrimSpace(v[7:])
	}
	return c
}

func toBanResponse(e goGate.BanEntry) banResponse {
	out := banResponse{Identity: e.Identity, Indefinite: e.Indefinite}
	if !e.Indefinite {
		out.ExpiresAt = e.ExpiresAt.UnixMilli()
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
