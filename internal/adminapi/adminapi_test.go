package adminapi

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	goGate "github.com/MrEthical07/goGate"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	engine  *goGate.Engine
	mr      *miniredis.Miniredis
	handler http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := goGate.DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.Metrics.Enabled = true

	engine, err := goGate.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithPrincipalProvider(goGate.NewStaticPrincipalProvider(map[string]goGate.Role{
			"root":  goGate.RoleSuperAdmin,
			"ops":   goGate.RoleAdmin,
			"alice": goGate.RoleUser,
		})).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	return &fixture{engine: engine, mr: mr, handler: New(engine, Options{}).Routes()}
}

func (f *fixture) bearer(t *testing.T, subject string) string {
	t.Helper()
	tok, err := f.engine.IssueAccessToken(subject, goGate.RoleUser)
	require.NoError(t, err)
	return "Bearer " + tok
}

func (f *fixture) do(method, path, auth, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealthAndReadiness(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/healthz", "", "").Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/readyz", "", "").Code)

	f.mr.Close()
	assert.Equal(t, http.StatusServiceUnavailable, f.do(http.MethodGet, "/readyz", "", "").Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/healthz", "", "").Code)
}

func TestPingCountsAgainstGeneral(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/api/ping", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "300", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "299", rec.Header().Get("X-RateLimit-Remaining"))

	status := decode[statusResponse](t, f.do(http.MethodGet, "/status?category=general", "", ""))
	assert.Equal(t, int64(300), status.Limit)
	assert.Equal(t, int64(299), status.Remaining)
	assert.True(t, status.StoreReachable)

	// Status itself does not count.
	status = decode[statusResponse](t, f.do(http.MethodGet, "/status", "", ""))
	assert.Equal(t, int64(299), status.Remaining)
}

func TestStatusUnknownCategory(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/status?category=nope", "", "").Code)
}

func TestStatusStoreDown(t *testing.T) {
	f := newFixture(t)
	f.mr.Close()

	rec := f.do(http.MethodGet, "/status?category=general", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[statusResponse](t, rec)
	assert.False(t, status.StoreReachable)
	assert.Equal(t, int64(0), status.Remaining)
}

func TestMutateRequiresAdmin(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodPost, "/api/mutate", "", "").Code)
	assert.Equal(t, http.StatusForbidden, f.do(http.MethodPost, "/api/mutate", f.bearer(t, "alice"), "").Code)

	rec := f.do(http.MethodPost, "/api/mutate", f.bearer(t, "ops"), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ops", decode[map[string]string](t, rec)["performed_by"])
}

func TestBanLifecycle(t *testing.T) {
	f := newFixture(t)
	root := f.bearer(t, "root")

	rec := f.do(http.MethodPost, "/admin/bans", root, `{"identity":"203.0.113.9","duration_seconds":60}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[banResponse](t, rec)
	assert.Equal(t, "203.0.113.9", created.Identity)
	assert.False(t, created.Indefinite)
	assert.NotZero(t, created.ExpiresAt)

	rec = f.do(http.MethodPost, "/admin/bans", root, `{"identity":"198.51.100.7"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, decode[banResponse](t, rec).Indefinite)

	rec = f.do(http.MethodGet, "/admin/bans", root, "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[map[string][]banResponse](t, rec)["bans"]
	require.Len(t, list, 2)
	assert.Equal(t, "198.51.100.7", list[0].Identity)
	assert.Equal(t, "203.0.113.9", list[1].Identity)

	rec = f.do(http.MethodDelete, "/admin/bans/203.0.113.9", root, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[map[string]bool](t, rec)["cleared"])

	rec = f.do(http.MethodDelete, "/admin/bans/203.0.113.9", root, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[map[string]bool](t, rec)["cleared"])

	rec = f.do(http.MethodDelete, "/admin/bans", root, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[map[string]int](t, rec)["cleared"])
}

func TestBannedCallerIsRateLimited(t *testing.T) {
	f := newFixture(t)
	root := f.bearer(t, "root")

	// httptest requests come from 192.0.2.1.
	rec := f.do(http.MethodPost, "/admin/bans", root, `{"identity":"192.0.2.1","duration_seconds":30}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(http.MethodGet, "/api/ping", "", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.NotContains(t, strings.ToLower(rec.Body.String()), "ban")
}

func TestBanRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	root := f.bearer(t, "root")

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/admin/bans", root, `{`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/admin/bans", root, `{"identity":"x","duration_seconds":-1}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/admin/bans", root, `{"identity":" "}`).Code)
}

func TestAdminRoutesRequireSuperAdmin(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		auth string
		want int
	}{
		{name: "no token", auth: "", want: http.StatusUnauthorized},
		{name: "user", auth: f.bearer(t, "alice"), want: http.StatusForbidden},
		{name: "admin", auth: f.bearer(t, "ops"), want: http.StatusForbidden},
		{name: "super admin", auth: f.bearer(t, "root"), want: http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, f.do(http.MethodGet, "/admin/bans", tt.auth, "").Code)
			assert.Equal(t, tt.want, f.do(http.MethodGet, "/admin/report", tt.auth, "").Code)
		})
	}
}

func TestAdminFailsClosedWhenStoreDown(t *testing.T) {
	f := newFixture(t)
	root := f.bearer(t, "root")
	f.mr.Close()

	assert.Equal(t, http.StatusServiceUnavailable, f.do(http.MethodGet, "/admin/bans", root, "").Code)
}

func TestReport(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/admin/report", f.bearer(t, "root"), "")
	require.Equal(t, http.StatusOK, rec.Code)
	report := decode[goGate.Report](t, rec)
	assert.Equal(t, "gate", report.KeyPrefix)
	assert.Equal(t, "hs256", report.SigningAlgorithm)
	assert.Len(t, report.Categories, 4)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/ping", "", "").Code)

	rec := f.do(http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "gogate_admitted_total 1")
}
