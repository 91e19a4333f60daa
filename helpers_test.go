package goGate

import (
	"context"
	"crypto/ed25519"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/goGate/policy"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// testStart is aligned to a 60s window boundary.
var testStart = time.Unix(1_700_000_040, 0)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock(t time.Time) *testClock {
	return &testClock{t: t}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	engine     *Engine
	mr         *miniredis.Miniredis
	rdb        *redis.Client
	clock      *testClock
	principals *StaticPrincipalProvider
	sink       *ChannelSink
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func testConfig(t *testing.T) Config {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	cfg := DefaultConfig()
	cfg.JWT.PublicKey = pub
	cfg.JWT.PrivateKey = priv
	cfg.JWT.Issuer = "gate-test"
	cfg.Store.OperationTimeout = time.Second
	cfg.Audit.Enabled = true
	cfg.Audit.BufferSize = 256
	cfg.Metrics.Enabled = true
	return cfg
}

// newTestEnv builds an engine over miniredis with a fixed clock. mutate may
// adjust the config before Build.
func newTestEnv(t *testing.T, mutate func(*Config)) *testEnv {
	t.Helper()

	mr, rdb := newTestRedis(t)
	cfg := testConfig(t)
	if mutate != nil {
		mutate(&cfg)
	}

	env := &testEnv{
		mr:    mr,
		rdb:   rdb,
		clock: newTestClock(testStart),
		principals: NewStaticPrincipalProvider(map[string]Role{
			"root":  RoleSuperAdmin,
			"ops":   RoleAdmin,
			"alice": RoleUser,
			"guest": RoleAnonymous,
		}),
		sink: NewChannelSink(256),
	}

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithPrincipalProvider(env.principals).
		WithAuditSink(env.sink).
		WithClock(env.clock.Now).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	env.engine = engine
	return env
}

func (env *testEnv) token(t *testing.T, subject string) string {
	t.Helper()

	tok, err := env.engine.IssueAccessToken(subject, RoleUser)
	if err != nil {
		t.Fatalf("IssueAccessToken(%q) failed: %v", subject, err)
	}
	return tok
}

func (env *testEnv) admin(t *testing.T) Caller {
	t.Helper()
	return Caller{Identity: "10.0.0.1", Credential: env.token(t, "root")}
}

// auditEvents closes the engine and returns every delivered audit event.
func (env *testEnv) auditEvents() []AuditEvent {
	env.engine.Close()
	var out []AuditEvent
	for {
		select {
		case ev := <-env.sink.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func withPolicy(category policy.Category, p policy.Policy) func(*Config) {
	return func(cfg *Config) {
		cfg.Policies[category] = p
	}
}

func mustAdmit(t *testing.T, e *Engine, identity string, category policy.Category) Decision {
	t.Helper()

	d, err := e.Admit(context.Background(), identity, category)
	if err != nil {
		t.Fatalf("Admit(%q, %q) failed: %v", identity, category, err)
	}
	return d
}
