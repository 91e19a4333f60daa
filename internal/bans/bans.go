package bans

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/MrEthical07/goGate/internal/rate"
	"github.com/redis/go-redis/v9"
)

const (
	defaultScanPageSize     = 100
	defaultMaxListed        = 1000
	defaultEscalationFactor = 2
	defaultStrikeMemory     = 24 * time.Hour
)

// ErrStoreUnavailable wraps every failure of the ban store. It is the same
// sentinel the counter store uses.
var ErrStoreUnavailable = rate.ErrStoreUnavailable

// banScript applies a ban keeping the later expiry. ARGV[1] is the requested
// TTL in milliseconds, zero or less meaning indefinite. It returns the
// remaining TTL after the update, or -1 for an indefinite ban.
var banScript = redis.NewScript(`
local ttl = tonumber(ARGV[1])
local cur = redis.call('PTTL', KEYS[1])
if cur == -1 then
	return -1
end
if ttl <= 0 then
	redis.call('SET', KEYS[1], ARGV[2])
	return -1
end
if cur >= ttl then
	return cur
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ttl)
return ttl
`)

// strikeScript counts an automatic ban and restarts the strike memory.
var strikeScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
redis.call('PEXPIRE', KEYS[1], ARGV[1])
return n
`)

// Config holds ban manager parameters.
type Config struct {
	Prefix           string
	Timeout          time.Duration
	ScanPageSize     int64
	MaxListed        int
	EscalationFactor int
	MaxBanDuration   time.Duration
	StrikeMemory     time.Duration
}

// State describes the ban status of one identity.
type State struct {
	Banned     bool
	Indefinite bool
	ExpiresAt  time.Time
}

// Entry is one listed ban.
type Entry struct {
	Identity   string
	Indefinite bool
	ExpiresAt  time.Time
}

// Manager reads and writes ban records.
type Manager struct {
	redis  redis.UniversalClient
	config Config
	now    func() time.Time
}

// NewManager creates a ban [Manager]. Zero-value fields in cfg fall back to
// defaults. A nil now uses [time.Now].
func NewManager(redisClient redis.UniversalClient, cfg Config, now func() time.Time) *Manager {
	if cfg.ScanPageSize <= 0 {
		cfg.ScanPageSize = defaultScanPageSize
	}
	if cfg.MaxListed <= 0 {
		cfg.MaxListed = defaultMaxListed
	}
	if cfg.EscalationFactor <= 0 {
		cfg.EscalationFactor = defaultEscalationFactor
	}
	if cfg.StrikeMemory <= 0 {
		cfg.StrikeMemory = defaultStrikeMemory
	}
	if now == nil {
		now = time.Now
	}
	return &Manager{redis: redisClient, config: cfg, now: now}
}

// IsBanned reports the ban state of identity.
func (m *Manager) IsBanned(ctx context.Context, identity string) (State, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	ttl, err := m.redis.PTTL(ctx, m.banKey(identity)).Result()
	if err != nil {
		return State{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return m.stateFromTTL(ttl), nil
}

// Ban bans identity for d, or indefinitely when d <= 0. An existing ban that
// outlives now+d is left untouched.
func (m *Manager) Ban(ctx context.Context, identity string, d time.Duration) (State, error) {
	return m.ban(ctx, identity, d, "manual")
}

// Escalate records a violation strike and bans identity for
// base * factor^(strikes-1), capped by MaxBanDuration. It returns the
// resulting state and the duration that was requested.
func (m *Manager) Escalate(ctx context.Context, identity string, base time.Duration) (State, time.Duration, error) {
	if base <= 0 {
		return State{}, 0, errors.New("escalation base duration must be > 0")
	}

	strikes, err := m.recordStrike(ctx, identity)
	if err != nil {
		return State{}, 0, err
	}

	d := m.escalatedDuration(base, strikes)
	st, err := m.ban(ctx, identity, d, "auto")
	if err != nil {
		return State{}, 0, err
	}
	return st, d, nil
}

// Extend bans identity for d without recording a strike. An existing ban
// that outlives now+d is left untouched.
func (m *Manager) Extend(ctx context.Context, identity string, d time.Duration) (State, error) {
	if d <= 0 {
		return State{}, errors.New("extension duration must be > 0")
	}
	return m.ban(ctx, identity, d, "auto")
}

// Strikes returns the number of automatic bans remembered for identity.
func (m *Manager) Strikes(ctx context.Context, identity string) (int64, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	n, err := m.redis.Get(ctx, m.strikeKey(identity)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n, nil
}

// Clear lifts the ban of identity and forgets its strikes. It reports whether
// a ban was present. Clearing an absent ban is a no-op.
func (m *Manager) Clear(ctx context.Context, identity string) (bool, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	var banDel *redis.IntCmd
	_, err := m.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		banDel = pipe.Del(ctx, m.banKey(identity))
		pipe.Del(ctx, m.strikeKey(identity))
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return banDel.Val() > 0, nil
}

// List returns at most MaxListed active bans ordered by identity.
func (m *Manager) List(ctx context.Context) ([]Entry, error) {
	keys := make([]string, 0, 16)
	err := m.scan(ctx, func(ctx context.Context, page []string) (bool, error) {
		for _, key := range page {
			if len(keys) >= m.config.MaxListed {
				return false, nil
			}
			keys = append(keys, key)
		}
		return len(keys) < m.config.MaxListed, nil
	})
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return []Entry{}, nil
	}

	ttlCtx, cancel := m.withTimeout(ctx)
	defer cancel()

	cmds := make([]*redis.DurationCmd, len(keys))
	_, err = m.redis.Pipelined(ttlCtx, func(pipe redis.Pipeliner) error {
		for i, key := range keys {
			cmds[i] = pipe.PTTL(ttlCtx, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	entries := make([]Entry, 0, len(keys))
	for i, key := range keys {
		st := m.stateFromTTL(cmds[i].Val())
		if !st.Banned {
			continue
		}
		entries = append(entries, Entry{
			Identity:   m.identityFromKey(key),
			Indefinite: st.Indefinite,
			ExpiresAt:  st.ExpiresAt,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Identity < entries[j].Identity })
	return entries, nil
}

// ClearAll lifts every ban and returns how many ban records were removed.
// Pages already cleared stay cleared if a later page fails; the call can be
// repeated safely.
func (m *Manager) ClearAll(ctx context.Context) (int, error) {
	cleared := 0
	err := m.scan(ctx, func(ctx context.Context, page []string) (bool, error) {
		if len(page) == 0 {
			return true, nil
		}

		delCtx, cancel := m.withTimeout(ctx)
		defer cancel()

		cmds := make([]*redis.IntCmd, len(page))
		_, err := m.redis.Pipelined(delCtx, func(pipe redis.Pipeliner) error {
			for i, key := range page {
				cmds[i] = pipe.Del(delCtx, key)
				pipe.Del(delCtx, m.strikeKey(m.identityFromKey(key)))
			}
			return nil
		})
		if err != nil {
			return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		for _, cmd := range cmds {
			cleared += int(cmd.Val())
		}
		return true, nil
	})
	return cleared, err
}

func (m *Manager) ban(ctx context.Context, identity string, d time.Duration, source string) (State, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	ttlMillis := int64(0)
	if d > 0 {
		ttlMillis = d.Milliseconds()
		if ttlMillis == 0 {
			ttlMillis = 1
		}
	}

	remaining, err := banScript.Run(ctx, m.redis, []string{m.banKey(identity)}, ttlMillis, source).Int64()
	if err != nil {
		return State{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if remaining < 0 {
		return State{Banned: true, Indefinite: true}, nil
	}
	return State{Banned: true, ExpiresAt: m.now().Add(time.Duration(remaining) * time.Millisecond)}, nil
}

func (m *Manager) recordStrike(ctx context.Context, identity string) (int64, error) {
	ctx, cancel := m.withTimeout(ctx)
	defer cancel()

	n, err := strikeScript.Run(ctx, m.redis, []string{m.strikeKey(identity)}, m.config.StrikeMemory.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n, nil
}

func (m *Manager) escalatedDuration(base time.Duration, strikes int64) time.Duration {
	d := base
	limit := m.config.MaxBanDuration
	for i := int64(1); i < strikes; i++ {
		if limit > 0 && d >= limit {
			break
		}
		next := d * time.Duration(m.config.EscalationFactor)
		if next/time.Duration(m.config.EscalationFactor) != d {
			d = time.Duration(math.MaxInt64)
			break
		}
		d = next
	}
	if limit > 0 && d > limit {
		d = limit
	}
	if d < base {
		d = base
	}
	return d
}

func (m *Manager) stateFromTTL(ttl time.Duration) State {
	// go-redis passes PTTL's -1 (no expiry) and -2 (missing) through unscaled.
	switch {
	case ttl == -1:
		return State{Banned: true, Indefinite: true}
	case ttl <= 0:
		return State{}
	default:
		return State{Banned: true, ExpiresAt: m.now().Add(ttl)}
	}
}

func (m *Manager) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.config.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, m.config.Timeout)
}

func (m *Manager) banPrefix() string {
	return m.config.Prefix + ":ban:"
}

func (m *Manager) banKey(identity string) string {
	return m.banPrefix() + identity
}

func (m *Manager) strikeKey(identity string) string {
	return m.config.Prefix + ":strike:" + identity
}

func (m *Manager) identityFromKey(key string) string {
	return strings.TrimPrefix(key, m.banPrefix())
}
