package rate

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrementScript increments the counter and attaches the TTL whenever the
// key has none, so a crash between the two steps cannot leave an immortal key.
var incrementScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if redis.call('PTTL', KEYS[1]) < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// Config holds counter tuning parameters.
type Config struct {
	Prefix  string
	Timeout time.Duration
}

// Limiter counts calls per (category, identity) in fixed windows.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
	now    func() time.Time
}

// New creates a [Limiter] backed by the given Redis client. A nil now uses
// [time.Now].
func New(redisClient redis.UniversalClient, cfg Config, now func() time.Time) *Limiter {
	if now == nil {
		now = time.Now
	}
	return &Limiter{
		redis:  redisClient,
		config: cfg,
		now:    now,
	}
}

// Now returns the limiter clock.
func (l *Limiter) Now() time.Time {
	return l.now()
}

// Increment atomically counts one call in the current window and returns the
// post-increment count.
func (l *Limiter) Increment(ctx context.Context, category, identity string, window time.Duration) (int64, Window, error) {
	w := WindowAt(l.now(), window)

	ctx, cancel := l.withTimeout(ctx)
	defer cancel()

	count, err := incrementScript.Run(
		ctx,
		l.redis,
		[]string{l.counterKey(category, identity, w.Bucket)},
		window.Milliseconds(),
	).Int64()
	if err != nil {
		return 0, w, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return count, w, nil
}

// Peek returns the current count of the window without counting a call.
func (l *Limiter) Peek(ctx context.Context, category, identity string, window time.Duration) (int64, Window, error) {
	w := WindowAt(l.now(), window)

	ctx, cancel := l.withTimeout(ctx)
	defer cancel()

	count, err := l.redis.Get(ctx, l.counterKey(category, identity, w.Bucket)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, w, nil
		}
		return 0, w, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if count < 0 {
		count = 0
	}
	return count, w, nil
}

// Ping reports whether the store answers within the configured timeout.
func (l *Limiter) Ping(ctx context.Context) error {
	ctx, cancel := l.withTimeout(ctx)
	defer cancel()

	if err := l.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

func (l *Limiter) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if l.config.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, l.config.Timeout)
}

func (l *Limiter) counterKey(category, identity string, bucket int64) string {
	return l.config.Prefix + ":rl:" + category + ":" + identity + ":" + strconv.FormatInt(bucket, 10)
}

// Reset deletes the current-window counters of identity. windows maps each
// category to its window length.
func (l *Limiter) Reset(ctx context.Context, identity string, windows map[string]time.Duration) error {
	if len(windows) == 0 {
		return nil
	}
	now := l.now()

	ctx, cancel := l.withTimeout(ctx)
	defer cancel()

	_, err := l.redis.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for category, window := range windows {
			pipe.Del(ctx, l.counterKey(category, identity, WindowAt(now, window).Bucket))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}
