package rate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// windowStart is aligned to a minute boundary.
var windowStart = time.Unix(1_700_000_040, 0)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLimiter(t *testing.T) (*Limiter, *miniredis.Miniredis, *fakeClock) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clock := &fakeClock{now: windowStart}
	return New(client, Config{Prefix: "gate", Timeout: time.Second}, clock.Now), mr, clock
}

func TestIncrementCountsWithinWindow(t *testing.T) {
	l, _, clock := newTestLimiter(t)
	ctx := context.Background()

	var resets []int64
	for i := int64(1); i <= 5; i++ {
		count, w, err := l.Increment(ctx, "general", "X", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, i, count)
		resets = append(resets, w.ResetAtMillis())
		clock.Advance(2 * time.Second)
	}

	for _, r := range resets {
		assert.Equal(t, resets[0], r, "reset must be identical within a window")
	}
	assert.Equal(t, windowStart.Add(time.Minute).UnixMilli(), resets[0])

	count, _, err := l.Increment(ctx, "general", "X", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(6), count)
}

func TestIncrementRollsOverAtWindowBoundary(t *testing.T) {
	l, _, clock := newTestLimiter(t)
	ctx := context.Background()

	_, first, err := l.Increment(ctx, "general", "X", time.Minute)
	require.NoError(t, err)

	clock.Advance(time.Minute)
	count, second, err := l.Increment(ctx, "general", "X", time.Minute)
	require.NoError(t, err)

	assert.Equal(t, int64(1), count)
	assert.Equal(t, first.ResetAtMillis()+time.Minute.Milliseconds(), second.ResetAtMillis())
	assert.Equal(t, first.Bucket+1, second.Bucket)
}

func TestIncrementSetsWindowTTL(t *testing.T) {
	l, mr, _ := newTestLimiter(t)

	_, w, err := l.Increment(context.Background(), "general", "X", time.Minute)
	require.NoError(t, err)

	key := l.counterKey("general", "X", w.Bucket)
	assert.True(t, mr.Exists(key))
	assert.Equal(t, time.Minute, mr.TTL(key))
}

func TestIncrementRepairsMissingTTL(t *testing.T) {
	l, mr, _ := newTestLimiter(t)

	w := WindowAt(windowStart, time.Minute)
	key := l.counterKey("general", "X", w.Bucket)
	require.NoError(t, mr.Set(key, "3"))

	count, _, err := l.Increment(context.Background(), "general", "X", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(4), count)
	assert.Equal(t, time.Minute, mr.TTL(key))
}

func TestCategoriesHaveIndependentCounters(t *testing.T) {
	l, _, _ := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _, err := l.Increment(ctx, "general", "X", time.Minute)
		require.NoError(t, err)
	}
	count, _, err := l.Increment(ctx, "authentication", "X", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestPeekDoesNotCount(t *testing.T) {
	l, _, _ := newTestLimiter(t)
	ctx := context.Background()

	count, _, err := l.Peek(ctx, "general", "X", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	_, _, err = l.Increment(ctx, "general", "X", time.Minute)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		count, _, err = l.Peek(ctx, "general", "X", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
	}
}

func TestConcurrentIncrementsCountEachCallOnce(t *testing.T) {
	l, _, _ := newTestLimiter(t)
	ctx := context.Background()

	const workers = 64
	seen := make([]int64, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			count, _, err := l.Increment(ctx, "general", "X", time.Minute)
			assert.NoError(t, err)
			seen[i] = count
		}(i)
	}
	wg.Wait()

	unique := make(map[int64]struct{}, workers)
	for _, c := range seen {
		unique[c] = struct{}{}
	}
	assert.Len(t, unique, workers)
	for i := int64(1); i <= workers; i++ {
		assert.Contains(t, unique, i)
	}
}

func TestStoreFailureIsWrapped(t *testing.T) {
	l, mr, _ := newTestLimiter(t)
	mr.Close()

	_, _, err := l.Increment(context.Background(), "general", "X", time.Minute)
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	_, _, err = l.Peek(context.Background(), "general", "X", time.Minute)
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	assert.ErrorIs(t, l.Ping(context.Background()), ErrStoreUnavailable)
}

func TestWindowAtNegativeTimes(t *testing.T) {
	w := WindowAt(time.UnixMilli(-1), time.Second)
	assert.Equal(t, int64(-1), w.Bucket)
	assert.Equal(t, int64(0), w.ResetAtMillis())
}

func TestResetClearsCurrentWindowOnly(t *testing.T) {
	l, _, _ := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _, err := l.Increment(ctx, "general", "X", time.Minute)
		require.NoError(t, err)
		_, _, err = l.Increment(ctx, "authentication", "X", time.Minute)
		require.NoError(t, err)
		_, _, err = l.Increment(ctx, "general", "Y", time.Minute)
		require.NoError(t, err)
	}

	err := l.Reset(ctx, "X", map[string]time.Duration{"general": time.Minute, "authentication": time.Minute})
	require.NoError(t, err)

	count, _, err := l.Peek(ctx, "general", "X", time.Minute)
	require.NoError(t, err)
	assert.Zero(t, count)
	count, _, err = l.Peek(ctx, "authentication", "X", time.Minute)
	require.NoError(t, err)
	assert.Zero(t, count)
	count, _, err = l.Peek(ctx, "general", "Y", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}
