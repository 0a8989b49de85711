package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/eventflow/internal/runtime/store"
)

const channel = "eventflow.transaction.v1"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type brokenStore struct{ store.Store }

func (brokenStore) IncrBy(context.Context, string, int64, time.Duration) (int64, error) {
	return 0, errors.New("redis: connection pool timeout")
}

func threePerSecond() Config {
	return Config{Default: Limit{Rate: 3, Window: time.Second}}
}

func TestSharedDeniesLimitPlusOne(t *testing.T) {
	clock := newFakeClock()
	l := NewShared(store.NewMemoryStore().WithClock(clock.Now), threePerSecond(), nil).WithClock(clock.Now)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.True(t, l.Acquire(ctx, channel, "").Allowed, "event %d", i+1)
	}
	denied := l.Acquire(ctx, channel, "")
	assert.False(t, denied.Allowed)
	assert.Equal(t, time.Second, denied.RetryAfter)
}

func TestSharedSlidingWindowWeighsPrevious(t *testing.T) {
	clock := newFakeClock()
	l := NewShared(store.NewMemoryStore().WithClock(clock.Now), threePerSecond(), nil).WithClock(clock.Now)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.True(t, l.Acquire(ctx, channel, "").Allowed)
	}

	clock.Advance(time.Second)
	denied := l.Acquire(ctx, channel, "")
	require.False(t, denied.Allowed)
	assert.InDelta(t, float64(333*time.Millisecond), float64(denied.RetryAfter), float64(2*time.Millisecond))

	clock.Advance(500 * time.Millisecond)
	assert.True(t, l.Acquire(ctx, channel, "").Allowed)
}

func TestSharedAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clock := newFakeClock()
	cfg := threePerSecond()
	a := NewShared(store.NewRedisStore(client, ""), cfg, nil).WithClock(clock.Now)
	b := NewShared(store.NewRedisStore(client, ""), cfg, nil).WithClock(clock.Now)
	ctx := context.Background()

	assert.True(t, a.Acquire(ctx, channel, "").Allowed)
	assert.True(t, b.Acquire(ctx, channel, "").Allowed)
	assert.True(t, a.Acquire(ctx, channel, "").Allowed)
	assert.False(t, b.Acquire(ctx, channel, "").Allowed)
}

func TestSharedPerPartitionAndOverrides(t *testing.T) {
	clock := newFakeClock()
	cfg := Config{
		Default:      Limit{Rate: 1, Window: time.Second},
		Channels:     map[string]Limit{"eventflow.system.v1": {}},
		PerPartition: true,
	}
	l := NewShared(store.NewMemoryStore().WithClock(clock.Now), cfg, nil).WithClock(clock.Now)
	ctx := context.Background()

	assert.True(t, l.Acquire(ctx, channel, "acct-1").Allowed)
	assert.False(t, l.Acquire(ctx, channel, "acct-1").Allowed)
	assert.True(t, l.Acquire(ctx, channel, "acct-2").Allowed)

	for i := 0; i < 10; i++ {
		assert.True(t, l.Acquire(ctx, "eventflow.system.v1", "").Allowed)
	}
}

func TestSharedFailsOpen(t *testing.T) {
	l := NewShared(brokenStore{}, threePerSecond(), nil)
	for i := 0; i < 10; i++ {
		assert.True(t, l.Acquire(context.Background(), channel, "").Allowed)
	}
}

func TestLocalTokenBucket(t *testing.T) {
	clock := newFakeClock()
	l := NewLocal(threePerSecond()).WithClock(clock.Now)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.True(t, l.Acquire(ctx, channel, "").Allowed)
	}
	denied := l.Acquire(ctx, channel, "")
	assert.False(t, denied.Allowed)
	assert.Greater(t, denied.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, denied.RetryAfter, 334*time.Millisecond)

	clock.Advance(denied.RetryAfter + time.Millisecond)
	assert.True(t, l.Acquire(ctx, channel, "").Allowed)
}

func TestUnlimited(t *testing.T) {
	assert.True(t, Unlimited().Acquire(context.Background(), channel, "").Allowed)
	assert.True(t, NewLocal(Config{}).Acquire(context.Background(), channel, "").Allowed)
}

func TestRateLimitedErrorMatches(t *testing.T) {
	var err error = &RateLimitedError{Channel: channel, RetryAfter: 250 * time.Millisecond}
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Contains(t, err.Error(), channel)
	assert.Contains(t, err.Error(), "250ms")
	assert.False(t, errors.Is(errors.New("other"), ErrRateLimited))
}
