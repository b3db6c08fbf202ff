package limits

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"flowgate/internal/shared"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
	})
	return NewRedisStore(client), mr
}

func TestRedisStore_WindowExpirySetOnceOnFirstIncrement(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()
	key := shared.LimitKey("ratelimit", shared.PredictionOperation, 1)

	ok, resetAt, err := store.IncrementAndCheck(ctx, key, 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, time.Minute, mr.TTL(key))
	assert.WithinDuration(t, time.Now().Add(time.Minute), resetAt, 2*time.Second)

	mr.FastForward(20 * time.Second)
	ok, resetAt, err = store.IncrementAndCheck(ctx, key, 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 40*time.Second, mr.TTL(key), "later increments must not extend the window")
	assert.WithinDuration(t, time.Now().Add(40*time.Second), resetAt, 2*time.Second)

	count, err := mr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "2", count)
}

func TestRedisStore_RateLimiter(t *testing.T) {
	store, mr := newRedisStore(t)
	limiter := NewRateLimiter(store, 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, limiter.Allow(ctx, shared.PredictionOperation, 7), "request %d", i+1)
	}
	err := limiter.Allow(ctx, shared.PredictionOperation, 7)
	var rl *shared.RateLimitedError
	require.ErrorAs(t, err, &rl)
	assert.Positive(t, rl.RetryAfter(time.Now()))
	assert.NoError(t, limiter.Allow(ctx, shared.PredictionOperation, 8), "users are independent")

	mr.FastForward(time.Minute)
	assert.NoError(t, limiter.Allow(ctx, shared.PredictionOperation, 7), "window resets")
}

func TestRedisStore_ConcurrentCountsAreExact(t *testing.T) {
	store, _ := newRedisStore(t)
	limiter := NewRateLimiter(store, 10, time.Minute)

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed, limited := 0, 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := limiter.Allow(context.Background(), shared.PredictionOperation, 9)
			var rl *shared.RateLimitedError
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				allowed++
			case errors.As(err, &rl):
				limited++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, allowed)
	assert.Equal(t, 40, limited)
}

func TestRedisStore_ConcurrentReplayAcceptsOnce(t *testing.T) {
	store, mr := newRedisStore(t)
	tracker := NewIdempotencyTracker(store, time.Minute)

	start := make(chan struct{})
	results := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() {
			<-start
			results <- tracker.Claim(context.Background(), shared.PredictionOperation, 4, "abc")
		}()
	}
	close(start)

	var accepted, conflicts int
	for i := 0; i < 8; i++ {
		err := <-results
		switch {
		case err == nil:
			accepted++
		case errors.Is(err, shared.ErrDuplicateRequest):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, accepted)
	assert.Equal(t, 7, conflicts)

	key := shared.LimitKey("idempotency", shared.PredictionOperation, 4, "abc")
	assert.Equal(t, time.Minute, mr.TTL(key))
	mr.FastForward(time.Minute)
	assert.NoError(t, tracker.Claim(context.Background(), shared.PredictionOperation, 4, "abc"))
}

func TestRedisStore_Unavailable(t *testing.T) {
	store, mr := newRedisStore(t)
	mr.Close()

	_, _, err := store.IncrementAndCheck(context.Background(), "k", 1, time.Minute)
	assert.Error(t, err)

	tracker := NewIdempotencyTracker(store, time.Minute)
	assert.ErrorIs(t, tracker.Claim(context.Background(), shared.PredictionOperation, 1, "k"), shared.ErrStoreUnavailable)
}

func TestNewStore_PicksBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	remote, release := NewStore(client)
	defer release()
	assert.IsType(t, &RedisStore{}, remote)

	local, releaseLocal := NewStore(nil)
	defer releaseLocal()
	require.IsType(t, &MemoryStore{}, local)

	limiter := NewRateLimiter(local, 1, time.Minute)
	assert.NoError(t, limiter.Allow(context.Background(), "prediction", 1))
	assert.Error(t, limiter.Allow(context.Background(), "prediction", 1))
}
