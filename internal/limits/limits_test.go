package limits

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"flowgate/internal/shared"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func newTestStore(t *testing.T) (*MemoryStore, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	store := NewMemoryStore(0)
	store.now = clock.Now
	t.Cleanup(store.Close)
	return store, clock
}

type failingStore struct{}

func (failingStore) IncrementAndCheck(context.Context, string, int64, time.Duration) (bool, time.Time, error) {
	return false, time.Time{}, errors.New("connection refused")
}

func (failingStore) SetIfAbsent(context.Context, string, time.Duration) (bool, error) {
	return false, errors.New("connection refused")
}

func TestRateLimiter_RejectsRequestOverLimit(t *testing.T) {
	store, clock := newTestStore(t)
	limiter := NewRateLimiter(store, 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, limiter.Allow(ctx, shared.PredictionOperation, 7), "request %d", i+1)
	}

	clock.Advance(10 * time.Second)
	err := limiter.Allow(ctx, shared.PredictionOperation, 7)
	var rl *shared.RateLimitedError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, clock.Now().Add(50*time.Second), rl.ResetAt)
	assert.Equal(t, 50, rl.RetryAfter(clock.Now()))
}

func TestRateLimiter_UsersAreIndependent(t *testing.T) {
	store, _ := newTestStore(t)
	limiter := NewRateLimiter(store, 1, time.Minute)
	ctx := context.Background()

	require.NoError(t, limiter.Allow(ctx, shared.PredictionOperation, 1))
	require.NoError(t, limiter.Allow(ctx, shared.PredictionOperation, 2))
	assert.Error(t, limiter.Allow(ctx, shared.PredictionOperation, 1))
}

func TestRateLimiter_WindowResets(t *testing.T) {
	store, clock := newTestStore(t)
	limiter := NewRateLimiter(store, 1, time.Minute)
	ctx := context.Background()

	require.NoError(t, limiter.Allow(ctx, shared.PredictionOperation, 1))
	require.Error(t, limiter.Allow(ctx, shared.PredictionOperation, 1))
	clock.Advance(time.Minute)
	assert.NoError(t, limiter.Allow(ctx, shared.PredictionOperation, 1))
}

func TestRateLimiter_ConcurrentCountsAreExact(t *testing.T) {
	store, _ := newTestStore(t)
	limiter := NewRateLimiter(store, 10, time.Minute)

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.Allow(context.Background(), shared.PredictionOperation, 9) == nil {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, allowed)
}

func TestRateLimiter_StoreFailure(t *testing.T) {
	limiter := NewRateLimiter(failingStore{}, 1, time.Minute)
	err := limiter.Allow(context.Background(), shared.PredictionOperation, 1)
	require.Error(t, err)
	var rl *shared.RateLimitedError
	assert.False(t, errors.As(err, &rl))
}

func TestIdempotencyTracker_ConcurrentReplayAcceptsOnce(t *testing.T) {
	store, _ := newTestStore(t)
	tracker := NewIdempotencyTracker(store, time.Minute)

	start := make(chan struct{})
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			<-start
			results <- tracker.Claim(context.Background(), shared.PredictionOperation, 4, "abc")
		}()
	}
	close(start)

	var accepted, conflicts int
	for i := 0; i < 2; i++ {
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
	assert.Equal(t, 1, conflicts)
}

func TestIdempotencyTracker_ExpiryAllowsRetry(t *testing.T) {
	store, clock := newTestStore(t)
	tracker := NewIdempotencyTracker(store, time.Minute)
	ctx := context.Background()

	require.NoError(t, tracker.Claim(ctx, shared.PredictionOperation, 4, "abc"))
	require.ErrorIs(t, tracker.Claim(ctx, shared.PredictionOperation, 4, "abc"), shared.ErrDuplicateRequest)
	assert.NoError(t, tracker.Claim(ctx, shared.PredictionOperation, 5, "abc"), "keys are scoped per user")

	clock.Advance(time.Minute)
	assert.NoError(t, tracker.Claim(ctx, shared.PredictionOperation, 4, "abc"))
}

func TestIdempotencyTracker_StoreFailure(t *testing.T) {
	tracker := NewIdempotencyTracker(failingStore{}, time.Minute)
	err := tracker.Claim(context.Background(), shared.PredictionOperation, 1, "k")
	assert.ErrorIs(t, err, shared.ErrStoreUnavailable)
}

func TestMemoryStore_SweeperDropsExpired(t *testing.T) {
	store := NewMemoryStore(5 * time.Millisecond)
	defer store.Close()

	created, err := store.SetIfAbsent(context.Background(), "k", time.Millisecond)
	require.NoError(t, err)
	require.True(t, created)

	assert.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return len(store.entries) == 0
	}, time.Second, 5*time.Millisecond)
}
