package limits

import (
	"context"
	"errors"
	"time"

	"flowgate/internal/metrics"
	"flowgate/internal/shared"
)

type RateLimiter struct {
	store  Store
	limit  int64
	window time.Duration
}

func NewRateLimiter(store Store, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{store: store, limit: limit, window: window}
}

// Allow counts one request for (operation, userID). A request over the limit
// returns a *shared.RateLimitedError. Store failures are returned unwrapped so
// the caller can decide whether to fail open.
func (r *RateLimiter) Allow(ctx context.Context, operation string, userID uint64) error {
	key := shared.LimitKey("ratelimit", operation, userID)
	ok, resetAt, err := r.store.IncrementAndCheck(ctx, key, r.limit, r.window)
	if err != nil {
		return errors.Join(errors.New("rate limit store failed"), err)
	}
	if !ok {
		metrics.RateLimited.WithLabelValues(operation).Inc()
		return &shared.RateLimitedError{ResetAt: resetAt}
	}
	return nil
}
