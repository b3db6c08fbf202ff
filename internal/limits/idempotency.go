package limits

import (
	"context"
	"errors"
	"time"

	"flowgate/internal/metrics"
	"flowgate/internal/shared"
)

// IdempotencyTracker rejects a second use of the same caller key within ttl.
// This is a best-effort window, not permanent dedup.
type IdempotencyTracker struct {
	store Store
	ttl   time.Duration
}

func NewIdempotencyTracker(store Store, ttl time.Duration) *IdempotencyTracker {
	return &IdempotencyTracker{store: store, ttl: ttl}
}

// Claim marks (operation, userID, key) as seen. It returns
// shared.ErrDuplicateRequest when the marker already exists and
// shared.ErrStoreUnavailable when the store cannot answer.
func (t *IdempotencyTracker) Claim(ctx context.Context, operation string, userID uint64, key string) error {
	created, err := t.store.SetIfAbsent(ctx, shared.LimitKey("idempotency", operation, userID, key), t.ttl)
	if err != nil {
		return errors.Join(shared.ErrStoreUnavailable, err)
	}
	if !created {
		metrics.IdempotencyConflicts.WithLabelValues(operation).Inc()
		return shared.ErrDuplicateRequest
	}
	return nil
}
