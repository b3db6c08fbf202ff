// Package limits holds the cross-request state of the gateway: per-user
// rate-limit windows and idempotency markers. Both live behind Store so that
// several gateway instances can share one atomic backend.
package limits

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const memorySweepInterval = time.Minute

// Store is the atomic shared-state backend.
// Implementations must make both operations atomic with respect to
// concurrent callers on any instance.
type Store interface {
	// IncrementAndCheck increments the counter at key, starting a window of
	// the given length on first use. ok is false once the count exceeds limit.
	// resetAt is when the current window expires.
	IncrementAndCheck(ctx context.Context, key string, limit int64, window time.Duration) (ok bool, resetAt time.Time, err error)

	// SetIfAbsent marks key for ttl and reports whether this call created it.
	SetIfAbsent(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// NewStore returns a RedisStore when a client is given. Without one it falls
// back to a MemoryStore, which is only correct for a single instance. The
// returned func releases the store.
func NewStore(client *redis.Client) (Store, func()) {
	if client != nil {
		return NewRedisStore(client), func() {}
	}
	mem := NewMemoryStore(memorySweepInterval)
	return mem, mem.Close
}
