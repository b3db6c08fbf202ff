package limits

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements Store in process. It is only safe while a single
// gateway instance runs; use RedisStore otherwise.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	now     func() time.Time
	done    chan struct{}
	closed  sync.Once
}

type memoryEntry struct {
	count     int64
	expiresAt time.Time
}

// NewMemoryStore starts a sweeper that drops expired entries every interval.
func NewMemoryStore(interval time.Duration) *MemoryStore {
	s := &MemoryStore{
		entries: map[string]*memoryEntry{},
		now:     time.Now,
		done:    make(chan struct{}),
	}
	if interval > 0 {
		go s.cleanupLoop(interval)
	}
	return s
}

func (s *MemoryStore) IncrementAndCheck(_ context.Context, key string, limit int64, window time.Duration) (bool, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	e := s.liveLocked(key, now)
	if e == nil {
		e = &memoryEntry{expiresAt: now.Add(window)}
		s.entries[key] = e
	}
	e.count++
	return e.count <= limit, e.expiresAt, nil
}

func (s *MemoryStore) SetIfAbsent(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.liveLocked(key, now) != nil {
		return false, nil
	}
	s.entries[key] = &memoryEntry{count: 1, expiresAt: now.Add(ttl)}
	return true, nil
}

// Close stops the sweeper
func (s *MemoryStore) Close() {
	s.closed.Do(func() { close(s.done) })
}

func (s *MemoryStore) liveLocked(key string, now time.Time) *memoryEntry {
	e, ok := s.entries[key]
	if !ok {
		return nil
	}
	if !now.Before(e.expiresAt) {
		delete(s.entries, key)
		return nil
	}
	return e
}

func (s *MemoryStore) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.mu.Lock()
			now := s.now()
			for key, e := range s.entries {
				if !now.Before(e.expiresAt) {
					delete(s.entries, key)
				}
			}
			s.mu.Unlock()
		}
	}
}
