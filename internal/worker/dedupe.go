package worker

import (
	"context"
	"sync"
	"time"
)

// DedupeStore remembers recently completed task keys so redeliveries of the
// same logical task can be skipped. It is best effort: a miss means a task
// runs more than once, which handlers must tolerate anyway.
type DedupeStore interface {
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string) error
}

// MemoryDedupeStore is a process-local DedupeStore with TTL expiry. It only
// suppresses duplicates seen by the same worker process.
type MemoryDedupeStore struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
}

// NewMemoryDedupeStore creates a MemoryDedupeStore whose entries expire
// after ttl.
func NewMemoryDedupeStore(ttl time.Duration) *MemoryDedupeStore {
	return &MemoryDedupeStore{
		seen: make(map[string]time.Time),
		ttl:  ttl,
	}
}

// Seen reports whether key was marked within the TTL window.
func (s *MemoryDedupeStore) Seen(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiry, ok := s.seen[key]
	if !ok {
		return false, nil
	}
	if time.Now().After(expiry) {
		delete(s.seen, key)
		return false, nil
	}
	return true, nil
}

// Mark records key for the TTL window, sweeping expired entries while it
// holds the lock.
func (s *MemoryDedupeStore) Mark(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for k, expiry := range s.seen {
		if now.After(expiry) {
			delete(s.seen, k)
		}
	}

	s.seen[key] = now.Add(s.ttl)
	return nil
}
