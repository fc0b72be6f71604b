package msgstore

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore is a process-local MessageStore with real lease semantics.
// It backs unit tests and single-node development; nothing survives a restart.
type MemoryStore struct {
	mu     sync.Mutex
	queues map[string]*memoryQueue
}

type memoryQueue struct {
	nextID   int64
	pending  []*memoryMessage
	archived map[int64]*memoryMessage
}

type memoryMessage struct {
	id         int64
	payload    []byte
	enqueuedAt time.Time
	readCount  int
	visibleAt  time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{queues: make(map[string]*memoryQueue)}
}

// Send appends payload to queue, creating the queue on first use.
func (s *MemoryStore) Send(_ context.Context, queue string, payload []byte) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.queues[queue]
	if !ok {
		q = &memoryQueue{nextID: 1, archived: make(map[int64]*memoryMessage)}
		s.queues[queue] = q
	}

	now := time.Now()
	m := &memoryMessage{
		id:         q.nextID,
		payload:    append([]byte(nil), payload...),
		enqueuedAt: now,
		visibleAt:  now,
	}
	q.nextID++
	q.pending = append(q.pending, m)
	return m.id, nil
}

// Read leases the lowest-id visible message for vt. Pending messages stay in
// id order, so an expired lease puts a message back at the front of the line.
func (s *MemoryStore) Read(_ context.Context, queue string, vt time.Duration) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.queues[queue]
	if !ok {
		return nil, fmt.Errorf("msgstore: read %s: %w", queue, ErrQueueNotFound)
	}

	now := time.Now()
	for _, m := range q.pending {
		if m.visibleAt.After(now) {
			continue
		}
		m.visibleAt = now.Add(vt)
		m.readCount++
		return &Message{
			ID:         m.id,
			Payload:    append([]byte(nil), m.payload...),
			EnqueuedAt: m.enqueuedAt,
			ReadCount:  m.readCount,
		}, nil
	}
	return nil, nil
}

// Archive removes the message from the pending list. Reports false when the
// id is absent or already archived.
func (s *MemoryStore) Archive(_ context.Context, queue string, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.queues[queue]
	if !ok {
		return false, fmt.Errorf("msgstore: archive in %s: %w", queue, ErrQueueNotFound)
	}

	for i, m := range q.pending {
		if m.id == id {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			q.archived[id] = m
			return true, nil
		}
	}
	return false, nil
}

// DropQueue deletes the queue with everything in it.
func (s *MemoryStore) DropQueue(_ context.Context, queue string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.queues[queue]; !ok {
		return false, fmt.Errorf("msgstore: drop %s: %w", queue, ErrQueueNotFound)
	}
	delete(s.queues, queue)
	return true, nil
}

// Ping always succeeds for the in-memory store.
func (s *MemoryStore) Ping(_ context.Context) error { return nil }

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() {}
