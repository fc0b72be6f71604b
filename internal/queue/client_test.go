package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/unisonhq/taskqueue/internal/msgstore"
)

// testLogger returns a zerolog.Logger that discards all output.
func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func newTestClient() *Client {
	return NewClient(msgstore.NewMemoryStore(), DefaultConfig(), testLogger())
}

// stubStore wraps the in-memory store with injectable failures and records
// the visibility timeout of the last read.
type stubStore struct {
	*msgstore.MemoryStore

	mu         sync.Mutex
	sendErr    error
	readErr    error
	archiveErr error
	dropErr    error
	lastReadVT time.Duration
}

func newStubStore() *stubStore {
	return &stubStore{MemoryStore: msgstore.NewMemoryStore()}
}

func (s *stubStore) Send(ctx context.Context, queue string, payload []byte) (int64, error) {
	s.mu.Lock()
	err := s.sendErr
	s.mu.Unlock()
	if err != nil {
		return 0, err
	}
	return s.MemoryStore.Send(ctx, queue, payload)
}

func (s *stubStore) Read(ctx context.Context, queue string, vt time.Duration) (*msgstore.Message, error) {
	s.mu.Lock()
	s.lastReadVT = vt
	err := s.readErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.MemoryStore.Read(ctx, queue, vt)
}

func (s *stubStore) Archive(ctx context.Context, queue string, id int64) (bool, error) {
	s.mu.Lock()
	err := s.archiveErr
	s.mu.Unlock()
	if err != nil {
		return false, err
	}
	return s.MemoryStore.Archive(ctx, queue, id)
}

func (s *stubStore) DropQueue(ctx context.Context, queue string) (bool, error) {
	s.mu.Lock()
	err := s.dropErr
	s.mu.Unlock()
	if err != nil {
		return false, err
	}
	return s.MemoryStore.DropQueue(ctx, queue)
}

func (s *stubStore) getLastReadVT() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastReadVT
}

func TestClient_EnqueueDefaultsRetryCount(t *testing.T) {
	t.Parallel()

	c := newTestClient()
	ctx := context.Background()

	payload := Payload{"task": "send_email", "email": "a@b.com"}
	id, err := c.Enqueue(ctx, "user_tasks", payload)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if id <= 0 {
		t.Errorf("Enqueue id = %d, want > 0", id)
	}

	msg, err := c.Dequeue(ctx, "user_tasks", 0)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if msg == nil {
		t.Fatal("Dequeue returned nil, want a message")
	}
	if msg.MsgID != id {
		t.Errorf("Dequeue msg_id = %d, want %d", msg.MsgID, id)
	}
	if msg.Payload["task"] != "send_email" || msg.Payload["email"] != "a@b.com" {
		t.Errorf("business fields altered: %v", msg.Payload)
	}
	if _, ok := msg.Payload[KeyRetryCount]; !ok {
		t.Error("stored payload missing retry_count")
	}
	if got := msg.Payload.RetryCount(); got != 0 {
		t.Errorf("retry_count = %d, want 0", got)
	}

	if _, ok := payload[KeyRetryCount]; ok {
		t.Error("Enqueue mutated the caller's payload map")
	}
}

func TestClient_EnqueuePreservesRetryCount(t *testing.T) {
	t.Parallel()

	c := newTestClient()
	ctx := context.Background()

	if _, err := c.Enqueue(ctx, "jobs", Payload{"task": "x", KeyRetryCount: 2}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	msg, err := c.Dequeue(ctx, "jobs", 0)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if msg == nil {
		t.Fatal("Dequeue returned nil")
	}
	if got := msg.Payload.RetryCount(); got != 2 {
		t.Errorf("retry_count = %d, want 2", got)
	}
}

func TestClient_DequeueAbsentIsNotAnError(t *testing.T) {
	t.Parallel()

	c := newTestClient()
	ctx := context.Background()

	// Never-created queue.
	msg, err := c.Dequeue(ctx, "never_created", 0)
	if err != nil {
		t.Fatalf("Dequeue unknown queue: %v", err)
	}
	if msg != nil {
		t.Errorf("Dequeue unknown queue = %+v, want nil", msg)
	}

	// Created but drained queue.
	id, err := c.Enqueue(ctx, "jobs", Payload{"task": "x"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := c.Archive(ctx, "jobs", id); err != nil {
		t.Fatalf("Archive: %v", err)
	}
	msg, err = c.Dequeue(ctx, "jobs", 0)
	if err != nil {
		t.Fatalf("Dequeue drained queue: %v", err)
	}
	if msg != nil {
		t.Errorf("Dequeue drained queue = %+v, want nil", msg)
	}
}

func TestClient_DequeueLeaseThenRedeliver(t *testing.T) {
	t.Parallel()

	c := newTestClient()
	ctx := context.Background()

	id, err := c.Enqueue(ctx, "jobs", Payload{"task": "weld"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	vt := 50 * time.Millisecond
	first, err := c.Dequeue(ctx, "jobs", vt)
	if err != nil {
		t.Fatalf("first Dequeue: %v", err)
	}
	if first == nil || first.MsgID != id {
		t.Fatalf("first Dequeue = %+v, want msg_id %d", first, id)
	}

	hidden, err := c.Dequeue(ctx, "jobs", vt)
	if err != nil {
		t.Fatalf("Dequeue during lease: %v", err)
	}
	if hidden != nil {
		t.Errorf("Dequeue during lease = %+v, want nil", hidden)
	}

	time.Sleep(vt + 20*time.Millisecond)

	again, err := c.Dequeue(ctx, "jobs", vt)
	if err != nil {
		t.Fatalf("Dequeue after lease expiry: %v", err)
	}
	if again == nil {
		t.Fatal("Dequeue after lease expiry returned nil, want redelivery")
	}
	if again.MsgID != id {
		t.Errorf("redelivered msg_id = %d, want %d", again.MsgID, id)
	}
}

func TestClient_DequeueVisibilityDefaulting(t *testing.T) {
	t.Parallel()

	store := newStubStore()
	c := NewClient(store, Config{VisibilityTimeout: 30, MaxRetries: 3}, testLogger())
	ctx := context.Background()

	if _, err := c.Enqueue(ctx, "jobs", Payload{"task": "x"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	if _, err := c.Dequeue(ctx, "jobs", 0); err != nil {
		t.Fatalf("Dequeue with zero vt: %v", err)
	}
	if got := store.getLastReadVT(); got != 30*time.Second {
		t.Errorf("zero vt passed %v to store, want configured default %v", got, 30*time.Second)
	}

	if _, err := c.Dequeue(ctx, "jobs", 5*time.Second); err != nil {
		t.Fatalf("Dequeue with explicit vt: %v", err)
	}
	if got := store.getLastReadVT(); got != 5*time.Second {
		t.Errorf("explicit vt passed %v to store, want %v", got, 5*time.Second)
	}
}

func TestClient_DequeueMalformedPayload(t *testing.T) {
	t.Parallel()

	store := msgstore.NewMemoryStore()
	c := NewClient(store, DefaultConfig(), testLogger())
	ctx := context.Background()

	id, err := store.Send(ctx, "jobs", []byte(`[1,2,3]`))
	if err != nil {
		t.Fatalf("Send raw: %v", err)
	}

	_, err = c.Dequeue(ctx, "jobs", 0)
	if !errors.Is(err, ErrMalformedPayload) {
		t.Errorf("Dequeue malformed body: got err=%v, want ErrMalformedPayload", err)
	}

	// The malformed message was archived, not left for redelivery.
	archived, err := store.Archive(ctx, "jobs", id)
	if err != nil {
		t.Fatalf("Archive after malformed: %v", err)
	}
	if archived {
		t.Error("message still active after malformed dequeue, want archived")
	}
}

func TestClient_ArchiveLifecycle(t *testing.T) {
	t.Parallel()

	c := newTestClient()
	ctx := context.Background()

	id, err := c.Enqueue(ctx, "jobs", Payload{"task": "x"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := c.Dequeue(ctx, "jobs", 0); err != nil {
		t.Fatalf("Dequeue: %v", err)
	}

	archived, err := c.Archive(ctx, "jobs", id)
	if err != nil {
		t.Fatalf("Archive: %v", err)
	}
	if !archived {
		t.Error("Archive = false, want true")
	}

	again, err := c.Archive(ctx, "jobs", id)
	if err != nil {
		t.Fatalf("second Archive: %v", err)
	}
	if again {
		t.Error("second Archive = true, want false")
	}
}

func TestClient_ArchiveUnknownQueue(t *testing.T) {
	t.Parallel()

	c := newTestClient()

	archived, err := c.Archive(context.Background(), "never_created", 42)
	if err != nil {
		t.Fatalf("Archive on unknown queue: %v", err)
	}
	if archived {
		t.Error("Archive on unknown queue = true, want false")
	}
}

func TestClient_DeleteQueueDoesNotCascadeToDLQ(t *testing.T) {
	t.Parallel()

	c := newTestClient()
	ctx := context.Background()

	if _, err := c.Enqueue(ctx, "jobs", Payload{"task": "x"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := c.Enqueue(ctx, DLQName("jobs"), Payload{"task": "dead"}); err != nil {
		t.Fatalf("Enqueue to dlq: %v", err)
	}

	deleted, err := c.DeleteQueue(ctx, "jobs")
	if err != nil {
		t.Fatalf("DeleteQueue: %v", err)
	}
	if !deleted {
		t.Error("DeleteQueue = false, want true")
	}

	msg, err := c.Dequeue(ctx, "jobs", 0)
	if err != nil {
		t.Fatalf("Dequeue after delete: %v", err)
	}
	if msg != nil {
		t.Errorf("Dequeue after delete = %+v, want nil", msg)
	}

	dead, err := c.Dequeue(ctx, DLQName("jobs"), 0)
	if err != nil {
		t.Fatalf("Dequeue dlq after delete: %v", err)
	}
	if dead == nil {
		t.Fatal("deleting a queue also deleted its DLQ")
	}

	deleted, err = c.DeleteQueue(ctx, "jobs")
	if err != nil {
		t.Fatalf("second DeleteQueue: %v", err)
	}
	if deleted {
		t.Error("second DeleteQueue = true, want false")
	}
}

func TestClient_RetryMessage(t *testing.T) {
	t.Parallel()

	c := newTestClient()
	ctx := context.Background()

	origID, err := c.Enqueue(ctx, "jobs", Payload{"task": "x"})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	msg, err := c.Dequeue(ctx, "jobs", 0)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if msg == nil {
		t.Fatal("Dequeue returned nil")
	}

	newID, err := c.RetryMessage(ctx, "jobs", msg.MsgID, msg.Payload)
	if err != nil {
		t.Fatalf("RetryMessage: %v", err)
	}
	if newID == origID {
		t.Errorf("RetryMessage returned the original id %d, want a new id", newID)
	}

	retried, err := c.Dequeue(ctx, "jobs", 0)
	if err != nil {
		t.Fatalf("Dequeue retried: %v", err)
	}
	if retried == nil {
		t.Fatal("Dequeue retried returned nil")
	}
	if retried.MsgID != newID {
		t.Errorf("retried msg_id = %d, want %d", retried.MsgID, newID)
	}
	if got := retried.Payload.RetryCount(); got != 1 {
		t.Errorf("retried retry_count = %d, want 1", got)
	}
	if retried.Payload["task"] != "x" {
		t.Errorf("retried payload lost business field: %v", retried.Payload)
	}

	// The original is archived, not merely leased.
	archived, err := c.Archive(ctx, "jobs", origID)
	if err != nil {
		t.Fatalf("Archive original: %v", err)
	}
	if archived {
		t.Error("original message still active after RetryMessage")
	}
}

func TestClient_MoveToDLQ(t *testing.T) {
	t.Parallel()

	c := newTestClient()
	ctx := context.Background()

	if _, err := c.Enqueue(ctx, "jobs", Payload{"task": "x", KeyRetryCount: 3}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	msg, err := c.Dequeue(ctx, "jobs", 0)
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if msg == nil {
		t.Fatal("Dequeue returned nil")
	}

	newID, err := c.MoveToDLQ(ctx, "jobs", msg.MsgID, msg.Payload, "handler exploded")
	if err != nil {
		t.Fatalf("MoveToDLQ: %v", err)
	}
	if newID <= 0 {
		t.Errorf("MoveToDLQ id = %d, want > 0", newID)
	}

	empty, err := c.Dequeue(ctx, "jobs", 0)
	if err != nil {
		t.Fatalf("Dequeue source after MoveToDLQ: %v", err)
	}
	if empty != nil {
		t.Errorf("source queue still has %+v after MoveToDLQ", empty)
	}

	dead, err := c.Dequeue(ctx, DLQName("jobs"), 0)
	if err != nil {
		t.Fatalf("Dequeue dlq: %v", err)
	}
	if dead == nil {
		t.Fatal("dlq is empty after MoveToDLQ")
	}
	if dead.Payload[KeyError] != "handler exploded" {
		t.Errorf("dlq error = %v, want %q", dead.Payload[KeyError], "handler exploded")
	}
	if dead.Payload[KeyOriginalQueue] != "jobs" {
		t.Errorf("dlq original_queue = %v, want %q", dead.Payload[KeyOriginalQueue], "jobs")
	}
	if got := dead.Payload.RetryCount(); got != 3 {
		t.Errorf("dlq retry_count = %d, want 3 (unchanged)", got)
	}
	if dead.Payload["task"] != "x" {
		t.Errorf("dlq payload lost business field: %v", dead.Payload)
	}
}

func TestClient_RequeueFromDLQ(t *testing.T) {
	t.Parallel()

	c := newTestClient()
	ctx := context.Background()

	// Park three messages in the DLQ through the promotion path.
	for i := 0; i < 3; i++ {
		id, err := c.Enqueue(ctx, "jobs", Payload{"task": "x", KeyRetryCount: 3})
		if err != nil {
			t.Fatalf("Enqueue %d: %v", i, err)
		}
		msg, err := c.Dequeue(ctx, "jobs", 0)
		if err != nil || msg == nil {
			t.Fatalf("Dequeue %d: msg=%+v err=%v", i, msg, err)
		}
		if _, err := c.MoveToDLQ(ctx, "jobs", id, msg.Payload, "boom"); err != nil {
			t.Fatalf("MoveToDLQ %d: %v", i, err)
		}
	}

	requeued, err := c.RequeueFromDLQ(ctx, "jobs", 2)
	if err != nil {
		t.Fatalf("RequeueFromDLQ: %v", err)
	}
	if requeued != 2 {
		t.Errorf("RequeueFromDLQ = %d, want 2 (limit)", requeued)
	}

	// Drain the rest.
	requeued, err = c.RequeueFromDLQ(ctx, "jobs", 10)
	if err != nil {
		t.Fatalf("second RequeueFromDLQ: %v", err)
	}
	if requeued != 1 {
		t.Errorf("second RequeueFromDLQ = %d, want 1 (DLQ ran empty)", requeued)
	}

	for i := 0; i < 3; i++ {
		msg, err := c.Dequeue(ctx, "jobs", 0)
		if err != nil {
			t.Fatalf("Dequeue requeued %d: %v", i, err)
		}
		if msg == nil {
			t.Fatalf("Dequeue requeued %d returned nil, want 3 restored messages", i)
		}
		if got := msg.Payload.RetryCount(); got != 0 {
			t.Errorf("requeued retry_count = %d, want 0", got)
		}
		if _, ok := msg.Payload[KeyError]; ok {
			t.Error("requeued payload still carries error annotation")
		}
		if _, ok := msg.Payload[KeyOriginalQueue]; ok {
			t.Error("requeued payload still carries original_queue annotation")
		}
	}
}

func TestClient_StoreErrorsPropagate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	storeDown := errors.New("store unreachable")

	t.Run("enqueue", func(t *testing.T) {
		store := newStubStore()
		store.sendErr = storeDown
		c := NewClient(store, DefaultConfig(), testLogger())
		if _, err := c.Enqueue(ctx, "jobs", Payload{"task": "x"}); !errors.Is(err, storeDown) {
			t.Errorf("Enqueue err = %v, want wrapped %v", err, storeDown)
		}
	})

	t.Run("dequeue", func(t *testing.T) {
		store := newStubStore()
		store.readErr = storeDown
		c := NewClient(store, DefaultConfig(), testLogger())
		if _, err := c.Dequeue(ctx, "jobs", 0); !errors.Is(err, storeDown) {
			t.Errorf("Dequeue err = %v, want wrapped %v", err, storeDown)
		}
	})

	t.Run("archive", func(t *testing.T) {
		store := newStubStore()
		store.archiveErr = storeDown
		c := NewClient(store, DefaultConfig(), testLogger())
		if _, err := c.Archive(ctx, "jobs", 1); !errors.Is(err, storeDown) {
			t.Errorf("Archive err = %v, want wrapped %v", err, storeDown)
		}
	})

	t.Run("delete queue", func(t *testing.T) {
		store := newStubStore()
		store.dropErr = storeDown
		c := NewClient(store, DefaultConfig(), testLogger())
		if _, err := c.DeleteQueue(ctx, "jobs"); !errors.Is(err, storeDown) {
			t.Errorf("DeleteQueue err = %v, want wrapped %v", err, storeDown)
		}
	})

	t.Run("retry archive step", func(t *testing.T) {
		store := newStubStore()
		c := NewClient(store, DefaultConfig(), testLogger())
		id, err := c.Enqueue(ctx, "jobs", Payload{"task": "x"})
		if err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
		store.mu.Lock()
		store.archiveErr = storeDown
		store.mu.Unlock()
		if _, err := c.RetryMessage(ctx, "jobs", id, Payload{"task": "x"}); !errors.Is(err, storeDown) {
			t.Errorf("RetryMessage err = %v, want wrapped %v", err, storeDown)
		}
	})
}
