// Package msgstore provides durable message store backends for the task queue.
package msgstore

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// ErrQueueNotFound is returned when an operation references a queue that has
// never been created in the store.
var ErrQueueNotFound = errors.New("msgstore: queue not found")

// Store type names accepted by New.
const (
	TypePostgres = "postgres"
	TypeMemory   = "memory"
)

// Message is a stored message as returned by a lease read. Payload is the raw
// JSON body; ReadCount includes the read that returned the message.
type Message struct {
	ID         int64
	Payload    []byte
	EnqueuedAt time.Time
	ReadCount  int
}

// MessageStore defines the interface for durable queue backends. Read leases
// a message for the visibility window; a message whose lease expires without
// an Archive becomes visible again, so delivery is at-least-once.
type MessageStore interface {
	// Send appends payload to queue, creating the queue on first use, and
	// returns the store-assigned message id (always positive).
	Send(ctx context.Context, queue string, payload []byte) (int64, error)

	// Read leases the next visible message for vt. It returns (nil, nil)
	// when the queue has no visible message, and never blocks waiting for one.
	Read(ctx context.Context, queue string, vt time.Duration) (*Message, error)

	// Archive permanently removes the message from active visibility. It
	// reports false when no matching message exists.
	Archive(ctx context.Context, queue string, id int64) (bool, error)

	// DropQueue deletes the named queue with all pending and archived
	// messages. It reports false when the queue does not exist.
	DropQueue(ctx context.Context, queue string) (bool, error)

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error

	// Close releases connections held by the store.
	Close()
}

// Config holds configuration for creating a MessageStore.
type Config struct {
	Type     string // "postgres" or "memory"
	Postgres PostgresConfig
}

// PostgresConfig holds connection settings for the Postgres-backed store.
type PostgresConfig struct {
	URL            string
	PoolMin        int32
	PoolMax        int32
	ConnectTimeout time.Duration
}

// New creates a MessageStore based on the provided configuration.
// If Type is empty or unsupported, it defaults to the in-memory store and
// logs a warning; memory queues do not survive a process restart.
func New(ctx context.Context, cfg Config, logger zerolog.Logger) (MessageStore, error) {
	switch cfg.Type {
	case TypePostgres:
		return NewPostgresStore(ctx, cfg.Postgres, logger)
	case TypeMemory:
		return NewMemoryStore(), nil
	default:
		logger.Warn().
			Str("type", cfg.Type).
			Msg("unsupported or empty store type, defaulting to memory")
		return NewMemoryStore(), nil
	}
}
