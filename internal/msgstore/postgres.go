package msgstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// pgUndefinedTable is the SQLSTATE pgmq raises when a queue's backing table
// does not exist.
const pgUndefinedTable = "42P01"

// PostgresStore is a MessageStore backed by the pgmq extension. Each queue is
// a pgmq queue; leasing is pgmq.read's visibility timeout and archived
// messages land in pgmq's archive table.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger

	mu      sync.Mutex
	created map[string]struct{}
}

// NewPostgresStore creates a connection pool, verifies connectivity, and
// returns a store ready for use. The pgmq extension must be installed.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig, logger zerolog.Logger) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	if cfg.PoolMin > 0 {
		poolCfg.MinConns = cfg.PoolMin
	}
	if cfg.PoolMax > 0 {
		poolCfg.MaxConns = cfg.PoolMax
	}
	poolCfg.MaxConnLifetime = 1 * time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute

	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &PostgresStore{
		pool:    pool,
		logger:  logger,
		created: make(map[string]struct{}),
	}, nil
}

// ensureQueue creates the pgmq queue on first use. pgmq.create is idempotent,
// so concurrent first sends at worst both issue it; the set only saves round
// trips on the hot path.
func (s *PostgresStore) ensureQueue(ctx context.Context, queue string) error {
	s.mu.Lock()
	_, ok := s.created[queue]
	s.mu.Unlock()
	if ok {
		return nil
	}

	if _, err := s.pool.Exec(ctx, "SELECT pgmq.create($1)", queue); err != nil {
		return fmt.Errorf("pgmq create %s: %w", queue, err)
	}
	s.logger.Debug().Str("queue", queue).Msg("queue created")

	s.mu.Lock()
	s.created[queue] = struct{}{}
	s.mu.Unlock()
	return nil
}

// Send appends payload to queue, creating the queue on first use.
func (s *PostgresStore) Send(ctx context.Context, queue string, payload []byte) (int64, error) {
	if err := s.ensureQueue(ctx, queue); err != nil {
		return 0, err
	}

	var id int64
	err := s.pool.QueryRow(ctx, "SELECT pgmq.send($1, $2::jsonb)", queue, payload).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("pgmq send to %s: %w", queue, err)
	}
	return id, nil
}

// Read leases one visible message for vt. pgmq counts visibility in whole
// seconds, so vt is rounded up with a one second floor.
func (s *PostgresStore) Read(ctx context.Context, queue string, vt time.Duration) (*Message, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT msg_id, read_ct, enqueued_at, message FROM pgmq.read($1, $2, 1)",
		queue, vtSeconds(vt))

	var m Message
	err := row.Scan(&m.ID, &m.ReadCount, &m.EnqueuedAt, &m.Payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		if isUndefinedTable(err) {
			return nil, fmt.Errorf("msgstore: read %s: %w", queue, ErrQueueNotFound)
		}
		return nil, fmt.Errorf("pgmq read %s: %w", queue, err)
	}
	return &m, nil
}

// Archive moves the message to pgmq's archive table. pgmq reports false when
// the id is absent, which covers the already-archived case.
func (s *PostgresStore) Archive(ctx context.Context, queue string, id int64) (bool, error) {
	var archived bool
	err := s.pool.QueryRow(ctx, "SELECT pgmq.archive($1, $2::bigint)", queue, id).Scan(&archived)
	if err != nil {
		if isUndefinedTable(err) {
			return false, fmt.Errorf("msgstore: archive in %s: %w", queue, ErrQueueNotFound)
		}
		return false, fmt.Errorf("pgmq archive %d in %s: %w", id, queue, err)
	}
	return archived, nil
}

// DropQueue deletes the queue, its pending messages, and its archive.
func (s *PostgresStore) DropQueue(ctx context.Context, queue string) (bool, error) {
	var dropped bool
	err := s.pool.QueryRow(ctx, "SELECT pgmq.drop_queue($1)", queue).Scan(&dropped)
	if err != nil {
		if isUndefinedTable(err) {
			return false, fmt.Errorf("msgstore: drop %s: %w", queue, ErrQueueNotFound)
		}
		return false, fmt.Errorf("pgmq drop queue %s: %w", queue, err)
	}

	s.mu.Lock()
	delete(s.created, queue)
	s.mu.Unlock()
	return dropped, nil
}

// Ping verifies database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes all connections in the pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

func vtSeconds(vt time.Duration) int32 {
	secs := int32(math.Ceil(vt.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return secs
}

func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUndefinedTable
}
