package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/unisonhq/taskqueue/internal/msgstore"
)

// ErrMalformedPayload is returned when a stored message body does not decode
// into a JSON object.
var ErrMalformedPayload = errors.New("queue: malformed payload")

// Client translates task operations into message store calls and maintains
// the retry counter convention. It holds no locks and no polling state; one
// Client is safe for any number of concurrent workers.
//
// RetryMessage and MoveToDLQ each send a new message and then archive the
// original as two separate store calls. A crash between the calls can leave
// both messages briefly visible; delivery is at-least-once, never exactly-once.
type Client struct {
	store msgstore.MessageStore
	cfg   Config
	log   zerolog.Logger
}

// NewClient creates a Client on top of the given message store.
func NewClient(store msgstore.MessageStore, cfg Config, log zerolog.Logger) *Client {
	return &Client{store: store, cfg: cfg, log: log}
}

// Enqueue sends payload to queue, creating the queue on first use, and
// returns the store-assigned message id. The stored body always carries a
// retry_count, defaulted to zero when absent. The caller's map is not
// modified.
func (c *Client) Enqueue(ctx context.Context, queue string, payload Payload) (int64, error) {
	body := payload.clone()
	if _, ok := body[KeyRetryCount]; !ok {
		body[KeyRetryCount] = 0
	}

	data, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("marshal payload: %w", err)
	}

	id, err := c.store.Send(ctx, queue, data)
	if err != nil {
		return 0, err
	}

	MessagesEnqueuedTotal.WithLabelValues(queue).Inc()
	c.log.Debug().Str("queue", queue).Int64("msg_id", id).Msg("message enqueued")
	return id, nil
}

// Dequeue leases one visible message for vt, or the configured default when
// vt is zero. It returns (nil, nil) when nothing is visible, including on a
// queue nobody has produced to yet. It never blocks or sleeps; callers own
// the polling cadence.
func (c *Client) Dequeue(ctx context.Context, queue string, vt time.Duration) (*Message, error) {
	if vt <= 0 {
		vt = c.cfg.Visibility()
	}

	stored, err := c.store.Read(ctx, queue, vt)
	if err != nil {
		if errors.Is(err, msgstore.ErrQueueNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if stored == nil {
		return nil, nil
	}

	var payload Payload
	if err := json.Unmarshal(stored.Payload, &payload); err != nil {
		// Archive the undecodable body so it is not redelivered forever.
		if _, archiveErr := c.store.Archive(ctx, queue, stored.ID); archiveErr != nil {
			c.log.Error().Err(archiveErr).Str("queue", queue).Int64("msg_id", stored.ID).
				Msg("failed to archive malformed message")
		}
		return nil, fmt.Errorf("decode message %d from %s: %w", stored.ID, queue, ErrMalformedPayload)
	}

	return &Message{
		MsgID:      stored.ID,
		Queue:      queue,
		Payload:    payload,
		EnqueuedAt: stored.EnqueuedAt,
		ReadCount:  stored.ReadCount,
	}, nil
}

// Archive permanently removes a message from active visibility. It reports
// false, not an error, when the id is already archived or never existed.
func (c *Client) Archive(ctx context.Context, queue string, msgID int64) (bool, error) {
	archived, err := c.store.Archive(ctx, queue, msgID)
	if err != nil {
		if errors.Is(err, msgstore.ErrQueueNotFound) {
			return false, nil
		}
		return false, err
	}
	return archived, nil
}

// DeleteQueue drops the queue with all pending and archived messages. The
// companion dead letter queue is a separate queue and must be deleted
// explicitly. Reports false when the queue does not exist.
func (c *Client) DeleteQueue(ctx context.Context, queue string) (bool, error) {
	dropped, err := c.store.DropQueue(ctx, queue)
	if err != nil {
		if errors.Is(err, msgstore.ErrQueueNotFound) {
			return false, nil
		}
		return false, err
	}

	c.log.Info().Str("queue", queue).Msg("queue deleted")
	return dropped, nil
}

// RetryMessage sends a new message to queue with retry_count incremented by
// one, then archives msgID. On archive failure the new message has already
// been sent; the returned id is valid and the error reports the archive step.
func (c *Client) RetryMessage(ctx context.Context, queue string, msgID int64, payload Payload) (int64, error) {
	retryCount := payload.RetryCount() + 1

	next := payload.clone()
	next[KeyRetryCount] = retryCount

	data, err := json.Marshal(next)
	if err != nil {
		return 0, fmt.Errorf("marshal retry payload: %w", err)
	}

	newID, err := c.store.Send(ctx, queue, data)
	if err != nil {
		return 0, fmt.Errorf("re-enqueue message %d in %s: %w", msgID, queue, err)
	}

	if _, err := c.store.Archive(ctx, queue, msgID); err != nil {
		return newID, fmt.Errorf("archive retried message %d in %s: %w", msgID, queue, err)
	}

	c.log.Info().
		Str("queue", queue).
		Int64("msg_id", msgID).
		Int64("new_msg_id", newID).
		Int("retry_count", retryCount).
		Msg("message requeued for retry")
	return newID, nil
}

// MoveToDLQ sends the payload to <queue>_dlq annotated with the failure
// description and the source queue name, then archives msgID. retry_count is
// carried over unchanged. On archive failure the dead letter has already been
// sent; the returned id is valid and the error reports the archive step.
func (c *Client) MoveToDLQ(ctx context.Context, queue string, msgID int64, payload Payload, failure string) (int64, error) {
	dead := payload.clone()
	if _, ok := dead[KeyRetryCount]; !ok {
		dead[KeyRetryCount] = 0
	}
	dead[KeyError] = failure
	dead[KeyOriginalQueue] = queue

	data, err := json.Marshal(dead)
	if err != nil {
		return 0, fmt.Errorf("marshal dlq payload: %w", err)
	}

	dlq := DLQName(queue)
	newID, err := c.store.Send(ctx, dlq, data)
	if err != nil {
		return 0, fmt.Errorf("send message %d to %s: %w", msgID, dlq, err)
	}

	if _, err := c.store.Archive(ctx, queue, msgID); err != nil {
		return newID, fmt.Errorf("archive dead lettered message %d in %s: %w", msgID, queue, err)
	}

	DLQMessagesTotal.WithLabelValues(queue).Inc()
	c.log.Warn().
		Str("queue", queue).
		Str("dlq", dlq).
		Int64("msg_id", msgID).
		Int64("new_msg_id", newID).
		Str("error", failure).
		Msg("message moved to dead letter queue")
	return newID, nil
}

// RequeueFromDLQ drains up to limit messages from <queue>_dlq back into
// queue, stripping the failure annotations and resetting retry_count to zero.
// It returns the number of messages requeued; fewer than limit means the DLQ
// ran empty.
func (c *Client) RequeueFromDLQ(ctx context.Context, queue string, limit int) (int, error) {
	dlq := DLQName(queue)
	requeued := 0

	for requeued < limit {
		msg, err := c.Dequeue(ctx, dlq, 0)
		if err != nil {
			return requeued, err
		}
		if msg == nil {
			break
		}

		restored := msg.Payload.clone()
		delete(restored, KeyError)
		delete(restored, KeyOriginalQueue)
		restored[KeyRetryCount] = 0

		if _, err := c.Enqueue(ctx, queue, restored); err != nil {
			return requeued, fmt.Errorf("requeue message %d from %s: %w", msg.MsgID, dlq, err)
		}
		if _, err := c.Archive(ctx, dlq, msg.MsgID); err != nil {
			return requeued, fmt.Errorf("archive requeued message %d in %s: %w", msg.MsgID, dlq, err)
		}
		requeued++
	}

	if requeued > 0 {
		c.log.Info().Str("queue", queue).Int("requeued", requeued).Msg("dead letters requeued")
	}
	return requeued, nil
}
