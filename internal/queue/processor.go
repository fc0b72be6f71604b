package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Outcome describes what ProcessWithRetry did with a message.
type Outcome string

const (
	OutcomeCompleted    Outcome = "completed"
	OutcomeRetried      Outcome = "retried"
	OutcomeDeadLettered Outcome = "dead_lettered"
)

// HandlerFunc processes one task payload. A nil error archives the message;
// any other return consumes one unit of its retry budget. Leases can expire
// and redeliver, so handlers must tolerate running more than once for the
// same logical task.
type HandlerFunc func(ctx context.Context, payload Payload) (any, error)

// Result reports a message's fate. Value is set only for OutcomeCompleted.
// HandlerErr carries the handler failure behind a retry or dead letter; it is
// informational and never doubles as ProcessWithRetry's returned error.
type Result struct {
	Outcome    Outcome
	Value      any
	HandlerErr error
}

// Processor turns a handler's success or failure into a queue transition.
type Processor struct {
	client *Client
	policy *RetryPolicy
	log    zerolog.Logger
}

// NewProcessor creates a Processor using the given client and retry policy.
func NewProcessor(client *Client, policy *RetryPolicy, log zerolog.Logger) *Processor {
	return &Processor{client: client, policy: policy, log: log}
}

// ProcessWithRetry invokes handler on the message payload and settles the
// message: archive on success, re-enqueue with an incremented retry_count
// while budget remains, promote to <queue>_dlq once retry_count has reached
// the maximum. Handler failures, panics included, never propagate; a non-nil
// error always means a store operation failed, leaving the message leased
// until its visibility timeout redelivers it.
func (p *Processor) ProcessWithRetry(ctx context.Context, queue string, msg *Message, handler HandlerFunc) (Result, error) {
	start := time.Now()
	value, handlerErr := invokeHandler(ctx, msg.Payload, handler)
	MessageProcessingDuration.Observe(time.Since(start).Seconds())

	if handlerErr == nil {
		if _, err := p.client.Archive(ctx, queue, msg.MsgID); err != nil {
			return Result{}, err
		}
		MessagesProcessedTotal.WithLabelValues(queue, string(OutcomeCompleted)).Inc()
		return Result{Outcome: OutcomeCompleted, Value: value}, nil
	}

	retryCount := msg.Payload.RetryCount()
	p.log.Error().
		Err(handlerErr).
		Str("queue", queue).
		Int64("msg_id", msg.MsgID).
		Int("retry_count", retryCount).
		Msg("task processing failed")

	if p.policy.ShouldRetry(retryCount) {
		if _, err := p.client.RetryMessage(ctx, queue, msg.MsgID, msg.Payload); err != nil {
			return Result{}, err
		}
		MessagesProcessedTotal.WithLabelValues(queue, string(OutcomeRetried)).Inc()
		return Result{Outcome: OutcomeRetried, HandlerErr: handlerErr}, nil
	}

	if _, err := p.client.MoveToDLQ(ctx, queue, msg.MsgID, msg.Payload, handlerErr.Error()); err != nil {
		return Result{}, err
	}
	MessagesProcessedTotal.WithLabelValues(queue, string(OutcomeDeadLettered)).Inc()
	return Result{Outcome: OutcomeDeadLettered, HandlerErr: handlerErr}, nil
}

// invokeHandler runs handler with panics converted into ordinary failures so
// a crashing task cannot take its worker down.
func invokeHandler(ctx context.Context, payload Payload, handler HandlerFunc) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			value = nil
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, payload)
}
