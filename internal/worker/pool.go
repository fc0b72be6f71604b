// Package worker polls a task queue and settles every leased message through
// the retry orchestrator. It owns the polling cadence and the worker
// goroutine lifecycle; the queue semantics live in internal/queue.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/unisonhq/taskqueue/internal/queue"
)

// Config holds worker pool settings. It mirrors the worker section of
// config.Config to avoid a circular import.
type Config struct {
	Queue           string
	Count           int
	PollInterval    time.Duration
	ProcessTimeout  time.Duration
	ShutdownTimeout time.Duration
	DedupeKey       string
}

// Pool manages a set of worker goroutines that poll one queue and run each
// leased message through ProcessWithRetry. Store failures never drop a
// message: the lease is left to expire and the message is redelivered.
type Pool struct {
	client   *queue.Client
	proc     *queue.Processor
	handler  queue.HandlerFunc
	dedupe   DedupeStore
	config   Config
	log      zerolog.Logger
	onResult func(*queue.Message, queue.Result)
	wg       sync.WaitGroup
	cancel   context.CancelFunc
}

// NewPool creates a Pool. dedupe may be nil, in which case every delivery is
// handed to the handler.
func NewPool(
	client *queue.Client,
	proc *queue.Processor,
	handler queue.HandlerFunc,
	dedupe DedupeStore,
	cfg Config,
	log zerolog.Logger,
) *Pool {
	return &Pool{
		client:  client,
		proc:    proc,
		handler: handler,
		dedupe:  dedupe,
		config:  cfg,
		log:     log,
	}
}

// SetResultHook registers fn to run after every settled message, for
// observers such as error reporting. Must be called before Start.
func (p *Pool) SetResultHook(fn func(*queue.Message, queue.Result)) {
	p.onResult = fn
}

// Start launches the configured number of worker goroutines.
func (p *Pool) Start(ctx context.Context) error {
	if p.config.Count <= 0 {
		return fmt.Errorf("worker count must be positive, got %d", p.config.Count)
	}

	ctx, p.cancel = context.WithCancel(ctx)

	for i := range p.config.Count {
		p.wg.Add(1)
		go p.runWorker(ctx, fmt.Sprintf("worker-%d", i))
	}

	p.log.Info().
		Int("worker_count", p.config.Count).
		Str("queue", p.config.Queue).
		Msg("worker pool started")

	return nil
}

// Stop signals all workers to stop and waits up to the configured shutdown
// timeout for them to finish processing.
func (p *Pool) Stop(ctx context.Context) error {
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.log.Info().Msg("worker pool stopped gracefully")
		return nil
	case <-time.After(p.config.ShutdownTimeout):
		p.log.Warn().Msg("worker pool shutdown timed out")
		return fmt.Errorf("shutdown timed out after %s", p.config.ShutdownTimeout)
	}
}

// runWorker is the main loop for a single worker goroutine.
func (p *Pool) runWorker(ctx context.Context, name string) {
	defer p.wg.Done()

	p.log.Info().Str("worker", name).Msg("worker started")

	for {
		select {
		case <-ctx.Done():
			p.log.Info().Str("worker", name).Msg("worker stopping")
			return
		default:
		}

		msg, err := p.client.Dequeue(ctx, p.config.Queue, 0)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.log.Error().Err(err).Str("worker", name).Msg("dequeue error")
			p.idle(ctx)
			continue
		}
		if msg == nil {
			p.idle(ctx)
			continue
		}

		p.processMessage(ctx, name, msg)
	}
}

// idle sleeps one poll interval or until the context is cancelled.
func (p *Pool) idle(ctx context.Context) {
	timer := time.NewTimer(p.config.PollInterval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// processMessage settles one leased message. A settlement error leaves the
// lease in place; the visibility timeout redelivers the message later.
func (p *Pool) processMessage(ctx context.Context, name string, msg *queue.Message) {
	if p.dedupe != nil && p.skipDuplicate(ctx, msg) {
		return
	}

	processCtx, cancel := context.WithTimeout(ctx, p.config.ProcessTimeout)
	defer cancel()

	res, err := p.proc.ProcessWithRetry(processCtx, p.config.Queue, msg, p.handler)
	if err != nil {
		p.log.Error().Err(err).
			Str("worker", name).
			Int64("msg_id", msg.MsgID).
			Msg("message settlement failed, lease left to expire")
		return
	}

	if p.dedupe != nil && res.Outcome == queue.OutcomeCompleted {
		if key := p.dedupeValue(msg); key != "" {
			if err := p.dedupe.Mark(ctx, key); err != nil {
				p.log.Error().Err(err).Int64("msg_id", msg.MsgID).Msg("dedupe mark failed")
			}
		}
	}

	if p.onResult != nil {
		p.onResult(msg, res)
	}
}

// skipDuplicate reports whether msg repeats an already completed task and
// archives the duplicate so it is not redelivered. Dedupe failures fall back
// to processing: running a task twice is allowed, dropping it is not.
func (p *Pool) skipDuplicate(ctx context.Context, msg *queue.Message) bool {
	key := p.dedupeValue(msg)
	if key == "" {
		return false
	}

	seen, err := p.dedupe.Seen(ctx, key)
	if err != nil {
		p.log.Error().Err(err).Int64("msg_id", msg.MsgID).Msg("dedupe check failed")
		return false
	}
	if !seen {
		return false
	}

	p.log.Info().
		Int64("msg_id", msg.MsgID).
		Str("dedupe_key", key).
		Msg("duplicate task skipped")

	if _, err := p.client.Archive(ctx, p.config.Queue, msg.MsgID); err != nil {
		p.log.Error().Err(err).Int64("msg_id", msg.MsgID).Msg("failed to archive duplicate")
	}
	return true
}

// dedupeValue extracts the configured dedupe key from the payload. Payloads
// without the key, or with a non-string value, are never deduplicated.
func (p *Pool) dedupeValue(msg *queue.Message) string {
	if p.config.DedupeKey == "" {
		return ""
	}
	v, ok := msg.Payload[p.config.DedupeKey].(string)
	if !ok {
		return ""
	}
	return v
}
