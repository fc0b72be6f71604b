package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/unisonhq/taskqueue/internal/config"
	"github.com/unisonhq/taskqueue/internal/logger"
	"github.com/unisonhq/taskqueue/internal/msgstore"
	"github.com/unisonhq/taskqueue/internal/ops"
	"github.com/unisonhq/taskqueue/internal/queue"
	"github.com/unisonhq/taskqueue/internal/worker"
)

func main() {
	cfg, err := config.Load("config")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewFromConfig(logger.Config{
		Level:      cfg.Logging.Level,
		Output:     cfg.Logging.Output,
		FilePath:   cfg.Logging.FilePath,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	log.Info().Msg("starting task queue worker")

	if cfg.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.Sentry.DSN,
			Environment:      cfg.Sentry.Environment,
			Release:          cfg.Sentry.Release,
			AttachStacktrace: true,
			SampleRate:       1,
		}); err != nil {
			log.Error().Err(err).Msg("sentry init failed")
		}
		defer sentry.Flush(2 * time.Second)
	}

	ctx := context.Background()

	store, err := msgstore.New(ctx, msgstore.Config{
		Type: cfg.Store.Type,
		Postgres: msgstore.PostgresConfig{
			URL:            cfg.Database.URL,
			PoolMin:        cfg.Database.PoolMin,
			PoolMax:        cfg.Database.PoolMax,
			ConnectTimeout: cfg.Database.ConnectTimeout,
		},
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to message store")
	}
	defer store.Close()

	queueCfg := queue.Config{
		VisibilityTimeout: cfg.Queue.VisibilityTimeout,
		MaxRetries:        cfg.Queue.MaxRetries,
		NamePrefix:        cfg.Queue.NamePrefix,
	}

	client := queue.NewClient(store, queueCfg, log)
	proc := queue.NewProcessor(client, queue.NewRetryPolicy(queueCfg.MaxRetries), log)

	var dedupe worker.DedupeStore
	if cfg.Worker.Dedupe.Enabled {
		switch cfg.Worker.Dedupe.Backend {
		case "redis":
			redisClient := redis.NewClient(&redis.Options{Addr: cfg.Worker.Dedupe.RedisAddr})
			if err := redisClient.Ping(ctx).Err(); err != nil {
				log.Fatal().Err(err).Msg("failed to connect to Redis")
			}
			defer redisClient.Close()
			dedupe = worker.NewRedisDedupeStore(redisClient, cfg.Worker.Dedupe.TTL)
		default:
			dedupe = worker.NewMemoryDedupeStore(cfg.Worker.Dedupe.TTL)
		}
	}

	// Callers own queue naming; the prefix is applied here, not inside the
	// client.
	queueName := queue.QualifiedName(cfg.Queue.NamePrefix, cfg.Worker.Queue)

	pool := worker.NewPool(client, proc, taskHandler(log), dedupe, worker.Config{
		Queue:           queueName,
		Count:           cfg.Worker.Count,
		PollInterval:    cfg.Worker.PollInterval,
		ProcessTimeout:  cfg.Worker.ProcessTimeout,
		ShutdownTimeout: cfg.Worker.ShutdownTimeout,
		DedupeKey:       cfg.Worker.Dedupe.Key,
	}, log)

	if cfg.Sentry.DSN != "" {
		pool.SetResultHook(reportDeadLetters(queueName))
	}

	if err := pool.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start worker pool")
	}

	opsServer := &http.Server{
		Addr:    cfg.Ops.Addr,
		Handler: ops.NewRouter(store, client, log),
	}
	go func() {
		log.Info().Str("addr", cfg.Ops.Addr).Msg("ops server listening")
		if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("ops server error")
		}
	}()

	log.Info().
		Int("workers", cfg.Worker.Count).
		Str("queue", queueName).
		Msg("task queue worker started")

	// Wait for interrupt signal for graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down task queue worker")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer cancel()

	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("ops server shutdown failed")
	}
	if err := pool.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("worker pool shutdown failed")
	}

	log.Info().Msg("task queue worker stopped")
}

// taskHandler returns the handler run for every leased task. Deployments
// replace this with their own dispatch; the default logs the task and
// completes it.
func taskHandler(log zerolog.Logger) queue.HandlerFunc {
	return func(_ context.Context, payload queue.Payload) (any, error) {
		task, _ := payload["task"].(string)
		log.Info().
			Str("task", task).
			Int("retry_count", payload.RetryCount()).
			Msg("task received")
		return nil, nil
	}
}

// reportDeadLetters forwards dead letter promotions to Sentry. Retries are
// routine and stay out of the error tracker.
func reportDeadLetters(queueName string) func(*queue.Message, queue.Result) {
	return func(msg *queue.Message, res queue.Result) {
		if res.Outcome != queue.OutcomeDeadLettered {
			return
		}
		sentry.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("queue", queueName)
			scope.SetTag("msg_id", strconv.FormatInt(msg.MsgID, 10))
			sentry.CaptureException(res.HandlerErr)
		})
	}
}
