// Package main provides a standalone CLI tool for enqueueing tasks onto the
// task queue. It reads the same configuration as the worker, applies the
// configured queue name prefix, and prints the assigned message id.
//
// Usage:
//
//	taskqueue-send --queue user_tasks --task send_email --payload '{"email":"a@b.com"}'
//	taskqueue-send --queue invoice_tasks --count 10
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"

	"github.com/unisonhq/taskqueue/internal/config"
	"github.com/unisonhq/taskqueue/internal/logger"
	"github.com/unisonhq/taskqueue/internal/msgstore"
	"github.com/unisonhq/taskqueue/internal/queue"
)

type cliConfig struct {
	configPath string
	queue      string
	task       string
	payload    string
	taskID     string
	count      int
	noPrefix   bool
}

func main() {
	cli := parseFlags()

	if cli.queue == "" {
		fmt.Fprintln(os.Stderr, "error: --queue is required")
		flag.Usage()
		os.Exit(2)
	}

	var payload queue.Payload
	if err := json.Unmarshal([]byte(cli.payload), &payload); err != nil {
		fmt.Fprintf(os.Stderr, "error: --payload is not a JSON object: %v\n", err)
		os.Exit(2)
	}
	if payload == nil {
		payload = queue.Payload{}
	}
	if cli.task != "" {
		payload["task"] = cli.task
	}

	cfg, err := config.Load(cli.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level)

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
		fmt.Fprintf(os.Stderr, "failed to connect to message store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	if cfg.Store.Type != msgstore.TypePostgres {
		fmt.Fprintln(os.Stderr, "warning: store is process-local; messages vanish when this command exits")
	}

	queueName := cli.queue
	if !cli.noPrefix {
		queueName = queue.QualifiedName(cfg.Queue.NamePrefix, cli.queue)
	}

	client := queue.NewClient(store, queue.Config{
		VisibilityTimeout: cfg.Queue.VisibilityTimeout,
		MaxRetries:        cfg.Queue.MaxRetries,
		NamePrefix:        cfg.Queue.NamePrefix,
	}, log)

	failed := 0
	for i := 0; i < cli.count; i++ {
		body := make(queue.Payload, len(payload)+1)
		for k, v := range payload {
			body[k] = v
		}
		if cli.taskID != "" {
			body["task_id"] = cli.taskID
		} else if _, ok := body["task_id"]; !ok {
			body["task_id"] = uuid.NewString()
		}

		msgID, err := client.Enqueue(ctx, queueName, body)
		if err != nil {
			failed++
			fmt.Printf("  [%d/%d] FAIL: %v\n", i+1, cli.count, err)
			continue
		}
		fmt.Printf("  [%d/%d] OK   queue=%s msg_id=%d task_id=%v\n", i+1, cli.count, queueName, msgID, body["task_id"])
	}

	if failed > 0 {
		os.Exit(1)
	}
}

func parseFlags() cliConfig {
	var cli cliConfig

	flag.StringVar(&cli.configPath, "config", "config", "Directory containing config.yaml")
	flag.StringVar(&cli.queue, "queue", "", "Task queue name (prefix from config is applied)")
	flag.StringVar(&cli.task, "task", "", "Task type, stored under the payload's task key")
	flag.StringVar(&cli.payload, "payload", "{}", "Task payload as a JSON object")
	flag.StringVar(&cli.taskID, "task-id", "", "Explicit task_id (defaults to a generated UUID)")
	flag.IntVar(&cli.count, "count", 1, "Number of copies to enqueue (each gets its own task_id)")
	flag.BoolVar(&cli.noPrefix, "no-prefix", false, "Use the queue name as given, without the configured prefix")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: taskqueue-send [options]\n\n")
		fmt.Fprintf(os.Stderr, "Enqueue tasks onto the task queue.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  taskqueue-send --queue user_tasks --task send_email --payload '{\"email\":\"a@b.com\"}'\n")
		fmt.Fprintf(os.Stderr, "  taskqueue-send --queue invoice_tasks --count 10\n")
		fmt.Fprintf(os.Stderr, "  taskqueue-send --queue unison_user_tasks_dlq --no-prefix --task requeue_probe\n")
	}

	flag.Parse()
	return cli
}
