package queue

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Queue metrics for Prometheus monitoring.
var (
	MessagesEnqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskqueue_messages_enqueued_total",
			Help: "Total number of messages enqueued per queue",
		},
		[]string{"queue"},
	)

	MessagesProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskqueue_messages_processed_total",
			Help: "Total number of messages processed by outcome",
		},
		[]string{"queue", "outcome"}, // completed, retried, dead_lettered
	)

	MessageProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "taskqueue_processing_duration_seconds",
			Help:    "Duration of task handler invocations",
			Buckets: prometheus.DefBuckets,
		},
	)

	DLQMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskqueue_dlq_messages_total",
			Help: "Total number of messages promoted to a dead letter queue",
		},
		[]string{"queue"},
	)
)
