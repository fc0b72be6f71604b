// Package ops exposes the operational HTTP surface of a worker process:
// liveness, readiness, Prometheus metrics and dead letter requeue.
package ops

import (
	"context"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Pinger reports on backing store connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DLQRequeuer drains dead letter messages back into their source queue.
type DLQRequeuer interface {
	RequeueFromDLQ(ctx context.Context, queue string, limit int) (int, error)
}

// NewRouter creates a chi.Mux with the operational routes configured.
// The requeuer parameter is optional; when nil, the DLQ requeue endpoint is
// not registered.
func NewRouter(store Pinger, requeuer DLQRequeuer, log zerolog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(CorrelationIDMiddleware)
	r.Use(LoggingMiddleware(log))
	r.Use(RecoverMiddleware(log))

	r.Get("/healthz", HealthzHandler())
	r.Get("/readyz", ReadyzHandler(store))
	r.Method("GET", "/metrics", promhttp.Handler())

	if requeuer != nil {
		r.Post("/api/v1/dlq/requeue", DLQRequeueHandler(requeuer))
	}

	return r
}
