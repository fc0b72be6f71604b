package ops

import (
	"encoding/json"
	"net/http"

	"github.com/unisonhq/taskqueue/internal/logger"
)

// defaultRequeueLimit caps a requeue request that does not name a limit.
const defaultRequeueLimit = 100

// dlqRequeueRequest is the JSON body for POST /api/v1/dlq/requeue.
type dlqRequeueRequest struct {
	Queue string `json:"queue"`
	Limit int    `json:"limit"`
}

// dlqRequeueResponse is the JSON response for a DLQ requeue operation.
type dlqRequeueResponse struct {
	Queue    string `json:"queue"`
	Requeued int    `json:"requeued"`
}

// DLQRequeueHandler handles POST /api/v1/dlq/requeue.
// It drains messages from a queue's dead letter companion back into the
// queue itself, with failure annotations stripped and retry budgets reset.
func DLQRequeueHandler(requeuer DLQRequeuer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := logger.FromContext(r.Context())

		var req dlqRequeueRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		if req.Queue == "" {
			respondError(w, http.StatusBadRequest, "queue is required")
			return
		}
		if req.Limit <= 0 {
			req.Limit = defaultRequeueLimit
		}

		requeued, err := requeuer.RequeueFromDLQ(r.Context(), req.Queue, req.Limit)
		if err != nil {
			log.Error().Err(err).
				Str("queue", req.Queue).
				Int("requeued", requeued).
				Msg("dlq requeue failed")
			respondError(w, http.StatusInternalServerError, "requeue failed")
			return
		}

		log.Info().
			Str("queue", req.Queue).
			Int("requeued", requeued).
			Msg("dlq requeue completed")

		respondJSON(w, http.StatusOK, dlqRequeueResponse{
			Queue:    req.Queue,
			Requeued: requeued,
		})
	}
}
