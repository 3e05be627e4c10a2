package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/telhawk-systems/crm-ingest/common/event"
	"github.com/telhawk-systems/crm-ingest/common/httputil"
	"github.com/telhawk-systems/crm-ingest/common/logging"
	"github.com/telhawk-systems/crm-ingest/common/queue"
	"github.com/telhawk-systems/crm-ingest/core/internal/dlq"
)

const defaultListLimit = 100

// DeadLetterHandler lets operators inspect, purge and replay dead-lettered
// messages.
type DeadLetterHandler struct {
	dlq      dlq.Queue
	producer queue.Producer
	logger   *slog.Logger
}

// NewDeadLetterHandler accepts a nil q (every route answers 501) and a nil
// producer (replay answers 501).
func NewDeadLetterHandler(q dlq.Queue, producer queue.Producer, logger *slog.Logger) *DeadLetterHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeadLetterHandler{dlq: q, producer: producer, logger: logger}
}

// DeadLetters handles GET (list) and DELETE (purge) on /api/v1/dlq.
func (h *DeadLetterHandler) DeadLetters(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.List(w, r)
	case http.MethodDelete:
		h.Purge(w, r)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodDelete)
	}
}

// List handles GET /api/v1/dlq?limit=N.
func (h *DeadLetterHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	if !h.enabled(w) {
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	events, err := h.dlq.List(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list DLQ", logging.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, "failed to list dead letters")
		return
	}
	if events == nil {
		events = []dlq.FailedEvent{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"count":  len(events),
		"events": events,
	})
}

// Purge handles DELETE /api/v1/dlq.
func (h *DeadLetterHandler) Purge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, http.MethodDelete)
		return
	}
	if !h.enabled(w) {
		return
	}
	if err := h.dlq.Purge(r.Context()); err != nil {
		h.logger.Error("failed to purge DLQ", logging.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, "failed to purge dead letters")
		return
	}
	httputil.WriteStatus(w, http.StatusOK, "purged", "")
}

// ReplayResult counts what a replay did with each listed entry.
type ReplayResult struct {
	Replayed int `json:"replayed"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// Replay handles POST /api/v1/dlq/replay?limit=N. Entries that decode are
// enqueued again; the conditional write suppresses any that already
// committed, so replaying twice is harmless. Entries are left in the DLQ.
func (h *DeadLetterHandler) Replay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if !h.enabled(w) {
		return
	}
	if h.producer == nil {
		writeDisabled(w, "replay_disabled", "no queue producer is configured for replay")
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	events, err := h.dlq.List(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list DLQ for replay", logging.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, "failed to list dead letters")
		return
	}

	res := h.replay(r.Context(), events)
	h.logger.Info("DLQ replay finished",
		slog.Int("replayed", res.Replayed),
		slog.Int("skipped", res.Skipped),
		slog.Int("failed", res.Failed))
	httputil.WriteJSON(w, http.StatusOK, res)
}

func (h *DeadLetterHandler) replay(ctx context.Context, events []dlq.FailedEvent) ReplayResult {
	var res ReplayResult
	for _, ev := range events {
		rec, err := event.DecodeRecord([]byte(ev.Body))
		if err != nil {
			res.Skipped++
			continue
		}
		if err := h.producer.Enqueue(ctx, rec); err != nil {
			h.logger.Warn("failed to replay dead letter", logging.MessageID(ev.MessageID), logging.Error(err))
			res.Failed++
			continue
		}
		res.Replayed++
	}
	return res
}

func (h *DeadLetterHandler) enabled(w http.ResponseWriter) bool {
	if h.dlq == nil {
		writeDisabled(w, "dlq_disabled", "dead letter queue is disabled")
		return false
	}
	return true
}

func writeDisabled(w http.ResponseWriter, code, message string) {
	httputil.WriteJSON(w, http.StatusNotImplemented, map[string]string{
		"status":  "error",
		"code":    code,
		"message": message,
	})
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		httputil.WriteError(w, http.StatusBadRequest, "limit must be a positive integer")
		return 0, false
	}
	return n, true
}
