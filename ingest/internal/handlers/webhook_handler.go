package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/telhawk-systems/crm-ingest/common/event"
	"github.com/telhawk-systems/crm-ingest/common/httputil"
	"github.com/telhawk-systems/crm-ingest/common/logging"
	"github.com/telhawk-systems/crm-ingest/common/messaging"
	"github.com/telhawk-systems/crm-ingest/common/queue"
	"github.com/telhawk-systems/crm-ingest/ingest/internal/metrics"
	"github.com/telhawk-systems/crm-ingest/ingest/internal/models"
	"github.com/telhawk-systems/crm-ingest/ingest/internal/ratelimit"
	"github.com/telhawk-systems/crm-ingest/ingest/internal/validator"
)

// Response messages. The 400 and 500 texts are part of the public contract.
const (
	msgNoData        = "No data received"
	msgStorage       = "Internal storage failure"
	msgMalformed     = "Malformed JSON payload"
	msgNotObject     = "Payload must be a JSON object"
	msgTooLarge      = "Payload too large"
	msgRateLimited   = "Rate limit exceeded"
	msgMethod        = "Method not allowed"
	msgInternalError = "Internal server error"
)

// Ingester is the service behind POST /webhook.
type Ingester interface {
	Ingest(ctx context.Context, raw map[string]any) (event.Record, error)
	GetStats() models.IngestionStats
}

type WebhookHandler struct {
	ingester     Ingester
	limiter      ratelimit.RateLimiter
	maxBodyBytes int64
	logger       *logging.Logger
	broker       messaging.Connection
	backend      string
}

// Option customises a WebhookHandler.
type Option func(*WebhookHandler)

func WithRateLimiter(l ratelimit.RateLimiter) Option {
	return func(h *WebhookHandler) { h.limiter = l }
}

func WithMaxBodyBytes(n int64) Option {
	return func(h *WebhookHandler) { h.maxBodyBytes = n }
}

func WithLogger(l *logging.Logger) Option {
	return func(h *WebhookHandler) { h.logger = l }
}

// WithBroker makes /readyz report the broker connection. backend names the
// queue backend in the response.
func WithBroker(backend string, conn messaging.Connection) Option {
	return func(h *WebhookHandler) {
		h.backend = backend
		h.broker = conn
	}
}

func NewWebhookHandler(ingester Ingester, opts ...Option) *WebhookHandler {
	h := &WebhookHandler{
		ingester:     ingester,
		limiter:      ratelimit.NoOpRateLimiter{},
		maxBodyBytes: 256 * 1024,
		logger:       logging.Discard(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleWebhook is POST /webhook.
func (h *WebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	clientIP := httputil.GetClientIP(r)
	log := h.logger.With(logging.IP(clientIP))

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		httputil.WriteError(w, http.StatusMethodNotAllowed, msgMethod)
		return
	}

	allowed, err := h.limiter.Allow(ctx, clientIP)
	if err != nil {
		// Fail open: losing the limiter must not drop webhooks.
		log.WarnContext(ctx, "rate limiter unavailable", logging.Error(err))
	} else if !allowed {
		h.reject(w, http.StatusTooManyRequests, msgRateLimited, metrics.KindUnknown, metrics.OutcomeRateLimited)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	defer r.Body.Close()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.reject(w, http.StatusRequestEntityTooLarge, msgTooLarge, metrics.KindUnknown, metrics.OutcomeTooLarge)
			return
		}
		h.reject(w, http.StatusBadRequest, msgNoData, metrics.KindUnknown, metrics.OutcomeEmpty)
		return
	}
	metrics.WebhookBytesTotal.Add(float64(len(body)))

	raw, status, msg := decodeObject(body)
	if status != 0 {
		outcome := metrics.OutcomeMalformed
		if status == http.StatusBadRequest {
			outcome = metrics.OutcomeEmpty
			log.WarnContext(ctx, "received empty payload")
		}
		h.reject(w, status, msg, metrics.KindUnknown, outcome)
		return
	}

	kind := kindLabel(raw)
	rec, err := h.ingester.Ingest(ctx, raw)
	if err != nil {
		h.handleIngestError(ctx, w, log, kind, err)
		return
	}

	metrics.WebhooksTotal.WithLabelValues(kind, metrics.OutcomeAccepted).Inc()
	log.InfoContext(ctx, "webhook accepted",
		logging.WebhookID(rec.Kind().String()),
		logging.PartitionKey(rec.Key().PartitionKey),
		logging.SortKey(rec.Key().SortKey),
		logging.Duration(time.Since(start).Milliseconds()))
	httputil.WriteStatus(w, http.StatusAccepted, "accepted", "")
}

func (h *WebhookHandler) handleIngestError(ctx context.Context, w http.ResponseWriter, log *logging.Logger, kind string, err error) {
	var (
		schemaErr    *validator.SchemaError
		authErr      *validator.AuthError
		transportErr *queue.TransportError
	)
	switch {
	case errors.Is(err, validator.ErrEmptyPayload):
		log.WarnContext(ctx, "received empty payload")
		h.reject(w, http.StatusBadRequest, msgNoData, kind, metrics.OutcomeEmpty)
	case errors.As(err, &authErr):
		log.WarnContext(ctx, "webhook rejected", logging.WebhookID(kind), logging.Error(err))
		h.reject(w, http.StatusUnprocessableEntity, err.Error(), kind, metrics.OutcomeAuth)
	case errors.As(err, &schemaErr):
		log.InfoContext(ctx, "webhook rejected", logging.WebhookID(kind), logging.Error(err))
		h.reject(w, http.StatusUnprocessableEntity, err.Error(), kind, metrics.OutcomeSchema)
	case errors.As(err, &transportErr):
		log.ErrorContext(ctx, "failed to enqueue webhook", logging.WebhookID(kind), logging.Error(err))
		h.reject(w, http.StatusInternalServerError, msgStorage, kind, metrics.OutcomeTransport)
	default:
		log.ErrorContext(ctx, "unexpected ingest failure", logging.WebhookID(kind), logging.Error(err))
		h.reject(w, http.StatusInternalServerError, msgInternalError, kind, metrics.OutcomeTransport)
	}
}

func (h *WebhookHandler) reject(w http.ResponseWriter, status int, msg, kind, outcome string) {
	metrics.WebhooksTotal.WithLabelValues(kind, outcome).Inc()
	httputil.WriteError(w, status, msg)
}

// decodeObject parses body as a single JSON object. A non-zero status
// means the request is answered without reaching the validator.
func decodeObject(body []byte) (map[string]any, int, string) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, http.StatusBadRequest, msgNoData
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, http.StatusUnprocessableEntity, msgMalformed
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, http.StatusUnprocessableEntity, msgMalformed
	}

	switch obj := v.(type) {
	case nil:
		return nil, http.StatusBadRequest, msgNoData
	case map[string]any:
		if len(obj) == 0 {
			return nil, http.StatusBadRequest, msgNoData
		}
		return obj, 0, ""
	default:
		return nil, http.StatusUnprocessableEntity, msgNotObject
	}
}

// kindLabel bounds metric cardinality to the closed set of kinds.
func kindLabel(raw map[string]any) string {
	if s, ok := raw["webhook_id"].(string); ok && event.Kind(s).Valid() {
		return s
	}
	return metrics.KindUnknown
}

// Root is GET /.
func (h *WebhookHandler) Root(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		httputil.WriteError(w, http.StatusNotFound, "Not found")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "online"})
}

func (h *WebhookHandler) Health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Ready reports ingestion stats and, when configured, broker health.
func (h *WebhookHandler) Ready(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status": "ready",
		"stats":  h.ingester.GetStats(),
	}
	code := http.StatusOK
	if h.broker != nil {
		health := messaging.CheckClientHealth(h.broker)
		resp["queue"] = map[string]any{"backend": h.backend, "health": health}
		if !health.Connected {
			resp["status"] = "degraded"
			code = http.StatusServiceUnavailable
		}
	}
	httputil.WriteJSON(w, code, resp)
}
