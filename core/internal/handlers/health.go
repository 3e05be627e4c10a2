package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/telhawk-systems/crm-ingest/common/httputil"
	"github.com/telhawk-systems/crm-ingest/common/messaging"
	"github.com/telhawk-systems/crm-ingest/core/internal/dlq"
	"github.com/telhawk-systems/crm-ingest/core/internal/writer"
)

const probeTimeout = 2 * time.Second

// StatsSource reports writer counters.
type StatsSource interface {
	Stats() writer.Stats
}

// Pinger checks a backend connection.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves the core service probes.
type HealthHandler struct {
	stats   StatsSource
	store   Pinger
	dlq     dlq.Queue
	backend string
	broker  messaging.Connection
}

type Option func(*HealthHandler)

func WithDeadLetter(q dlq.Queue) Option {
	return func(h *HealthHandler) { h.dlq = q }
}

// WithBroker adds queue connectivity to /readyz.
func WithBroker(backend string, conn messaging.Connection) Option {
	return func(h *HealthHandler) {
		h.backend = backend
		h.broker = conn
	}
}

func NewHealthHandler(stats StatsSource, store Pinger, opts ...Option) *HealthHandler {
	h := &HealthHandler{stats: stats, store: store}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /healthz.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Ready handles GET /readyz. It fails when the store or the broker is
// unreachable.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
	defer cancel()

	resp := map[string]any{
		"status": "ready",
		"stats":  h.stats.Stats(),
	}
	code := http.StatusOK
	degrade := func() {
		resp["status"] = "degraded"
		code = http.StatusServiceUnavailable
	}

	if err := h.store.Ping(ctx); err != nil {
		resp["storage"] = map[string]any{"connected": false, "error": err.Error()}
		degrade()
	} else {
		resp["storage"] = map[string]any{"connected": true}
	}

	if h.broker != nil {
		health := messaging.CheckClientHealth(h.broker)
		resp["queue"] = map[string]any{"backend": h.backend, "health": health}
		if !health.Connected {
			degrade()
		}
	}

	if h.dlq != nil {
		resp["dlq"] = h.dlq.Stats(ctx)
	} else {
		resp["dlq"] = map[string]any{"enabled": false}
	}

	httputil.WriteJSON(w, code, resp)
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	httputil.WriteError(w, http.StatusMethodNotAllowed, "method is not allowed")
}
