package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/telhawk-systems/crm-ingest/common/middleware"
	"github.com/telhawk-systems/crm-ingest/core/internal/handlers"
)

// NewRouter wires HTTP routes for the core service.
func NewRouter(h *handlers.HealthHandler, d *handlers.DeadLetterHandler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.Health)
	mux.HandleFunc("/readyz", h.Ready)
	mux.HandleFunc("/api/v1/dlq", d.DeadLetters)
	mux.HandleFunc("/api/v1/dlq/replay", d.Replay)
	mux.Handle("/metrics", promhttp.Handler())
	return middleware.RequestID(mux)
}
