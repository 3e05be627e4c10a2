package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/telhawk-systems/crm-ingest/common/middleware"
	"github.com/telhawk-systems/crm-ingest/ingest/internal/handlers"
)

// NewRouter registers the webhook boundary, probes and metrics.
func NewRouter(h *handlers.WebhookHandler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/webhook", h.HandleWebhook)
	mux.HandleFunc("GET /{$}", h.Root)

	mux.HandleFunc("GET /healthz", h.Health)
	mux.HandleFunc("GET /readyz", h.Ready)
	mux.Handle("GET /metrics", promhttp.Handler())

	return middleware.RequestID(mux)
}
