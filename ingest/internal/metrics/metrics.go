package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values for WebhooksTotal.
const (
	OutcomeAccepted    = "accepted"
	OutcomeEmpty       = "empty"
	OutcomeMalformed   = "malformed"
	OutcomeSchema      = "schema_error"
	OutcomeAuth        = "auth_error"
	OutcomeTransport   = "transport_error"
	OutcomeRateLimited = "rate_limited"
	OutcomeTooLarge    = "too_large"
	KindUnknown        = "unknown"
)

var (
	WebhooksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_ingest_webhooks_total",
			Help: "Webhook requests by event kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	WebhookBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crm_ingest_webhook_bytes_total",
			Help: "Total bytes of webhook bodies received",
		},
	)

	ValidationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "crm_ingest_validation_duration_seconds",
			Help:    "Time spent validating and normalizing a payload",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05},
		},
	)

	EnqueueDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "crm_ingest_enqueue_duration_seconds",
			Help:    "Time spent handing a record to the queue",
			Buckets: prometheus.DefBuckets,
		},
	)

	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crm_ingest_rate_limit_hits_total",
			Help: "Requests rejected by the per-client rate limiter",
		},
	)
)
