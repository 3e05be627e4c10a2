package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// KindUnknown labels items whose body could not be decoded.
const KindUnknown = "unknown"

var (
	WritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_core_writes_total",
			Help: "Conditional writes by event kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	WriteDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crm_core_write_duration_seconds",
			Help:    "Time spent on a single conditional write",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	BatchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crm_core_batches_total",
			Help: "Batches processed",
		},
	)

	BatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "crm_core_batch_size",
			Help:    "Messages per processed batch",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
		},
	)

	BatchItemFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crm_core_batch_item_failures_total",
			Help: "Items reported back to the queue for redelivery",
		},
	)

	DeadLettered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crm_core_dead_lettered_total",
			Help: "Messages moved to the dead-letter queue by reason",
		},
		[]string{"reason"},
	)

	ItemPanics = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crm_core_item_panics_total",
			Help: "Panics recovered while processing a single item",
		},
	)

	SettleErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "crm_core_settle_errors_total",
			Help: "Failed attempts to acknowledge or release a batch",
		},
	)
)
