// Package writer turns a batch of queue deliveries into conditional store
// writes and reports which deliveries must be redelivered.
package writer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/telhawk-systems/crm-ingest/common/event"
	"github.com/telhawk-systems/crm-ingest/common/logging"
	"github.com/telhawk-systems/crm-ingest/common/queue"
	"github.com/telhawk-systems/crm-ingest/core/internal/dlq"
	"github.com/telhawk-systems/crm-ingest/core/internal/metrics"
	"github.com/telhawk-systems/crm-ingest/core/internal/storage"
)

const deadLetterTimeout = 5 * time.Second

type Config struct {
	ItemConcurrency int           `mapstructure:"item_concurrency"`
	ItemTimeout     time.Duration `mapstructure:"item_timeout"`

	// MaxAttempts is the delivery count after which a still failing item is
	// dead-lettered instead of redelivered. It has no effect without a DLQ.
	MaxAttempts int `mapstructure:"max_attempts"`
}

func (c Config) withDefaults() Config {
	if c.ItemConcurrency <= 0 {
		c.ItemConcurrency = 10
	}
	if c.ItemTimeout <= 0 {
		c.ItemTimeout = 5 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	return c
}

// Stats is reported on /readyz.
type Stats struct {
	UptimeSeconds int64  `json:"uptime_seconds"`
	Batches       uint64 `json:"batches"`
	Processed     uint64 `json:"processed"`
	Committed     uint64 `json:"committed"`
	Duplicates    uint64 `json:"duplicates"`
	Failed        uint64 `json:"failed"`
	DeadLettered  uint64 `json:"dead_lettered"`
	Panics        uint64 `json:"panics"`
}

type Writer struct {
	store     storage.Store
	dlq       dlq.Queue
	cfg       Config
	logger    *logging.Logger
	startedAt time.Time

	batches      atomic.Uint64
	processed    atomic.Uint64
	committed    atomic.Uint64
	duplicates   atomic.Uint64
	failed       atomic.Uint64
	deadLettered atomic.Uint64
	panics       atomic.Uint64
}

type Option func(*Writer)

// WithDeadLetter enables dead-lettering of items that keep failing.
func WithDeadLetter(q dlq.Queue) Option {
	return func(w *Writer) { w.dlq = q }
}

func WithLogger(l *logging.Logger) Option {
	return func(w *Writer) { w.logger = l }
}

func New(store storage.Store, cfg Config, opts ...Option) *Writer {
	w := &Writer{
		store:     store,
		cfg:       cfg.withDefaults(),
		logger:    logging.Default(),
		startedAt: time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// itemError tags an item failure with its dead-letter reason.
type itemError struct {
	reason string
	err    error
}

func (e *itemError) Error() string { return e.err.Error() }

func (e *itemError) Unwrap() error { return e.err }

// ProcessBatch writes every delivery in batch and returns the ids of those
// that must be redelivered. A failing item never affects the others.
// Duplicates and dead-lettered items count as success.
func (w *Writer) ProcessBatch(ctx context.Context, batch []queue.Delivery) queue.BatchResponse {
	var resp queue.BatchResponse
	if len(batch) == 0 {
		return resp
	}
	w.batches.Add(1)
	metrics.BatchesTotal.Inc()
	metrics.BatchSize.Observe(float64(len(batch)))

	ok := make([]bool, len(batch))
	var g errgroup.Group
	g.SetLimit(w.cfg.ItemConcurrency)
	for i, d := range batch {
		g.Go(func() error {
			ok[i] = w.handle(ctx, d)
			return nil
		})
	}
	_ = g.Wait()

	for i, d := range batch {
		if !ok[i] {
			resp.Fail(d.ID)
		}
	}
	if n := len(resp.BatchItemFailures); n > 0 {
		metrics.BatchItemFailures.Add(float64(n))
		w.logger.Warn("batch completed with failures",
			logging.BatchSize(len(batch)),
			slog.Int("failed", n))
	}
	return resp
}

// handle reports whether d can be removed from the queue.
func (w *Writer) handle(ctx context.Context, d queue.Delivery) bool {
	w.processed.Add(1)
	err := w.process(ctx, d)
	if err == nil {
		return true
	}
	w.failed.Add(1)

	reason := dlq.ReasonStore
	var ie *itemError
	if errors.As(err, &ie) {
		reason = ie.reason
	}
	log := w.logger.With(logging.MessageID(d.ID), logging.Attempt(d.Attempt), slog.String("reason", reason))

	if w.dlq == nil || d.Attempt < w.cfg.MaxAttempts {
		log.Warn("item failed, leaving for redelivery", logging.Error(err))
		return false
	}

	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deadLetterTimeout)
	defer cancel()
	if dErr := w.dlq.Write(dctx, d, err, reason); dErr != nil {
		log.Error("failed to dead-letter item", logging.Error(err), slog.String("dlq_error", dErr.Error()))
		return false
	}
	w.deadLettered.Add(1)
	metrics.DeadLettered.WithLabelValues(reason).Inc()
	log.Error("item dead-lettered after max attempts", logging.Error(err))
	return true
}

func (w *Writer) process(ctx context.Context, d queue.Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.panics.Add(1)
			metrics.ItemPanics.Inc()
			err = &itemError{reason: dlq.ReasonPanic, err: fmt.Errorf("panic: %v", r)}
			w.logger.Error("recovered panic while writing item",
				logging.MessageID(d.ID),
				slog.String("stack", string(debug.Stack())))
		}
	}()

	if err := ctx.Err(); err != nil {
		return &itemError{reason: dlq.ReasonTimeout, err: fmt.Errorf("batch deadline: %w", err)}
	}

	rec, err := event.DecodeRecord(d.Body)
	if err != nil {
		metrics.WritesTotal.WithLabelValues(metrics.KindUnknown, storage.Failed.String()).Inc()
		return &itemError{reason: dlq.ReasonDecode, err: err}
	}
	item, err := storage.NewItem(rec, d.Body)
	if err != nil {
		return &itemError{reason: dlq.ReasonDecode, err: err}
	}

	ictx, cancel := context.WithTimeout(ctx, w.cfg.ItemTimeout)
	defer cancel()

	start := time.Now()
	res := w.store.PutIfAbsent(ictx, item)
	metrics.WriteDuration.WithLabelValues(res.Outcome.String()).Observe(time.Since(start).Seconds())
	metrics.WritesTotal.WithLabelValues(item.Kind.String(), res.Outcome.String()).Inc()

	attrs := []any{
		logging.MessageID(d.ID),
		logging.WebhookID(item.Kind.String()),
		logging.PartitionKey(item.Key.PartitionKey),
		logging.SortKey(item.Key.SortKey),
		logging.RecordHash(item.RecordHash),
		logging.Attempt(d.Attempt),
	}
	switch res.Outcome {
	case storage.Committed:
		w.committed.Add(1)
		w.logger.Info("record stored", attrs...)
		return nil
	case storage.AlreadyExists:
		w.duplicates.Add(1)
		w.logger.Info("duplicate record skipped", attrs...)
		return nil
	default:
		cause := res.Reason
		if cause == nil {
			cause = errors.New("store reported failure")
		}
		reason := dlq.ReasonStore
		if errors.Is(cause, context.DeadlineExceeded) {
			reason = dlq.ReasonTimeout
		}
		return &itemError{reason: reason, err: cause}
	}
}

func (w *Writer) Stats() Stats {
	return Stats{
		UptimeSeconds: int64(time.Since(w.startedAt).Seconds()),
		Batches:       w.batches.Load(),
		Processed:     w.processed.Load(),
		Committed:     w.committed.Load(),
		Duplicates:    w.duplicates.Load(),
		Failed:        w.failed.Load(),
		DeadLettered:  w.deadLettered.Load(),
		Panics:        w.panics.Load(),
	}
}
