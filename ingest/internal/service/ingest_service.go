package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/telhawk-systems/crm-ingest/common/event"
	"github.com/telhawk-systems/crm-ingest/common/logging"
	"github.com/telhawk-systems/crm-ingest/common/queue"
	"github.com/telhawk-systems/crm-ingest/ingest/internal/metrics"
	"github.com/telhawk-systems/crm-ingest/ingest/internal/models"
	"github.com/telhawk-systems/crm-ingest/ingest/internal/validator"
)

// Validator is the boundary check applied before anything is enqueued.
type Validator interface {
	Validate(raw map[string]any) (event.Record, error)
}

// IngestService validates webhook payloads and hands accepted records to the
// queue. Rejected payloads never reach the producer.
type IngestService struct {
	validator      Validator
	producer       queue.Producer
	enqueueTimeout time.Duration
	logger         *logging.Logger

	statsMu sync.RWMutex
	stats   models.IngestionStats
}

func NewIngestService(v Validator, p queue.Producer, enqueueTimeout time.Duration, logger *logging.Logger) *IngestService {
	if logger == nil {
		logger = logging.Discard()
	}
	if enqueueTimeout <= 0 {
		enqueueTimeout = 5 * time.Second
	}
	return &IngestService{
		validator:      v,
		producer:       p,
		enqueueTimeout: enqueueTimeout,
		logger:         logger,
	}
}

// Ingest validates raw and enqueues the resulting record. Errors are either
// from the validator package (client errors) or a *queue.TransportError.
func (s *IngestService) Ingest(ctx context.Context, raw map[string]any) (event.Record, error) {
	start := time.Now()
	rec, err := s.validator.Validate(raw)
	metrics.ValidationDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		s.recordRejection(err)
		return event.Record{}, err
	}

	enqueueCtx, cancel := context.WithTimeout(ctx, s.enqueueTimeout)
	defer cancel()

	start = time.Now()
	err = s.producer.Enqueue(enqueueCtx, rec)
	metrics.EnqueueDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		var te *queue.TransportError
		if !errors.As(err, &te) {
			err = &queue.TransportError{Op: "enqueue", Err: err}
		}
		s.bump(func(st *models.IngestionStats) { st.TransportErrors++ })
		s.logger.ErrorContext(ctx, "enqueue failed",
			logging.WebhookID(rec.Kind().String()),
			logging.PartitionKey(rec.Key().PartitionKey),
			logging.Error(err))
		return event.Record{}, err
	}

	s.bump(func(st *models.IngestionStats) {
		st.Accepted++
		st.LastAccepted = time.Now().UTC()
	})
	s.logger.DebugContext(ctx, "record enqueued",
		logging.WebhookID(rec.Kind().String()),
		logging.PartitionKey(rec.Key().PartitionKey),
		logging.SortKey(rec.Key().SortKey))
	return rec, nil
}

func (s *IngestService) recordRejection(err error) {
	var authErr *validator.AuthError
	switch {
	case errors.Is(err, validator.ErrEmptyPayload):
		s.bump(func(st *models.IngestionStats) { st.EmptyRejected++ })
	case errors.As(err, &authErr):
		s.bump(func(st *models.IngestionStats) { st.AuthRejected++ })
	default:
		s.bump(func(st *models.IngestionStats) { st.SchemaRejected++ })
	}
}

func (s *IngestService) bump(fn func(*models.IngestionStats)) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	s.stats.Received++
	fn(&s.stats)
}

func (s *IngestService) GetStats() models.IngestionStats {
	s.statsMu.RLock()
	defer s.statsMu.RUnlock()
	return s.stats
}

// Close releases the producer.
func (s *IngestService) Close() error {
	if err := s.producer.Close(); err != nil {
		return fmt.Errorf("close producer: %w", err)
	}
	return nil
}
