// Package dlq parks queue messages the writer gave up on. The core service
// exposes them for listing, purging and replay under /api/v1/dlq.
package dlq

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/telhawk-systems/crm-ingest/common/messaging/nats"
	"github.com/telhawk-systems/crm-ingest/common/queue"
)

// Reasons attached to dead-lettered messages.
const (
	ReasonDecode  = "decode"
	ReasonStore   = "store"
	ReasonPanic   = "panic"
	ReasonTimeout = "timeout"
)

// Backend names accepted in Config.Backend.
const (
	BackendFile      = "file"
	BackendJetStream = "jetstream"
)

// FailedEvent captures a message that exhausted its attempts.
type FailedEvent struct {
	Timestamp   time.Time `json:"timestamp"`
	MessageID   string    `json:"message_id"`
	Body        string    `json:"body"`
	Error       string    `json:"error"`
	Reason      string    `json:"reason"`
	Attempts    int       `json:"attempts"`
	FirstSeenAt time.Time `json:"first_seen_at"`
}

func newFailedEvent(d queue.Delivery, err error, reason string) FailedEvent {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return FailedEvent{
		Timestamp:   time.Now().UTC(),
		MessageID:   d.ID,
		Body:        string(d.Body),
		Error:       msg,
		Reason:      reason,
		Attempts:    d.Attempt,
		FirstSeenAt: d.ReceivedAt.UTC(),
	}
}

// Queue is a dead-letter sink.
type Queue interface {
	Write(ctx context.Context, d queue.Delivery, err error, reason string) error
	List(ctx context.Context, limit int) ([]FailedEvent, error)
	Purge(ctx context.Context) error
	Stats(ctx context.Context) map[string]any
}

type Config struct {
	Enabled  bool   `mapstructure:"enabled"`
	Backend  string `mapstructure:"backend"`
	BasePath string `mapstructure:"base_path"`
	NATSURL  string `mapstructure:"nats_url"`
}

// Open builds the configured DLQ. It returns nil when the DLQ is disabled.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (Queue, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch cfg.Backend {
	case BackendFile, "":
		q, err := NewFileQueue(cfg.BasePath, logger)
		if err != nil {
			return nil, err
		}
		return q, nil
	case BackendJetStream:
		ncfg := nats.DefaultConfig(cfg.NATSURL, "crm-core-dlq")
		ncfg.Logger = logger
		js, err := nats.NewJetStreamClient(ncfg)
		if err != nil {
			return nil, fmt.Errorf("connect dlq broker: %w", err)
		}
		q, err := NewJetStreamQueue(ctx, js, logger)
		if err != nil {
			_ = js.Close()
			return nil, err
		}
		return q, nil
	default:
		return nil, fmt.Errorf("unknown dlq backend %q", cfg.Backend)
	}
}
