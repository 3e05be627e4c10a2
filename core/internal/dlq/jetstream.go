package dlq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/telhawk-systems/crm-ingest/common/logging"
	"github.com/telhawk-systems/crm-ingest/common/messaging"
	"github.com/telhawk-systems/crm-ingest/common/messaging/nats"
	"github.com/telhawk-systems/crm-ingest/common/queue"
)

// JetStreamQueue publishes failed messages to a JetStream stream shared by
// every core instance.
type JetStreamQueue struct {
	js      *nats.JetStreamClient
	pub     messaging.Publisher
	stream  jetstream.Stream
	logger  *slog.Logger
	written atomic.Uint64
}

func NewJetStreamQueue(ctx context.Context, js *nats.JetStreamClient, logger *slog.Logger) (*JetStreamQueue, error) {
	if js == nil {
		return nil, fmt.Errorf("jetstream client is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	stream, err := js.CreateOrUpdateStream(ctx, nats.IngestDLQStream)
	if err != nil {
		return nil, fmt.Errorf("create dlq stream: %w", err)
	}
	logger.Info("DLQ: JetStream stream ready", slog.String("stream", nats.IngestDLQStream.Name))

	return &JetStreamQueue{js: js, pub: js, stream: stream, logger: logger}, nil
}

func (q *JetStreamQueue) Write(ctx context.Context, d queue.Delivery, err error, reason string) error {
	data, marshalErr := json.Marshal(newFailedEvent(d, err, reason))
	if marshalErr != nil {
		return fmt.Errorf("marshal dlq entry: %w", marshalErr)
	}

	if pubErr := q.pub.Publish(ctx, messaging.DLQSubject(reason), data); pubErr != nil {
		return fmt.Errorf("publish dlq entry: %w", pubErr)
	}

	q.written.Add(1)
	q.logger.Warn("DLQ: published failed message",
		slog.String("reason", reason),
		logging.MessageID(d.ID))
	return nil
}

// List reads up to limit entries through an ephemeral consumer without
// removing them.
func (q *JetStreamQueue) List(ctx context.Context, limit int) ([]FailedEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	consumer, err := q.stream.OrderedConsumer(ctx, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{messaging.SubjectDLQPrefix + ">"},
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("create list consumer: %w", err)
	}

	msgs, err := consumer.Fetch(limit, jetstream.FetchMaxWait(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}

	var events []FailedEvent
	for msg := range msgs.Messages() {
		var failed FailedEvent
		if err := json.Unmarshal(msg.Data(), &failed); err != nil {
			q.logger.Error("failed to parse DLQ message", logging.Error(err))
			continue
		}
		events = append(events, failed)
	}
	if err := msgs.Error(); err != nil {
		q.logger.Warn("DLQ fetch completed with error", logging.Error(err))
	}
	return events, nil
}

func (q *JetStreamQueue) Purge(ctx context.Context) error {
	if err := q.stream.Purge(ctx); err != nil {
		return fmt.Errorf("purge dlq stream: %w", err)
	}
	q.logger.Info("DLQ: purged all messages from stream")
	return nil
}

func (q *JetStreamQueue) Stats(ctx context.Context) map[string]any {
	stats := map[string]any{
		"enabled":       true,
		"backend":       BackendJetStream,
		"written_local": q.written.Load(),
	}
	info, err := q.stream.Info(ctx)
	if err != nil {
		stats["error"] = err.Error()
		return stats
	}
	stats["total_messages"] = info.State.Msgs
	stats["total_bytes"] = info.State.Bytes
	stats["first_seq"] = info.State.FirstSeq
	stats["last_seq"] = info.State.LastSeq
	return stats
}

// Close drains the broker connection.
func (q *JetStreamQueue) Close() error {
	return q.js.Drain()
}

var _ Queue = (*JetStreamQueue)(nil)
