package nats

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/telhawk-systems/crm-ingest/common/messaging"
)

// JetStreamClient adds durable streams to Client.
type JetStreamClient struct {
	*Client
	js jetstream.JetStream
}

// StreamConfig is the subset of jetstream.StreamConfig the services set.
type StreamConfig struct {
	Name      string
	Subjects  []string
	MaxAge    time.Duration
	MaxBytes  int64
	MaxMsgs   int64
	Retention jetstream.RetentionPolicy
	Storage   jetstream.StorageType

	// Duplicates is the window in which a repeated Nats-Msg-Id is dropped
	// by the server.
	Duplicates time.Duration
}

// ConsumerConfig describes a durable pull consumer.
type ConsumerConfig struct {
	Name          string
	FilterSubject string
	AckWait       time.Duration
	MaxDeliver    int
	MaxAckPending int
}

// DefaultConsumerConfig returns pull consumer defaults. AckWait mirrors the
// visibility timeout of the SQS deployment.
func DefaultConsumerConfig(name, filterSubject string) ConsumerConfig {
	return ConsumerConfig{
		Name:          name,
		FilterSubject: filterSubject,
		AckWait:       300 * time.Second,
		MaxDeliver:    -1,
		MaxAckPending: 1000,
	}
}

// NewJetStreamClient dials NATS and opens a JetStream context.
func NewJetStreamClient(cfg Config) (*JetStreamClient, error) {
	client, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(client.conn)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	return &JetStreamClient{Client: client, js: js}, nil
}

func (c *JetStreamClient) CreateOrUpdateStream(ctx context.Context, cfg StreamConfig) (jetstream.Stream, error) {
	stream, err := c.js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       cfg.Name,
		Subjects:   cfg.Subjects,
		MaxAge:     cfg.MaxAge,
		MaxBytes:   cfg.MaxBytes,
		MaxMsgs:    cfg.MaxMsgs,
		Retention:  cfg.Retention,
		Storage:    cfg.Storage,
		Duplicates: cfg.Duplicates,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create/update stream %s: %w", cfg.Name, err)
	}
	return stream, nil
}

func (c *JetStreamClient) CreateOrUpdateConsumer(ctx context.Context, streamName string, cfg ConsumerConfig) (jetstream.Consumer, error) {
	stream, err := c.js.Stream(ctx, streamName)
	if err != nil {
		return nil, fmt.Errorf("failed to get stream %s: %w", streamName, err)
	}

	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:          cfg.Name,
		Durable:       cfg.Name,
		FilterSubject: cfg.FilterSubject,
		AckWait:       cfg.AckWait,
		MaxDeliver:    cfg.MaxDeliver,
		MaxAckPending: cfg.MaxAckPending,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create/update consumer %s: %w", cfg.Name, err)
	}
	return consumer, nil
}

// PublishSync publishes and waits for the stream to persist the message.
// Pass jetstream.WithMsgID to let the server drop repeats.
func (c *JetStreamClient) PublishSync(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	return c.js.Publish(ctx, subject, data, opts...)
}

// Publish satisfies messaging.Publisher with a persisted publish.
func (c *JetStreamClient) Publish(ctx context.Context, subject string, data []byte) error {
	_, err := c.PublishSync(ctx, subject, data)
	return err
}

var _ messaging.Publisher = (*JetStreamClient)(nil)

// Stream configurations owned by the pipeline.
var (
	// IngestRecordsStream holds validated records until a core writer acks
	// them. Work-queue retention removes a message on ack.
	IngestRecordsStream = StreamConfig{
		Name:       messaging.StreamIngestRecords,
		Subjects:   []string{messaging.SubjectIngestRecords},
		MaxAge:     4 * 24 * time.Hour,
		MaxBytes:   1024 * 1024 * 1024,
		MaxMsgs:    1_000_000,
		Retention:  jetstream.WorkQueuePolicy,
		Storage:    jetstream.FileStorage,
		Duplicates: 2 * time.Minute,
	}

	// IngestDLQStream holds records that exhausted their delivery attempts
	// or could never be decoded.
	IngestDLQStream = StreamConfig{
		Name:      messaging.StreamIngestDLQ,
		Subjects:  []string{messaging.SubjectDLQPrefix + ">"},
		MaxAge:    14 * 24 * time.Hour,
		MaxBytes:  256 * 1024 * 1024,
		MaxMsgs:   100_000,
		Retention: jetstream.LimitsPolicy,
		Storage:   jetstream.FileStorage,
	}
)
