package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/telhawk-systems/crm-ingest/common/messaging"
	"github.com/telhawk-systems/crm-ingest/common/messaging/nats"
)

// Backend names accepted in Config.Backend.
const (
	BackendMemory    = "memory"
	BackendJetStream = "jetstream"
	BackendSQS       = "sqs"
)

// Config selects and tunes a transport. It is embedded in each service's
// viper configuration under "queue".
type Config struct {
	Backend string       `mapstructure:"backend"`
	NATS    NATSConfig   `mapstructure:"nats"`
	SQS     SQSConfig    `mapstructure:"sqs"`
	Memory  MemoryConfig `mapstructure:"memory"`
}

type NATSConfig struct {
	URL        string        `mapstructure:"url"`
	Stream     string        `mapstructure:"stream"`
	Subject    string        `mapstructure:"subject"`
	Consumer   string        `mapstructure:"consumer"`
	AckWait    time.Duration `mapstructure:"ack_wait"`
	MaxDeliver int           `mapstructure:"max_deliver"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	FetchWait  time.Duration `mapstructure:"fetch_wait"`
}

func (c NATSConfig) withDefaults() NATSConfig {
	if c.Stream == "" {
		c.Stream = messaging.StreamIngestRecords
	}
	if c.Subject == "" {
		c.Subject = messaging.SubjectIngestRecords
	}
	if c.Consumer == "" {
		c.Consumer = messaging.ConsumerCoreWriters
	}
	if c.AckWait <= 0 {
		c.AckWait = 300 * time.Second
	}
	if c.MaxDeliver == 0 {
		c.MaxDeliver = -1
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 5 * time.Second
	}
	if c.FetchWait <= 0 {
		c.FetchWait = 5 * time.Second
	}
	return c
}

func (c NATSConfig) streamConfig() nats.StreamConfig {
	sc := nats.IngestRecordsStream
	sc.Name = c.Stream
	sc.Subjects = []string{c.Subject}
	return sc
}

type SQSConfig struct {
	QueueURL string `mapstructure:"queue_url"`
	Region   string `mapstructure:"region"`

	// Endpoint overrides the SQS endpoint, e.g. for LocalStack.
	Endpoint        string        `mapstructure:"endpoint"`
	WaitTime        time.Duration `mapstructure:"wait_time"`
	RetryVisibility time.Duration `mapstructure:"retry_visibility"`
}

func (c SQSConfig) withDefaults() SQSConfig {
	if c.WaitTime <= 0 || c.WaitTime > 20*time.Second {
		c.WaitTime = 20 * time.Second
	}
	if c.RetryVisibility < 0 {
		c.RetryVisibility = 0
	}
	return c
}

// NewProducer builds the configured producer.
func NewProducer(ctx context.Context, cfg Config, logger *slog.Logger) (Producer, error) {
	switch cfg.Backend {
	case BackendJetStream:
		js, err := dialJetStream(cfg.NATS, "crm-ingest", logger)
		if err != nil {
			return nil, err
		}
		p, err := NewJetStreamProducer(ctx, js, cfg.NATS)
		if err != nil {
			_ = js.Close()
			return nil, err
		}
		return p, nil
	case BackendSQS:
		q, err := newSQSFromEnv(ctx, cfg.SQS)
		if err != nil {
			return nil, err
		}
		return q, nil
	case BackendMemory, "":
		return nil, fmt.Errorf("queue backend %q is in-process only; construct it with queue.NewMemory", BackendMemory)
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Backend)
	}
}

// NewConsumer builds the configured consumer.
func NewConsumer(ctx context.Context, cfg Config, logger *slog.Logger) (Consumer, error) {
	switch cfg.Backend {
	case BackendJetStream:
		js, err := dialJetStream(cfg.NATS, "crm-core", logger)
		if err != nil {
			return nil, err
		}
		c, err := NewJetStreamConsumer(ctx, js, cfg.NATS)
		if err != nil {
			_ = js.Close()
			return nil, err
		}
		return c, nil
	case BackendSQS:
		q, err := newSQSFromEnv(ctx, cfg.SQS)
		if err != nil {
			return nil, err
		}
		return q, nil
	case BackendMemory, "":
		return nil, fmt.Errorf("queue backend %q is in-process only; construct it with queue.NewMemory", BackendMemory)
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Backend)
	}
}

func dialJetStream(cfg NATSConfig, name string, logger *slog.Logger) (*nats.JetStreamClient, error) {
	nc := nats.DefaultConfig(cfg.URL, name)
	nc.Logger = logger
	js, err := nats.NewJetStreamClient(nc)
	if err != nil {
		return nil, &TransportError{Op: "connect", Err: err}
	}
	return js, nil
}

func newSQSFromEnv(ctx context.Context, cfg SQSConfig) (*SQS, error) {
	if cfg.QueueURL == "" {
		return nil, fmt.Errorf("queue.sqs.queue_url is required")
	}
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = &cfg.Endpoint
		}
	})
	return NewSQS(client, cfg), nil
}
