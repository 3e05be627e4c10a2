package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/telhawk-systems/crm-ingest/common/event"
	"github.com/telhawk-systems/crm-ingest/common/messaging"
	"github.com/telhawk-systems/crm-ingest/common/messaging/nats"
)

// JetStreamProducer publishes records to the ingest work-queue stream.
type JetStreamProducer struct {
	js      *nats.JetStreamClient
	subject string
}

// NewJetStreamProducer ensures the records stream exists.
func NewJetStreamProducer(ctx context.Context, js *nats.JetStreamClient, cfg NATSConfig) (*JetStreamProducer, error) {
	cfg = cfg.withDefaults()
	if _, err := js.CreateOrUpdateStream(ctx, cfg.streamConfig()); err != nil {
		return nil, err
	}
	return &JetStreamProducer{js: js, subject: cfg.Subject}, nil
}

// Enqueue publishes the encoded record with its fingerprint as the message
// ID, so a sender retrying the same webhook inside the stream's duplicate
// window does not produce a second message.
func (p *JetStreamProducer) Enqueue(ctx context.Context, rec event.Record) error {
	body, err := Encode(rec)
	if err != nil {
		return transportErr("enqueue", err)
	}
	if _, err := p.js.PublishSync(ctx, p.subject, body, jetstream.WithMsgID(event.Fingerprint(body))); err != nil {
		return transportErr("enqueue", err)
	}
	return nil
}

func (p *JetStreamProducer) Close() error {
	return p.js.Drain()
}

// Connection exposes the broker connection for readiness probes.
func (p *JetStreamProducer) Connection() messaging.Connection { return p.js }

// JetStreamConsumer pulls batches from a durable consumer. Messages not
// acked within AckWait are redelivered by the server.
type JetStreamConsumer struct {
	js         *nats.JetStreamClient
	consumer   jetstream.Consumer
	fetchWait  time.Duration
	retryDelay time.Duration

	mu       sync.Mutex
	inflight map[string]jetstream.Msg
}

func NewJetStreamConsumer(ctx context.Context, js *nats.JetStreamClient, cfg NATSConfig) (*JetStreamConsumer, error) {
	cfg = cfg.withDefaults()
	if _, err := js.CreateOrUpdateStream(ctx, cfg.streamConfig()); err != nil {
		return nil, err
	}

	cc := nats.DefaultConsumerConfig(cfg.Consumer, cfg.Subject)
	cc.AckWait = cfg.AckWait
	cc.MaxDeliver = cfg.MaxDeliver
	consumer, err := js.CreateOrUpdateConsumer(ctx, cfg.Stream, cc)
	if err != nil {
		return nil, err
	}

	return &JetStreamConsumer{
		js:         js,
		consumer:   consumer,
		fetchWait:  cfg.FetchWait,
		retryDelay: cfg.RetryDelay,
		inflight:   make(map[string]jetstream.Msg),
	}, nil
}

func (c *JetStreamConsumer) DequeueBatch(ctx context.Context, max int) ([]Delivery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if max <= 0 {
		max = 1
	}

	wait := c.fetchWait
	if dl, ok := ctx.Deadline(); ok {
		if remaining := time.Until(dl); remaining < wait {
			wait = remaining
		}
	}
	if wait <= 0 {
		return nil, context.DeadlineExceeded
	}

	batch, err := c.consumer.Fetch(max, jetstream.FetchMaxWait(wait))
	if err != nil {
		return nil, transportErr("dequeue", err)
	}

	now := time.Now()
	var out []Delivery
	for msg := range batch.Messages() {
		md, err := msg.Metadata()
		if err != nil {
			// Without metadata the message cannot be tracked; let AckWait
			// bring it back.
			continue
		}
		id := strconv.FormatUint(md.Sequence.Stream, 10)
		c.mu.Lock()
		c.inflight[id] = msg
		c.mu.Unlock()
		out = append(out, Delivery{
			ID:         id,
			Body:       msg.Data(),
			Attempt:    int(md.NumDelivered),
			ReceivedAt: now,
		})
	}

	if err := batch.Error(); err != nil && len(out) == 0 && !errors.Is(err, natsgo.ErrTimeout) {
		return nil, transportErr("dequeue", err)
	}
	return out, nil
}

func (c *JetStreamConsumer) Settle(_ context.Context, batch []Delivery, resp BatchResponse) error {
	failed := resp.failedSet()

	var errs []error
	for _, d := range batch {
		c.mu.Lock()
		msg, ok := c.inflight[d.ID]
		delete(c.inflight, d.ID)
		c.mu.Unlock()
		if !ok {
			continue
		}

		var err error
		if _, retry := failed[d.ID]; retry {
			err = msg.NakWithDelay(c.retryDelay)
		} else {
			err = msg.Ack()
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("message %s: %w", d.ID, err))
		}
	}
	return transportErr("settle", errors.Join(errs...))
}

func (c *JetStreamConsumer) Close() error {
	return c.js.Drain()
}

func (c *JetStreamConsumer) Connection() messaging.Connection { return c.js }

var (
	_ Producer = (*JetStreamProducer)(nil)
	_ Consumer = (*JetStreamConsumer)(nil)
)
