// Package queue is the at-least-once transport between the ingest boundary
// and the core storage writer.
//
// A Producer publishes one message per validated record. A Consumer hands out
// bounded batches of Deliveries and, once the writer has reported which items
// failed, settles the batch: every delivery not named in the BatchResponse is
// acknowledged and removed; the named ones become visible again. No ordering
// is guaranteed within or across batches.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/telhawk-systems/crm-ingest/common/event"
	"github.com/telhawk-systems/crm-ingest/common/messaging"
)

// ErrClosed is returned by operations on a closed transport.
var ErrClosed = errors.New("queue closed")

// Delivery is one message handed to the consumer. ID is opaque and only
// meaningful to Settle.
type Delivery struct {
	ID         string
	Body       []byte
	Attempt    int
	ReceivedAt time.Time
}

type Producer interface {
	Enqueue(ctx context.Context, rec event.Record) error
	Close() error
}

type Consumer interface {
	// DequeueBatch returns at most max deliveries. It may return an empty
	// slice when nothing arrived before the backend's poll wait elapsed.
	DequeueBatch(ctx context.Context, max int) ([]Delivery, error)

	// Settle acknowledges every delivery in batch that resp does not list
	// and releases the listed ones for redelivery.
	Settle(ctx context.Context, batch []Delivery, resp BatchResponse) error

	Close() error
}

// BrokerBacked is implemented by transports with a long-lived broker
// connection worth probing on /readyz.
type BrokerBacked interface {
	Connection() messaging.Connection
}

// TransportError wraps any failure to hand a message to, or take it back
// from, the broker. Callers treat it as retryable.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("queue %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

func transportErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return &TransportError{Op: op, Err: err}
}

// Encode returns the wire form of rec: its deterministic JSON.
func Encode(rec event.Record) ([]byte, error) {
	body, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return body, nil
}
