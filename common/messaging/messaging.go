// Package messaging holds broker-agnostic contracts shared by the ingest
// and core services. Concrete brokers live in subpackages.
package messaging

import (
	"context"
	"time"
)

// Publisher sends raw payloads to a subject.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Close() error
}

// Connection reports liveness of a broker connection.
type Connection interface {
	IsConnected() bool

	// RTT measures a round trip to the broker.
	RTT() (time.Duration, error)
}
