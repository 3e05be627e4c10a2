package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/telhawk-systems/crm-ingest/common/event"
)

// Memory is an in-process transport with SQS-like semantics: dequeued
// messages are hidden for the visibility timeout and reappear unless
// settled as successful.
type Memory struct {
	mu         sync.Mutex
	ready      []*memoryMessage
	inflight   map[string]*memoryMessage
	visibility time.Duration
	pollWait   time.Duration
	notify     chan struct{}
	closed     bool
	now        func() time.Time
}

type memoryMessage struct {
	id       string
	body     []byte
	attempts int
	hiddenTo time.Time
}

// MemoryConfig tunes the in-process transport.
type MemoryConfig struct {
	Visibility time.Duration
	PollWait   time.Duration
}

func NewMemory(cfg MemoryConfig) *Memory {
	if cfg.Visibility <= 0 {
		cfg.Visibility = 30 * time.Second
	}
	if cfg.PollWait <= 0 {
		cfg.PollWait = 100 * time.Millisecond
	}
	return &Memory{
		inflight:   make(map[string]*memoryMessage),
		visibility: cfg.Visibility,
		pollWait:   cfg.PollWait,
		notify:     make(chan struct{}, 1),
		now:        time.Now,
	}
}

func (m *Memory) Enqueue(ctx context.Context, rec event.Record) error {
	if err := ctx.Err(); err != nil {
		return transportErr("enqueue", err)
	}
	body, err := Encode(rec)
	if err != nil {
		return transportErr("enqueue", err)
	}
	return m.enqueueBody(body)
}

func (m *Memory) enqueueBody(body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return transportErr("enqueue", ErrClosed)
	}
	m.ready = append(m.ready, &memoryMessage{id: uuid.NewString(), body: body})
	m.signal()
	return nil
}

func (m *Memory) DequeueBatch(ctx context.Context, max int) ([]Delivery, error) {
	if max <= 0 {
		max = 1
	}
	timer := time.NewTimer(m.pollWait)
	defer timer.Stop()

	for {
		batch, err := m.take(max)
		if err != nil || len(batch) > 0 {
			return batch, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return m.take(max)
		case <-m.notify:
		}
	}
}

func (m *Memory) take(max int) ([]Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, transportErr("dequeue", ErrClosed)
	}

	now := m.now()
	for id, msg := range m.inflight {
		if !now.Before(msg.hiddenTo) {
			delete(m.inflight, id)
			m.ready = append(m.ready, msg)
		}
	}

	n := min(max, len(m.ready))
	out := make([]Delivery, 0, n)
	for _, msg := range m.ready[:n] {
		msg.attempts++
		msg.hiddenTo = now.Add(m.visibility)
		m.inflight[msg.id] = msg
		out = append(out, Delivery{ID: msg.id, Body: msg.body, Attempt: msg.attempts, ReceivedAt: now})
	}
	m.ready = m.ready[n:]
	if len(m.ready) > 0 {
		m.signal()
	}
	return out, nil
}

func (m *Memory) Settle(_ context.Context, batch []Delivery, resp BatchResponse) error {
	failed := resp.failedSet()

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range batch {
		msg, ok := m.inflight[d.ID]
		if !ok {
			continue
		}
		delete(m.inflight, d.ID)
		if _, retry := failed[d.ID]; retry {
			m.ready = append(m.ready, msg)
		}
	}
	if len(m.ready) > 0 {
		m.signal()
	}
	return nil
}

// Len returns the number of visible messages.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.ready)
}

// InFlight returns the number of dequeued, unsettled messages.
func (m *Memory) InFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inflight)
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *Memory) signal() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

var (
	_ Producer = (*Memory)(nil)
	_ Consumer = (*Memory)(nil)
)
