package storage

import (
	"context"
	"sync"

	"github.com/telhawk-systems/crm-ingest/common/event"
)

// Memory is a map-backed Store for tests and local runs.
type Memory struct {
	mu    sync.Mutex
	items map[event.Key][]byte
}

func NewMemory() *Memory {
	return &Memory{items: make(map[event.Key][]byte)}
}

func (m *Memory) PutIfAbsent(ctx context.Context, item Item) WriteResult {
	if err := ctx.Err(); err != nil {
		return failed("put", err)
	}
	doc, err := item.MarshalDocument()
	if err != nil {
		return failed("encode item", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[item.Key]; ok {
		return alreadyExists()
	}
	m.items[item.Key] = doc
	return committed()
}

func (m *Memory) Get(_ context.Context, key event.Key) (Item, error) {
	m.mu.Lock()
	doc, ok := m.items[key]
	m.mu.Unlock()
	if !ok {
		return Item{}, ErrNotFound
	}
	return ParseItem(doc)
}

// Len returns the number of stored items.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

var _ Store = (*Memory)(nil)
