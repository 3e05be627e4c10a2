package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/crm-ingest/common/event"
	"github.com/telhawk-systems/crm-ingest/common/logging"
	"github.com/telhawk-systems/crm-ingest/common/queue"
)

// failFirstProcessor fails every delivery on its first attempt.
type failFirstProcessor struct {
	mu   sync.Mutex
	seen map[string]int
	done atomic.Int32
}

func (f *failFirstProcessor) ProcessBatch(_ context.Context, batch []queue.Delivery) queue.BatchResponse {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen == nil {
		f.seen = map[string]int{}
	}
	var resp queue.BatchResponse
	for _, d := range batch {
		f.seen[d.ID] = d.Attempt
		if d.Attempt < 2 {
			resp.Fail(d.ID)
			continue
		}
		f.done.Add(1)
	}
	return resp
}

type erroringConsumer struct {
	calls atomic.Int32
}

func (c *erroringConsumer) DequeueBatch(ctx context.Context, _ int) ([]queue.Delivery, error) {
	if c.calls.Add(1) > 3 {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return nil, errors.New("broker unavailable")
}

func (c *erroringConsumer) Settle(context.Context, []queue.Delivery, queue.BatchResponse) error {
	return nil
}

func (c *erroringConsumer) Close() error { return nil }

func TestPool_RedeliversFailedItems(t *testing.T) {
	q := queue.NewMemory(queue.MemoryConfig{Visibility: time.Minute, PollWait: 5 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for _, id := range []string{"L1", "L2", "L3"} {
		require.NoError(t, q.Enqueue(ctx, event.NewRecord(event.Lead{LeadID: id, Email: "a@example.com", Status: "new"})))
	}

	proc := &failFirstProcessor{}
	pool := NewPool(q, proc, Config{Workers: 2, BatchSize: 2}, logging.Discard())

	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	require.Eventually(t, func() bool { return proc.done.Load() == 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not stop")
	}
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, 0, q.InFlight())
}

func TestPool_StopsWhenQueueClosed(t *testing.T) {
	q := queue.NewMemory(queue.MemoryConfig{PollWait: 5 * time.Millisecond})
	pool := NewPool(q, &failFirstProcessor{}, Config{Workers: 3}, logging.Discard())
	require.NoError(t, q.Close())

	done := make(chan error, 1)
	go func() { done <- pool.Run(context.Background()) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not stop after queue close")
	}
}

func TestPool_BacksOffOnDequeueErrors(t *testing.T) {
	c := &erroringConsumer{}
	pool := NewPool(c, &failFirstProcessor{}, Config{Workers: 1, ErrorBackoff: 5 * time.Millisecond}, logging.Discard())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- pool.Run(ctx) }()

	require.Eventually(t, func() bool { return c.calls.Load() > 3 }, time.Second, time.Millisecond)
	cancel()
	<-done
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 10, cfg.BatchSize)
	assert.Equal(t, 30*time.Second, cfg.BatchTimeout)
	assert.Equal(t, 10*time.Second, cfg.SettleTimeout)
}
