package writer

import (
	"context"
	"encoding/json"
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
	"github.com/telhawk-systems/crm-ingest/core/internal/dlq"
	"github.com/telhawk-systems/crm-ingest/core/internal/storage"
)

// scriptedStore wraps a memory store and lets tests fail, panic or block on
// chosen sort keys.
type scriptedStore struct {
	*storage.Memory
	failOn  map[string]error
	panicOn map[string]bool
	blockOn map[string]bool

	inflight    atomic.Int32
	maxInflight atomic.Int32
	delay       time.Duration
}

func newScriptedStore() *scriptedStore {
	return &scriptedStore{
		Memory:  storage.NewMemory(),
		failOn:  map[string]error{},
		panicOn: map[string]bool{},
		blockOn: map[string]bool{},
	}
}

func (s *scriptedStore) PutIfAbsent(ctx context.Context, item storage.Item) storage.WriteResult {
	n := s.inflight.Add(1)
	defer s.inflight.Add(-1)
	for {
		m := s.maxInflight.Load()
		if n <= m || s.maxInflight.CompareAndSwap(m, n) {
			break
		}
	}
	if s.delay > 0 {
		time.Sleep(s.delay)
	}

	sk := item.Key.SortKey
	if s.panicOn[sk] {
		panic("boom")
	}
	if s.blockOn[sk] {
		<-ctx.Done()
		return storage.WriteResult{Outcome: storage.Failed, Reason: ctx.Err()}
	}
	if err, ok := s.failOn[sk]; ok {
		return storage.WriteResult{Outcome: storage.Failed, Reason: err}
	}
	return s.Memory.PutIfAbsent(ctx, item)
}

// recordingDLQ captures dead-lettered deliveries.
type recordingDLQ struct {
	mu      sync.Mutex
	entries []dlq.FailedEvent
	reasons []string
	err     error
}

func (r *recordingDLQ) Write(_ context.Context, d queue.Delivery, err error, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.entries = append(r.entries, dlq.FailedEvent{MessageID: d.ID, Error: err.Error(), Reason: reason, Attempts: d.Attempt})
	r.reasons = append(r.reasons, reason)
	return nil
}

func (r *recordingDLQ) List(context.Context, int) ([]dlq.FailedEvent, error) { return r.entries, nil }
func (r *recordingDLQ) Purge(context.Context) error                          { return nil }
func (r *recordingDLQ) Stats(context.Context) map[string]any                 { return nil }

func lead(t *testing.T, id string, leadID string) queue.Delivery {
	t.Helper()
	body, err := json.Marshal(event.NewRecord(event.Lead{LeadID: leadID, Email: "jane@example.com", Status: "new"}))
	require.NoError(t, err)
	return queue.Delivery{ID: id, Body: body, Attempt: 1, ReceivedAt: time.Now()}
}

func newTestWriter(store storage.Store, cfg Config, opts ...Option) *Writer {
	return New(store, cfg, append([]Option{WithLogger(logging.Discard())}, opts...)...)
}

func TestProcessBatch_Empty(t *testing.T) {
	w := newTestWriter(storage.NewMemory(), Config{})
	resp := w.ProcessBatch(context.Background(), nil)
	assert.Empty(t, resp.BatchItemFailures)
	assert.Equal(t, uint64(0), w.Stats().Batches)
}

func TestProcessBatch_AllSucceed(t *testing.T) {
	store := storage.NewMemory()
	w := newTestWriter(store, Config{})

	batch := []queue.Delivery{lead(t, "m1", "L1"), lead(t, "m2", "L2"), lead(t, "m3", "L3")}
	resp := w.ProcessBatch(context.Background(), batch)

	assert.Empty(t, resp.BatchItemFailures)
	assert.Equal(t, 3, store.Len())

	got, err := store.Get(context.Background(), event.Key{PartitionKey: "USER#jane@example.com", SortKey: "LEAD#L2"})
	require.NoError(t, err)
	assert.Equal(t, event.Fingerprint(batch[1].Body), got.RecordHash)
}

func TestProcessBatch_Idempotent(t *testing.T) {
	store := storage.NewMemory()
	w := newTestWriter(store, Config{})
	d := lead(t, "m1", "L1")

	first := w.ProcessBatch(context.Background(), []queue.Delivery{d})
	d.ID, d.Attempt = "m1-redelivered", 2
	second := w.ProcessBatch(context.Background(), []queue.Delivery{d})

	assert.Empty(t, first.BatchItemFailures)
	assert.Empty(t, second.BatchItemFailures)
	assert.Equal(t, 1, store.Len())

	stats := w.Stats()
	assert.Equal(t, uint64(1), stats.Committed)
	assert.Equal(t, uint64(1), stats.Duplicates)
	assert.Equal(t, uint64(2), stats.Batches)
}

func TestProcessBatch_DuplicateWithinBatch(t *testing.T) {
	store := storage.NewMemory()
	w := newTestWriter(store, Config{ItemConcurrency: 4})

	d := lead(t, "m1", "L1")
	dup := d
	dup.ID = "m2"
	resp := w.ProcessBatch(context.Background(), []queue.Delivery{d, dup})

	assert.Empty(t, resp.BatchItemFailures)
	assert.Equal(t, 1, store.Len())
	assert.Equal(t, uint64(1), w.Stats().Committed)
	assert.Equal(t, uint64(1), w.Stats().Duplicates)
}

func TestProcessBatch_PartialFailureIsolation(t *testing.T) {
	store := newScriptedStore()
	store.failOn["LEAD#L2"] = errors.New("throttled")
	w := newTestWriter(store, Config{})

	batch := []queue.Delivery{lead(t, "m1", "L1"), lead(t, "m2", "L2"), lead(t, "m3", "L3")}
	resp := w.ProcessBatch(context.Background(), batch)

	assert.Equal(t, []string{"m2"}, resp.FailedIDs())
	assert.Equal(t, 2, store.Len())
	assert.Equal(t, uint64(1), w.Stats().Failed)
}

func TestProcessBatch_DecodeErrorFailsOnlyThatItem(t *testing.T) {
	store := storage.NewMemory()
	w := newTestWriter(store, Config{})

	batch := []queue.Delivery{
		lead(t, "m1", "L1"),
		{ID: "bad-json", Body: []byte(`{"webhook_id":`), Attempt: 1},
		{ID: "bad-kind", Body: []byte(`{"webhook_id":"refund"}`), Attempt: 1},
		{ID: "bad-field", Body: []byte(`{"webhook_id":"lead_ingest","lead_id":"L9","email":"x@y","status":"new","secret_key":"leak"}`), Attempt: 1},
	}
	resp := w.ProcessBatch(context.Background(), batch)

	assert.ElementsMatch(t, []string{"bad-json", "bad-kind", "bad-field"}, resp.FailedIDs())
	assert.Equal(t, 1, store.Len())
}

func TestProcessBatch_PanicIsContained(t *testing.T) {
	store := newScriptedStore()
	store.panicOn["LEAD#L1"] = true
	w := newTestWriter(store, Config{})

	resp := w.ProcessBatch(context.Background(), []queue.Delivery{lead(t, "m1", "L1"), lead(t, "m2", "L2")})

	assert.Equal(t, []string{"m1"}, resp.FailedIDs())
	assert.Equal(t, uint64(1), w.Stats().Panics)
	assert.Equal(t, 1, store.Len())
}

func TestProcessBatch_ItemTimeout(t *testing.T) {
	store := newScriptedStore()
	store.blockOn["LEAD#L1"] = true
	w := newTestWriter(store, Config{ItemTimeout: 20 * time.Millisecond})

	start := time.Now()
	resp := w.ProcessBatch(context.Background(), []queue.Delivery{lead(t, "m1", "L1"), lead(t, "m2", "L2")})

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, []string{"m1"}, resp.FailedIDs())
}

func TestProcessBatch_BatchDeadlineFailsUnstartedItems(t *testing.T) {
	store := newScriptedStore()
	store.delay = 30 * time.Millisecond
	w := newTestWriter(store, Config{ItemConcurrency: 1})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	batch := []queue.Delivery{lead(t, "m1", "L1"), lead(t, "m2", "L2"), lead(t, "m3", "L3")}
	resp := w.ProcessBatch(ctx, batch)

	assert.True(t, resp.Failed("m2"))
	assert.True(t, resp.Failed("m3"))
}

func TestProcessBatch_ConcurrencyBound(t *testing.T) {
	store := newScriptedStore()
	store.delay = 5 * time.Millisecond
	w := newTestWriter(store, Config{ItemConcurrency: 3})

	var batch []queue.Delivery
	for i := range 12 {
		batch = append(batch, lead(t, "m"+string(rune('a'+i)), "L"+string(rune('a'+i))))
	}
	resp := w.ProcessBatch(context.Background(), batch)

	assert.Empty(t, resp.BatchItemFailures)
	assert.LessOrEqual(t, store.maxInflight.Load(), int32(3))
	assert.Equal(t, 12, store.Len())
}

func TestProcessBatch_DeadLetter(t *testing.T) {
	tests := []struct {
		name        string
		attempt     int
		dlqErr      error
		wantFailed  bool
		wantEntries int
	}{
		{name: "below max attempts is redelivered", attempt: 2, wantFailed: true},
		{name: "at max attempts is dead-lettered", attempt: 3, wantEntries: 1},
		{name: "dlq failure keeps item for redelivery", attempt: 3, dlqErr: errors.New("disk full"), wantFailed: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newScriptedStore()
			store.failOn["LEAD#L1"] = errors.New("unavailable")
			rec := &recordingDLQ{err: tt.dlqErr}
			w := newTestWriter(store, Config{MaxAttempts: 3}, WithDeadLetter(rec))

			d := lead(t, "m1", "L1")
			d.Attempt = tt.attempt
			resp := w.ProcessBatch(context.Background(), []queue.Delivery{d})

			assert.Equal(t, tt.wantFailed, resp.Failed("m1"))
			assert.Len(t, rec.entries, tt.wantEntries)
			if tt.wantEntries > 0 {
				assert.Equal(t, dlq.ReasonStore, rec.reasons[0])
				assert.Equal(t, "unavailable", rec.entries[0].Error)
				assert.Equal(t, uint64(1), w.Stats().DeadLettered)
			}
		})
	}
}

func TestProcessBatch_DeadLetterReasons(t *testing.T) {
	store := newScriptedStore()
	store.panicOn["LEAD#P"] = true
	rec := &recordingDLQ{}
	w := newTestWriter(store, Config{MaxAttempts: 1}, WithDeadLetter(rec))

	batch := []queue.Delivery{
		{ID: "garbage", Body: []byte("not json"), Attempt: 1},
		lead(t, "panics", "P"),
	}
	resp := w.ProcessBatch(context.Background(), batch)

	assert.Empty(t, resp.BatchItemFailures)
	assert.ElementsMatch(t, []string{dlq.ReasonDecode, dlq.ReasonPanic}, rec.reasons)
}

func TestProcessBatch_WithoutDLQNeverAcknowledgesFailures(t *testing.T) {
	store := newScriptedStore()
	store.failOn["LEAD#L1"] = errors.New("unavailable")
	w := newTestWriter(store, Config{MaxAttempts: 1})

	d := lead(t, "m1", "L1")
	d.Attempt = 10
	resp := w.ProcessBatch(context.Background(), []queue.Delivery{d})
	assert.True(t, resp.Failed("m1"))
}

func TestWriter_WithMemoryQueue(t *testing.T) {
	ctx := context.Background()
	q := queue.NewMemory(queue.MemoryConfig{Visibility: time.Minute, PollWait: 10 * time.Millisecond})
	defer q.Close()

	store := newScriptedStore()
	store.failOn["LEAD#L2"] = errors.New("throttled")
	w := newTestWriter(store, Config{})

	rec := event.NewRecord(event.Lead{LeadID: "L1", Email: "jane@example.com", Status: "new"})
	require.NoError(t, q.Enqueue(ctx, rec))
	require.NoError(t, q.Enqueue(ctx, rec))
	require.NoError(t, q.Enqueue(ctx, event.NewRecord(event.Lead{LeadID: "L2", Email: "jane@example.com", Status: "new"})))

	batch, err := q.DequeueBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, batch, 3)

	resp := w.ProcessBatch(ctx, batch)
	require.Len(t, resp.BatchItemFailures, 1)
	require.NoError(t, q.Settle(ctx, batch, resp))

	assert.Equal(t, 1, q.Len())
	assert.Equal(t, 1, store.Len())

	delete(store.failOn, "LEAD#L2")
	batch, err = q.DequeueBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, batch, 1)
	assert.Equal(t, 2, batch[0].Attempt)

	resp = w.ProcessBatch(ctx, batch)
	assert.Empty(t, resp.BatchItemFailures)
	require.NoError(t, q.Settle(ctx, batch, resp))
	assert.Equal(t, 0, q.Len())
	assert.Equal(t, 2, store.Len())
}
