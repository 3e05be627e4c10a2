package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/crm-ingest/common/event"
)

func leadRecord(id string) event.Record {
	return event.NewRecord(event.Lead{LeadID: id, Email: id + "@example.com", Status: "new"})
}

func TestMemoryEnqueueDequeue(t *testing.T) {
	q := NewMemory(MemoryConfig{PollWait: 10 * time.Millisecond})
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, leadRecord("a")))
	require.NoError(t, q.Enqueue(ctx, leadRecord("b")))

	batch, err := q.DequeueBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, 1, batch[0].Attempt)
	assert.NotEqual(t, batch[0].ID, batch[1].ID)

	rec, err := event.DecodeRecord(batch[0].Body)
	require.NoError(t, err)
	assert.Equal(t, event.KindLead, rec.Kind())
	assert.Equal(t, 2, q.InFlight())
}

func TestMemoryRespectsMax(t *testing.T) {
	q := NewMemory(MemoryConfig{PollWait: 10 * time.Millisecond})
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(ctx, leadRecord(id)))
	}

	batch, err := q.DequeueBatch(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, batch, 2)
	assert.Equal(t, 1, q.Len())
}

func TestMemorySettleRedeliversOnlyFailures(t *testing.T) {
	q := NewMemory(MemoryConfig{PollWait: 10 * time.Millisecond})
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, leadRecord("ok")))
	require.NoError(t, q.Enqueue(ctx, leadRecord("bad")))

	batch, err := q.DequeueBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, batch, 2)

	var resp BatchResponse
	resp.Fail(batch[1].ID)
	require.NoError(t, q.Settle(ctx, batch, resp))

	again, err := q.DequeueBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, batch[1].ID, again[0].ID)
	assert.Equal(t, 2, again[0].Attempt)
	assert.Equal(t, batch[1].Body, again[0].Body)
}

func TestMemoryVisibilityTimeoutRedelivers(t *testing.T) {
	q := NewMemory(MemoryConfig{Visibility: time.Minute, PollWait: 10 * time.Millisecond})
	now := time.Now()
	q.now = func() time.Time { return now }
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, leadRecord("slow")))

	first, err := q.DequeueBatch(ctx, 1)
	require.NoError(t, err)
	require.Len(t, first, 1)

	hidden, err := q.DequeueBatch(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, hidden)

	now = now.Add(2 * time.Minute)
	again, err := q.DequeueBatch(ctx, 1)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, first[0].ID, again[0].ID)
	assert.Equal(t, 2, again[0].Attempt)
}

func TestMemoryDequeueWakesOnEnqueue(t *testing.T) {
	q := NewMemory(MemoryConfig{PollWait: 2 * time.Second})
	ctx := context.Background()

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = q.Enqueue(ctx, leadRecord("late"))
	}()

	start := time.Now()
	batch, err := q.DequeueBatch(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, batch, 1)
	assert.Less(t, time.Since(start), time.Second)
}

func TestMemoryDequeueHonoursContext(t *testing.T) {
	q := NewMemory(MemoryConfig{PollWait: 5 * time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.DequeueBatch(ctx, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryClosedReturnsTransportError(t *testing.T) {
	q := NewMemory(MemoryConfig{})
	require.NoError(t, q.Close())

	err := q.Enqueue(context.Background(), leadRecord("x"))
	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "enqueue", te.Op)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestBatchResponse(t *testing.T) {
	var resp BatchResponse
	assert.False(t, resp.Failed("a"))
	resp.Fail("a")
	resp.Fail("c")
	assert.True(t, resp.Failed("a"))
	assert.False(t, resp.Failed("b"))
	assert.Equal(t, []string{"a", "c"}, resp.FailedIDs())

	b, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"batchItemFailures":[{"itemIdentifier":"a"},{"itemIdentifier":"c"}]}`, string(b))
}

func TestEncodeMatchesRecordJSON(t *testing.T) {
	rec := leadRecord("x")
	body, err := Encode(rec)
	require.NoError(t, err)
	want, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.Equal(t, want, body)
}
