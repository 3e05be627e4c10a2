package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/telhawk-systems/crm-ingest/common/event"
)

// sqsBatchLimit is the most entries SQS accepts per batch call and the most
// messages a single ReceiveMessage returns.
const sqsBatchLimit = 10

// SQSAPI is the slice of the SQS client the transport uses.
type SQSAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessageBatch(ctx context.Context, in *sqs.DeleteMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error)
	ChangeMessageVisibilityBatch(ctx context.Context, in *sqs.ChangeMessageVisibilityBatchInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityBatchOutput, error)
}

// SQS implements Producer and Consumer on an SQS queue. Redelivery is the
// queue's visibility timeout; failed items are made visible again after
// RetryVisibility instead of waiting out the full timeout.
type SQS struct {
	client          SQSAPI
	queueURL        string
	fifo            bool
	waitTime        time.Duration
	retryVisibility time.Duration

	mu       sync.Mutex
	receipts map[string]string
}

func NewSQS(client SQSAPI, cfg SQSConfig) *SQS {
	cfg = cfg.withDefaults()
	return &SQS{
		client:          client,
		queueURL:        cfg.QueueURL,
		fifo:            strings.HasSuffix(cfg.QueueURL, ".fifo"),
		waitTime:        cfg.WaitTime,
		retryVisibility: cfg.RetryVisibility,
		receipts:        make(map[string]string),
	}
}

func (q *SQS) Enqueue(ctx context.Context, rec event.Record) error {
	body, err := Encode(rec)
	if err != nil {
		return transportErr("enqueue", err)
	}
	in := &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(body)),
	}
	if q.fifo {
		in.MessageGroupId = aws.String(rec.Key().PartitionKey)
		in.MessageDeduplicationId = aws.String(event.Fingerprint(body))
	}
	if _, err := q.client.SendMessage(ctx, in); err != nil {
		return transportErr("enqueue", err)
	}
	return nil
}

func (q *SQS) DequeueBatch(ctx context.Context, max int) ([]Delivery, error) {
	if max <= 0 {
		max = 1
	}
	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: int32(min(max, sqsBatchLimit)),
		WaitTimeSeconds:     int32(q.waitTime / time.Second),
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{
			types.MessageSystemAttributeNameApproximateReceiveCount,
		},
	})
	if err != nil {
		return nil, transportErr("dequeue", err)
	}

	now := time.Now()
	deliveries := make([]Delivery, 0, len(out.Messages))
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, m := range out.Messages {
		id := aws.ToString(m.MessageId)
		q.receipts[id] = aws.ToString(m.ReceiptHandle)
		deliveries = append(deliveries, Delivery{
			ID:         id,
			Body:       []byte(aws.ToString(m.Body)),
			Attempt:    ReceiveCount(m.Attributes),
			ReceivedAt: now,
		})
	}
	return deliveries, nil
}

// ReceiveCount reads ApproximateReceiveCount from SQS message attributes,
// defaulting to 1.
func ReceiveCount(attrs map[string]string) int {
	n, err := strconv.Atoi(attrs[string(types.MessageSystemAttributeNameApproximateReceiveCount)])
	if err != nil || n < 1 {
		return 1
	}
	return n
}

func (q *SQS) Settle(ctx context.Context, batch []Delivery, resp BatchResponse) error {
	failed := resp.failedSet()

	var done, retry []types.DeleteMessageBatchRequestEntry
	q.mu.Lock()
	for _, d := range batch {
		handle, ok := q.receipts[d.ID]
		if !ok {
			continue
		}
		delete(q.receipts, d.ID)
		entry := types.DeleteMessageBatchRequestEntry{Id: aws.String(d.ID), ReceiptHandle: aws.String(handle)}
		if _, f := failed[d.ID]; f {
			retry = append(retry, entry)
		} else {
			done = append(done, entry)
		}
	}
	q.mu.Unlock()

	var errs []error
	for chunk := range chunks(done, sqsBatchLimit) {
		out, err := q.client.DeleteMessageBatch(ctx, &sqs.DeleteMessageBatchInput{
			QueueUrl: aws.String(q.queueURL),
			Entries:  chunk,
		})
		var failedEntries []types.BatchResultErrorEntry
		if out != nil {
			failedEntries = out.Failed
		}
		errs = append(errs, batchErr("delete", failedEntries, err))
	}
	for chunk := range chunks(retry, sqsBatchLimit) {
		entries := make([]types.ChangeMessageVisibilityBatchRequestEntry, 0, len(chunk))
		for _, e := range chunk {
			entries = append(entries, types.ChangeMessageVisibilityBatchRequestEntry{
				Id:                e.Id,
				ReceiptHandle:     e.ReceiptHandle,
				VisibilityTimeout: int32(q.retryVisibility / time.Second),
			})
		}
		out, err := q.client.ChangeMessageVisibilityBatch(ctx, &sqs.ChangeMessageVisibilityBatchInput{
			QueueUrl: aws.String(q.queueURL),
			Entries:  entries,
		})
		var failedEntries []types.BatchResultErrorEntry
		if out != nil {
			failedEntries = out.Failed
		}
		errs = append(errs, batchErr("change visibility", failedEntries, err))
	}
	return transportErr("settle", errors.Join(errs...))
}

func (q *SQS) Close() error { return nil }

func batchErr(op string, failed []types.BatchResultErrorEntry, err error) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if len(failed) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(failed))
	for _, f := range failed {
		msgs = append(msgs, aws.ToString(f.Id)+": "+aws.ToString(f.Message))
	}
	return fmt.Errorf("%s: %d entries failed: %s", op, len(failed), strings.Join(msgs, "; "))
}

// chunks yields consecutive slices of at most n elements.
func chunks[T any](items []T, n int) func(func([]T) bool) {
	return func(yield func([]T) bool) {
		for len(items) > 0 {
			k := min(n, len(items))
			if !yield(items[:k]) {
				return
			}
			items = items[k:]
		}
	}
}

var (
	_ Producer = (*SQS)(nil)
	_ Consumer = (*SQS)(nil)
)
