package main

import (
	"context"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/telhawk-systems/crm-ingest/common/logging"
	"github.com/telhawk-systems/crm-ingest/common/queue"
)

type batchProcessor interface {
	ProcessBatch(ctx context.Context, batch []queue.Delivery) queue.BatchResponse
}

type handler struct {
	writer batchProcessor
	logger *logging.Logger
}

// Handle processes one SQS event. Failed records are returned as batch item
// failures; the invocation itself never errors so successful records are
// deleted by the event source mapping.
func (h *handler) Handle(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	batch := deliveries(ev, time.Now())
	resp := h.writer.ProcessBatch(ctx, batch)
	if n := len(resp.BatchItemFailures); n > 0 {
		h.logger.Warn("returning partial batch failure",
			logging.BatchSize(len(batch)),
			logging.Outcome("partial_failure"))
	}
	return toSQSResponse(resp), nil
}

func deliveries(ev events.SQSEvent, now time.Time) []queue.Delivery {
	out := make([]queue.Delivery, 0, len(ev.Records))
	for _, r := range ev.Records {
		out = append(out, queue.Delivery{
			ID:         r.MessageId,
			Body:       []byte(r.Body),
			Attempt:    queue.ReceiveCount(r.Attributes),
			ReceivedAt: now,
		})
	}
	return out
}

func toSQSResponse(resp queue.BatchResponse) events.SQSEventResponse {
	out := events.SQSEventResponse{}
	for _, f := range resp.BatchItemFailures {
		out.BatchItemFailures = append(out.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: f.ItemIdentifier})
	}
	return out
}
