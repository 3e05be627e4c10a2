// Command core-lambda runs the record writer as an AWS Lambda SQS batch
// handler with partial batch responses.
package main

import (
	"context"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/telhawk-systems/crm-ingest/common/logging"
	"github.com/telhawk-systems/crm-ingest/core/internal/config"
	"github.com/telhawk-systems/crm-ingest/core/internal/dlq"
	"github.com/telhawk-systems/crm-ingest/core/internal/storage"
	"github.com/telhawk-systems/crm-ingest/core/internal/writer"
)

func main() {
	cfg, err := config.Load(os.Getenv("CORE_CONFIG_FILE"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := logging.New(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	).With(logging.Service("core-lambda"))
	logging.SetDefault(logger)

	// Connections are opened once per execution environment and reused
	// across invocations.
	ctx := context.Background()
	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		logger.Error("Failed to open record store", logging.Error(err))
		os.Exit(1)
	}

	opts := []writer.Option{writer.WithLogger(logger)}
	// SQS redrive policies usually own poison handling here; an explicit
	// DLQ is still honoured when configured.
	if deadLetter, err := dlq.Open(ctx, cfg.DLQ, logger.Logger); err != nil {
		logger.Warn("Failed to initialize DLQ, continuing without DLQ", logging.Error(err))
	} else if deadLetter != nil {
		opts = append(opts, writer.WithDeadLetter(deadLetter))
	}

	h := &handler{writer: writer.New(store, cfg.Worker.Writer, opts...), logger: logger}
	lambda.Start(h.Handle)
}
