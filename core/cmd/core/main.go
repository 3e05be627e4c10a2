package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/telhawk-systems/crm-ingest/common/logging"
	"github.com/telhawk-systems/crm-ingest/common/queue"
	"github.com/telhawk-systems/crm-ingest/core/internal/config"
	"github.com/telhawk-systems/crm-ingest/core/internal/dlq"
	"github.com/telhawk-systems/crm-ingest/core/internal/handlers"
	"github.com/telhawk-systems/crm-ingest/core/internal/server"
	"github.com/telhawk-systems/crm-ingest/core/internal/storage"
	"github.com/telhawk-systems/crm-ingest/core/internal/worker"
	"github.com/telhawk-systems/crm-ingest/core/internal/writer"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	addr := flag.String("addr", "", "override listen address")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := logging.New(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	).With(logging.Service("core"))
	logging.SetDefault(logger)

	listenAddr := fmt.Sprintf(":%d", cfg.Server.Port)
	if *addr != "" {
		listenAddr = *addr
	}

	slog.Info("Starting core service",
		slog.String("addr", listenAddr),
		slog.String("queue_backend", cfg.Queue.Backend),
		slog.String("storage_backend", cfg.Storage.Backend),
		slog.Int("workers", cfg.Worker.Pool.Workers),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		fatal("Failed to open record store", err)
	}
	defer store.Close()

	deadLetter, err := dlq.Open(ctx, cfg.DLQ, logger.Logger)
	if err != nil {
		slog.Warn("Failed to initialize DLQ, continuing without DLQ", logging.Error(err))
		deadLetter = nil
	} else if deadLetter == nil {
		slog.Info("DLQ disabled")
	} else {
		slog.Info("DLQ enabled", slog.String("backend", cfg.DLQ.Backend))
		if c, ok := deadLetter.(io.Closer); ok {
			defer c.Close()
		}
	}

	writerOpts := []writer.Option{writer.WithLogger(logger)}
	healthOpts := []handlers.Option{}
	if deadLetter != nil {
		writerOpts = append(writerOpts, writer.WithDeadLetter(deadLetter))
		healthOpts = append(healthOpts, handlers.WithDeadLetter(deadLetter))
	}
	w := writer.New(store, cfg.Worker.Writer, writerOpts...)

	consumer, err := queue.NewConsumer(ctx, cfg.Queue, logger.Logger)
	if err != nil {
		fatal("Failed to initialize queue consumer", err)
	}
	if bb, ok := consumer.(queue.BrokerBacked); ok {
		healthOpts = append(healthOpts, handlers.WithBroker(cfg.Queue.Backend, bb.Connection()))
	}

	// Replay republishes through the same transport the ingest service uses.
	var replayer queue.Producer
	if deadLetter != nil {
		p, err := queue.NewProducer(ctx, cfg.Queue, logger.Logger)
		if err != nil {
			slog.Warn("DLQ replay disabled", logging.Error(err))
		} else {
			replayer = p
			defer p.Close()
		}
	}

	srv := &http.Server{
		Addr: listenAddr,
		Handler: server.NewRouter(
			handlers.NewHealthHandler(w, store, healthOpts...),
			handlers.NewDeadLetterHandler(deadLetter, replayer, logger.Logger),
		),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	go func() {
		slog.Info("Core service listening", slog.String("addr", listenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal("Server error", err)
		}
	}()

	pool := worker.NewPool(consumer, w, cfg.Worker.Pool, logger)
	if err := pool.Run(ctx); err != nil {
		slog.Error("Worker pool exited with error", logging.Error(err))
	}

	slog.Info("Shutdown signal received")
	if err := consumer.Close(); err != nil {
		slog.Warn("Failed to close queue consumer", logging.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Graceful shutdown failed", logging.Error(err))
	}
	slog.Info("Core service stopped", slog.Any("stats", w.Stats()))
}

func fatal(msg string, err error) {
	slog.Error(msg, logging.Error(err))
	os.Exit(1)
}
