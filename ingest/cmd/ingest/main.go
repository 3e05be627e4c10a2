package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/telhawk-systems/crm-ingest/common/logging"
	"github.com/telhawk-systems/crm-ingest/common/queue"
	"github.com/telhawk-systems/crm-ingest/ingest/internal/config"
	"github.com/telhawk-systems/crm-ingest/ingest/internal/handlers"
	"github.com/telhawk-systems/crm-ingest/ingest/internal/ratelimit"
	"github.com/telhawk-systems/crm-ingest/ingest/internal/secrets"
	"github.com/telhawk-systems/crm-ingest/ingest/internal/server"
	"github.com/telhawk-systems/crm-ingest/ingest/internal/service"
	"github.com/telhawk-systems/crm-ingest/ingest/internal/validator"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.New(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	).With(logging.Service("ingest"))
	logging.SetDefault(logger)

	slog.Info("Starting ingest service",
		slog.Int("port", cfg.Server.Port),
		slog.String("queue_backend", cfg.Queue.Backend),
		slog.String("log_level", cfg.Logging.Level),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	lookup := secrets.Chain{}
	if cfg.Secrets.File != "" {
		fromFile, err := secrets.LoadFile(cfg.Secrets.File)
		if err != nil {
			fatal("Failed to load secrets file", err)
		}
		lookup = append(lookup, fromFile)
		slog.Info("Loaded webhook secrets", slog.String("path", cfg.Secrets.File), slog.Int("kinds", len(fromFile)))
	}
	lookup = append(lookup, secrets.FromMap(cfg.Secrets.Static))

	v, err := validator.New(lookup)
	if err != nil {
		fatal("Failed to build validator", err)
	}

	producer, err := queue.NewProducer(ctx, cfg.Queue, logger.Logger)
	if err != nil {
		fatal("Failed to initialize queue producer", err)
	}

	var limiter ratelimit.RateLimiter = ratelimit.NoOpRateLimiter{}
	if cfg.RateLimit.Enabled {
		rl, err := ratelimit.NewRedisRateLimiter(ctx, cfg.RateLimit.RedisURL, cfg.RateLimit.Requests, cfg.RateLimit.Window)
		if err != nil {
			slog.Warn("Failed to initialize Redis rate limiter, continuing without rate limiting", logging.Error(err))
		} else {
			limiter = rl
			slog.Info("Rate limiting enabled",
				slog.Int("requests", cfg.RateLimit.Requests),
				slog.Duration("window", cfg.RateLimit.Window))
		}
	}
	defer limiter.Close()

	ingestService := service.NewIngestService(v, producer, cfg.Webhook.EnqueueTimeout, logger)
	defer func() {
		if err := ingestService.Close(); err != nil {
			slog.Warn("Failed to close producer", logging.Error(err))
		}
	}()

	opts := []handlers.Option{
		handlers.WithRateLimiter(limiter),
		handlers.WithMaxBodyBytes(cfg.Webhook.MaxBodyBytes),
		handlers.WithLogger(logger),
	}
	if bb, ok := producer.(queue.BrokerBacked); ok {
		opts = append(opts, handlers.WithBroker(cfg.Queue.Backend, bb.Connection()))
	}
	handler := handlers.NewWebhookHandler(ingestService, opts...)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server.NewRouter(handler),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		slog.Info("Ingest service listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal("Server error", err)
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.WriteTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", logging.Error(err))
	}
	slog.Info("Server stopped")
}

func fatal(msg string, err error) {
	slog.Error(msg, logging.Error(err))
	os.Exit(1)
}
