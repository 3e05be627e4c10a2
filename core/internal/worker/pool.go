// Package worker runs the dequeue, process and settle loop.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/telhawk-systems/crm-ingest/common/logging"
	"github.com/telhawk-systems/crm-ingest/common/queue"
	"github.com/telhawk-systems/crm-ingest/core/internal/metrics"
)

// Processor handles one batch and names the deliveries to redeliver.
type Processor interface {
	ProcessBatch(ctx context.Context, batch []queue.Delivery) queue.BatchResponse
}

type Config struct {
	Workers       int           `mapstructure:"workers"`
	BatchSize     int           `mapstructure:"batch_size"`
	BatchTimeout  time.Duration `mapstructure:"batch_timeout"`
	SettleTimeout time.Duration `mapstructure:"settle_timeout"`
	ErrorBackoff  time.Duration `mapstructure:"error_backoff"`
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.BatchTimeout <= 0 {
		c.BatchTimeout = 30 * time.Second
	}
	if c.SettleTimeout <= 0 {
		c.SettleTimeout = 10 * time.Second
	}
	if c.ErrorBackoff <= 0 {
		c.ErrorBackoff = time.Second
	}
	return c
}

// Pool runs Workers goroutines, each owning one batch at a time.
type Pool struct {
	consumer queue.Consumer
	proc     Processor
	cfg      Config
	logger   *logging.Logger
}

func NewPool(consumer queue.Consumer, proc Processor, cfg Config, logger *logging.Logger) *Pool {
	if logger == nil {
		logger = logging.Default()
	}
	return &Pool{consumer: consumer, proc: proc, cfg: cfg.withDefaults(), logger: logger}
}

// Run blocks until ctx is canceled or the consumer is closed. A batch that
// is already dequeued is finished and settled before Run returns.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.Info("starting worker pool",
		slog.Int("workers", p.cfg.Workers),
		logging.BatchSize(p.cfg.BatchSize))

	var g errgroup.Group
	for i := range p.cfg.Workers {
		g.Go(func() error {
			p.loop(ctx, i)
			return nil
		})
	}
	err := g.Wait()
	p.logger.Info("worker pool stopped")
	return err
}

func (p *Pool) loop(ctx context.Context, id int) {
	log := p.logger.With(slog.Int("worker", id))
	for ctx.Err() == nil {
		batch, err := p.consumer.DequeueBatch(ctx, p.cfg.BatchSize)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return
			}
			log.Warn("dequeue failed", logging.Error(err))
			p.sleep(ctx)
			continue
		}
		if len(batch) == 0 {
			continue
		}
		p.runBatch(ctx, log, batch)
	}
}

func (p *Pool) runBatch(ctx context.Context, log *logging.Logger, batch []queue.Delivery) {
	// Shutdown must not cut a dequeued batch short; its own deadlines bound it.
	base := context.WithoutCancel(ctx)

	bctx, cancel := context.WithTimeout(base, p.cfg.BatchTimeout)
	resp := p.proc.ProcessBatch(bctx, batch)
	cancel()

	sctx, cancel := context.WithTimeout(base, p.cfg.SettleTimeout)
	defer cancel()
	if err := p.consumer.Settle(sctx, batch, resp); err != nil {
		metrics.SettleErrors.Inc()
		log.Error("failed to settle batch; unsettled messages will be redelivered",
			logging.BatchSize(len(batch)),
			logging.Error(err))
	}
}

func (p *Pool) sleep(ctx context.Context) {
	t := time.NewTimer(p.cfg.ErrorBackoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
