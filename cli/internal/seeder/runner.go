package seeder

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/telhawk-systems/crm-ingest/cli/internal/client"
	"github.com/telhawk-systems/crm-ingest/common/logging"
)

// Sender delivers one webhook body.
type Sender interface {
	Send(ctx context.Context, payload []byte) (*client.Response, error)
}

// Summary tallies a run. Mismatched counts payloads whose reply contradicted
// their Expectation (an invalid body accepted, or a valid one rejected).
type Summary struct {
	Sent       int            `json:"sent"`
	Accepted   int            `json:"accepted"`
	Rejected   int            `json:"rejected"`
	Errors     int            `json:"transport_errors"`
	Mismatched int            `json:"mismatched"`
	ByKind     map[string]int `json:"by_kind"`
	ByIntent   map[string]int `json:"by_intent"`
	ByStatus   map[int]int    `json:"by_status"`
	Elapsed    time.Duration  `json:"elapsed"`
}

type Runner struct {
	cfg    *Config
	sender Sender
	logger *slog.Logger

	mu      sync.Mutex
	summary Summary
}

func NewRunner(cfg *Config, sender Sender, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = logging.Discard().Logger
	}
	return &Runner{cfg: cfg, sender: sender, logger: logger}
}

// Plan generates n payloads without sending them.
func Plan(cfg *Config, n int) ([]Payload, error) {
	gen := NewGenerator(cfg)
	out := make([]Payload, 0, n)
	for range n {
		p, err := gen.Next()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Run sends cfg.Count payloads with at most cfg.Concurrency in flight. A
// rejected payload is not an error; Run fails only when ctx ends.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	r.summary = Summary{
		ByKind:   make(map[string]int),
		ByIntent: make(map[string]int),
		ByStatus: make(map[int]int),
	}
	start := time.Now()

	r.logger.Info("Starting seeder",
		slog.String("url", r.cfg.URL),
		slog.Int("count", r.cfg.Count),
		slog.Any("kinds", r.cfg.Kinds),
		slog.Int("concurrency", r.cfg.Concurrency),
		slog.Duration("interval", r.cfg.Interval))

	gen := NewGenerator(r.cfg)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)

	var ticker *time.Ticker
	if r.cfg.Interval > 0 {
		ticker = time.NewTicker(r.cfg.Interval)
		defer ticker.Stop()
	}

loop:
	for i := range r.cfg.Count {
		if i > 0 && ticker != nil {
			select {
			case <-gctx.Done():
				break loop
			case <-ticker.C:
			}
		}
		if gctx.Err() != nil {
			break
		}

		p, err := gen.Next()
		if err != nil {
			r.logger.Warn("Failed to generate payload", logging.Error(err))
			continue
		}
		g.Go(func() error {
			r.send(gctx, p)
			return nil
		})
	}

	_ = g.Wait()
	r.summary.Elapsed = time.Since(start)

	r.logger.Info("Seeding complete",
		slog.Int("sent", r.summary.Sent),
		slog.Int("accepted", r.summary.Accepted),
		slog.Int("rejected", r.summary.Rejected),
		slog.Int("errors", r.summary.Errors),
		slog.Int("mismatched", r.summary.Mismatched),
		slog.Duration("elapsed", r.summary.Elapsed))

	return r.summary, ctx.Err()
}

func (r *Runner) send(ctx context.Context, p Payload) {
	resp, err := r.sender.Send(ctx, p.Body)

	r.mu.Lock()
	defer r.mu.Unlock()
	s := &r.summary
	s.Sent++
	s.ByKind[string(p.Kind)]++
	s.ByIntent[p.Expect.String()]++

	if err != nil {
		s.Errors++
		r.logger.Debug("Send failed", logging.WebhookID(string(p.Kind)), logging.Error(err))
		return
	}
	s.ByStatus[resp.StatusCode]++
	if resp.Accepted() {
		s.Accepted++
	} else {
		s.Rejected++
	}
	if resp.Accepted() == (p.Expect == ExpectRejected) {
		s.Mismatched++
		r.logger.Warn("Unexpected response",
			logging.WebhookID(string(p.Kind)),
			logging.Status(resp.StatusCode),
			slog.String("intent", p.Expect.String()),
			slog.String("message", resp.Message))
	}
}
