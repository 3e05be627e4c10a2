// Package nats implements the messaging contracts on top of NATS and
// JetStream.
package nats

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Client is a thin wrapper around a NATS connection.
type Client struct {
	conn   *nats.Conn
	logger *slog.Logger
}

// Config holds NATS connection settings.
type Config struct {
	URL           string
	Name          string
	MaxReconnects int // -1 reconnects forever
	ReconnectWait time.Duration
	Timeout       time.Duration
	Username      string
	Password      string
	Token         string

	// Logger receives connection lifecycle events. Defaults to slog.Default.
	Logger *slog.Logger
}

// DefaultConfig returns connection defaults for a named client.
func DefaultConfig(url, name string) Config {
	if url == "" {
		url = nats.DefaultURL
	}
	return Config{
		URL:           url,
		Name:          name,
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// NewClient dials NATS.
func NewClient(cfg Config) (*Client, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "nats"), slog.String("client", cfg.Name))

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("reconnected", slog.String("url", nc.ConnectedUrlRedacted()))
		}),
	}
	if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &Client{conn: conn, logger: logger}, nil
}

func (c *Client) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

func (c *Client) RTT() (time.Duration, error) {
	return c.conn.RTT()
}

// Drain lets in-flight messages finish before closing.
func (c *Client) Drain() error {
	return c.conn.Drain()
}

func (c *Client) Close() error {
	c.conn.Close()
	return nil
}
