package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/telhawk-systems/crm-ingest/common/queue"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	Secrets   SecretsConfig   `mapstructure:"secrets"`
	Queue     queue.Config    `mapstructure:"queue"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type WebhookConfig struct {
	MaxBodyBytes   int64         `mapstructure:"max_body_bytes"`
	EnqueueTimeout time.Duration `mapstructure:"enqueue_timeout"`
}

// SecretsConfig registers the shared secret for each webhook_id. Entries in
// File take precedence over Static.
type SecretsConfig struct {
	File   string            `mapstructure:"file"`
	Static map[string]string `mapstructure:"static"`
}

type RateLimitConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	RedisURL string        `mapstructure:"redis_url"`
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.port", 8088)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("webhook.max_body_bytes", 256*1024)
	v.SetDefault("webhook.enqueue_timeout", "5s")
	v.SetDefault("secrets.file", "")
	v.SetDefault("queue.backend", queue.BackendJetStream)
	v.SetDefault("queue.nats.url", "nats://localhost:4222")
	v.SetDefault("queue.sqs.region", "us-east-1")
	v.SetDefault("ratelimit.enabled", false)
	v.SetDefault("ratelimit.redis_url", "redis://localhost:6379/0")
	v.SetDefault("ratelimit.requests", 600)
	v.SetDefault("ratelimit.window", "1m")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/crm-ingest/ingest")
	}

	// INGEST_QUEUE_NATS_URL overrides queue.nats.url.
	v.SetEnvPrefix("INGEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Webhook.MaxBodyBytes <= 0 {
		return fmt.Errorf("webhook.max_body_bytes must be positive")
	}
	if c.RateLimit.Enabled && c.RateLimit.Requests <= 0 {
		return fmt.Errorf("ratelimit.requests must be positive when rate limiting is enabled")
	}
	return nil
}
