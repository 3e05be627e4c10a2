package seeder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/telhawk-systems/crm-ingest/common/event"
)

// Config controls a seeding run.
type Config struct {
	URL            string            `mapstructure:"url" yaml:"url"`
	Count          int               `mapstructure:"count" yaml:"count"`
	Kinds          []string          `mapstructure:"kinds" yaml:"kinds"`
	DuplicateRatio float64           `mapstructure:"duplicate_ratio" yaml:"duplicate_ratio"`
	InvalidRatio   float64           `mapstructure:"invalid_ratio" yaml:"invalid_ratio"`
	Concurrency    int               `mapstructure:"concurrency" yaml:"concurrency"`
	Interval       time.Duration     `mapstructure:"interval" yaml:"interval"`
	Seed           int64             `mapstructure:"seed" yaml:"seed"`
	Secrets        map[string]string `mapstructure:"secrets" yaml:"secrets"`
}

// LoadConfig loads configuration with cascade: env > ./seeder.yaml >
// ~/.crmctl/seeder.yaml > defaults. Flags are applied by the caller.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("seeder")
	v.SetConfigType("yaml")
	v.SetEnvPrefix("SEEDER")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".crmctl"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if cfg.Secrets == nil {
		cfg.Secrets = make(map[string]string)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("url", "http://localhost:8088")
	v.SetDefault("count", 100)
	v.SetDefault("kinds", []string{
		string(event.KindLead), string(event.KindBilling), string(event.KindSignup),
	})
	v.SetDefault("duplicate_ratio", 0.1)
	v.SetDefault("invalid_ratio", 0.05)
	v.SetDefault("concurrency", 4)
	v.SetDefault("interval", 0)
	v.SetDefault("seed", 0)
}

// Validate checks ranges and that every selected kind has a secret.
func (c *Config) Validate() error {
	if c.URL == "" {
		return errors.New("url is required")
	}
	if c.Count <= 0 {
		return fmt.Errorf("count must be positive, got %d", c.Count)
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive, got %d", c.Concurrency)
	}
	if c.DuplicateRatio < 0 || c.DuplicateRatio > 1 {
		return fmt.Errorf("duplicate_ratio must be within [0,1], got %v", c.DuplicateRatio)
	}
	if c.InvalidRatio < 0 || c.InvalidRatio > 1 {
		return fmt.Errorf("invalid_ratio must be within [0,1], got %v", c.InvalidRatio)
	}
	if c.DuplicateRatio+c.InvalidRatio > 1 {
		return errors.New("duplicate_ratio + invalid_ratio must not exceed 1")
	}
	if len(c.Kinds) == 0 {
		return errors.New("at least one kind is required")
	}
	for _, k := range c.Kinds {
		if !event.Kind(k).Valid() {
			return fmt.Errorf("unknown kind %q", k)
		}
		if c.Secrets[k] == "" {
			return fmt.Errorf("no secret configured for %s", k)
		}
	}
	return nil
}

// SelectedKinds returns Kinds as typed values.
func (c *Config) SelectedKinds() []event.Kind {
	out := make([]event.Kind, 0, len(c.Kinds))
	for _, k := range c.Kinds {
		out = append(out, event.Kind(k))
	}
	return out
}
