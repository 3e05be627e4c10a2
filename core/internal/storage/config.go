package storage

import (
	"context"
	"fmt"

	"github.com/telhawk-systems/crm-ingest/core/migrations"
)

// Backend names accepted in Config.Backend.
const (
	BackendPostgres   = "postgres"
	BackendRedis      = "redis"
	BackendOpenSearch = "opensearch"
	BackendMemory     = "memory"
)

type Config struct {
	Backend    string           `mapstructure:"backend"`
	Postgres   PostgresConfig   `mapstructure:"postgres"`
	Redis      RedisConfig      `mapstructure:"redis"`
	OpenSearch OpenSearchConfig `mapstructure:"opensearch"`
}

// Open connects the configured backend. Postgres schemas are migrated first
// when AutoMigrate is set.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case BackendPostgres:
		if cfg.Postgres.AutoMigrate {
			if err := migrations.Up(cfg.Postgres.URL); err != nil {
				return nil, err
			}
		}
		return nonNil(NewPostgres(ctx, cfg.Postgres))
	case BackendRedis:
		return nonNil(NewRedis(ctx, cfg.Redis))
	case BackendOpenSearch:
		return nonNil(NewOpenSearch(ctx, cfg.OpenSearch))
	case BackendMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// nonNil keeps a failed constructor from handing back a typed nil Store.
func nonNil[S Store](s S, err error) (Store, error) {
	if err != nil {
		return nil, err
	}
	return s, nil
}
