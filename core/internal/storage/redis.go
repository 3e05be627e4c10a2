package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/telhawk-systems/crm-ingest/common/database"
	"github.com/telhawk-systems/crm-ingest/common/event"
)

type RedisConfig struct {
	URL       string `mapstructure:"url"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// Redis stores each partition as a hash under <prefix>partition:<PK> with
// one field per sort key. HSETNX is the conditional write.
type Redis struct {
	client *redis.Client
	prefix string
}

func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return newRedis(client, cfg.KeyPrefix), nil
}

func newRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = "crm:"
	}
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) partitionKey(pk string) string { return r.prefix + "partition:" + pk }

func (r *Redis) PutIfAbsent(ctx context.Context, item Item) WriteResult {
	doc, err := item.MarshalDocument()
	if err != nil {
		return failed("encode item", err)
	}

	ctx, cancel := database.WriteContext(ctx)
	defer cancel()

	ok, err := r.client.HSetNX(ctx, r.partitionKey(item.Key.PartitionKey), item.Key.SortKey, doc).Result()
	if err != nil {
		return failed("redis put", err)
	}
	if !ok {
		return alreadyExists()
	}
	return committed()
}

func (r *Redis) Get(ctx context.Context, key event.Key) (Item, error) {
	ctx, cancel := database.QueryContext(ctx)
	defer cancel()

	doc, err := r.client.HGet(ctx, r.partitionKey(key.PartitionKey), key.SortKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return Item{}, ErrNotFound
	}
	if err != nil {
		return Item{}, fmt.Errorf("redis get: %w", err)
	}
	return ParseItem(doc)
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}

var _ Store = (*Redis)(nil)
