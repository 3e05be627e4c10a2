package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/telhawk-systems/crm-ingest/common/database"
	"github.com/telhawk-systems/crm-ingest/common/event"
)

// uniqueViolation is the SQLSTATE for a primary key conflict.
const uniqueViolation = "23505"

const (
	insertRecordSQL = `
		INSERT INTO crm_records (partition_key, sort_key, record_hash, webhook_id, document)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (partition_key, sort_key) DO NOTHING`

	selectRecordSQL = `
		SELECT document FROM crm_records
		WHERE partition_key = $1 AND sort_key = $2`
)

type PostgresConfig struct {
	URL         string `mapstructure:"url"`
	MaxConns    int32  `mapstructure:"max_conns"`
	MinConns    int32  `mapstructure:"min_conns"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
}

// Postgres stores records in the crm_records table created by the
// migrations package.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, cfg PostgresConfig) (*Postgres, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pcfg.MinConns = cfg.MinConns
	}
	pcfg.MaxConnLifetime = 5 * time.Minute
	pcfg.MaxConnIdleTime = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) PutIfAbsent(ctx context.Context, item Item) WriteResult {
	doc, err := item.MarshalDocument()
	if err != nil {
		return failed("encode item", err)
	}

	ctx, cancel := database.WriteContext(ctx)
	defer cancel()

	tag, err := p.pool.Exec(ctx, insertRecordSQL,
		item.Key.PartitionKey, item.Key.SortKey, item.RecordHash, string(item.Kind), doc)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return alreadyExists()
		}
		return failed("insert record", err)
	}
	if tag.RowsAffected() == 0 {
		return alreadyExists()
	}
	return committed()
}

func (p *Postgres) Get(ctx context.Context, key event.Key) (Item, error) {
	ctx, cancel := database.QueryContext(ctx)
	defer cancel()

	var doc []byte
	err := p.pool.QueryRow(ctx, selectRecordSQL, key.PartitionKey, key.SortKey).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return Item{}, ErrNotFound
	}
	if err != nil {
		return Item{}, fmt.Errorf("select record: %w", err)
	}
	return ParseItem(doc)
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

var _ Store = (*Postgres)(nil)
