package storage

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/telhawk-systems/crm-ingest/common/event"
)

// setupPostgresStore starts a PostgreSQL container and opens the store with
// migrations applied.
func setupPostgresStore(t *testing.T) *Postgres {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("crm_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	s, err := Open(ctx, Config{
		Backend:  BackendPostgres,
		Postgres: PostgresConfig{URL: connStr, AutoMigrate: true},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s.(*Postgres)
}

func TestPostgresStore(t *testing.T) {
	s := setupPostgresStore(t)
	exerciseStore(t, s)
}

func TestPostgresStore_AmountPrecision(t *testing.T) {
	s := setupPostgresStore(t)
	ctx := context.Background()

	rec := event.NewRecord(event.Billing{
		CustomerID:    "c1",
		Amount:        json.Number("1234567890.123456789"),
		Currency:      "USD",
		TransactionID: "t1",
	})
	body, err := rec.MarshalJSON()
	require.NoError(t, err)
	item, err := NewItem(rec, body)
	require.NoError(t, err)
	require.Equal(t, Committed, s.PutIfAbsent(ctx, item).Outcome)

	got, err := s.Get(ctx, item.Key)
	require.NoError(t, err)
	assert.Equal(t, json.Number("1234567890.123456789"), got.Document["amount"])
}
