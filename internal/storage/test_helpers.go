package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/avco-ledger/internal/config"
)

// testContext creates a context with timeout for tests
func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func testEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// testPostgres connects to the dev database and applies migrations, or skips
func testPostgres(t *testing.T) *PostgresDB {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cfg := &config.PostgresConfig{
		Host:           testEnv("POSTGRES_HOST", "localhost"),
		Port:           testEnv("POSTGRES_PORT", "5432"),
		Database:       testEnv("POSTGRES_DB", "avco_ledger_test"),
		User:           testEnv("POSTGRES_USER", "ledger"),
		Password:       testEnv("POSTGRES_PASSWORD", "ledger_dev_password"),
		MaxConnections: 4,
	}

	db, err := NewPostgresDB(context.Background(), cfg)
	if err != nil {
		t.Skipf("Skipping test - Postgres not available: %v", err)
	}
	t.Cleanup(db.Close)

	if err := RunMigrations(cfg.ConnString(), "../../migrations/postgres"); err != nil {
		t.Skipf("Skipping test - migrations failed: %v", err)
	}
	return db
}

// testClickHouse connects to the dev ClickHouse and creates the schema, or skips
func testClickHouse(t *testing.T) *ClickHouseDB {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cfg := &config.ClickHouseConfig{
		Host:     testEnv("CLICKHOUSE_HOST", "localhost"),
		Port:     testEnv("CLICKHOUSE_PORT", "9000"),
		Database: testEnv("CLICKHOUSE_DB", "default"),
		User:     testEnv("CLICKHOUSE_USER", "default"),
		Password: testEnv("CLICKHOUSE_PASSWORD", ""),
	}

	db, err := NewClickHouseDB(context.Background(), cfg)
	if err != nil {
		t.Skipf("Skipping test - ClickHouse not available: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := RunClickHouseMigrations(context.Background(), db, "../../migrations/clickhouse"); err != nil {
		t.Skipf("Skipping test - ClickHouse migrations failed: %v", err)
	}
	return db
}
