package repo

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
)

// newTestPool подключается к ARBITER_TEST_DB_URL (или DB_URL) и готовит чистую схему.
// Без переменной окружения интеграционные тесты пропускаются.
func newTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv("ARBITER_TEST_DB_URL")
	if dsn == "" {
		dsn = os.Getenv("DB_URL")
	}
	if dsn == "" {
		t.Skip("ARBITER_TEST_DB_URL or DB_URL not set; skipping postgres integration test")
	}

	ctx := context.Background()
	pool, err := NewPool(ctx, dsn, 4)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := EnsureSchema(ctx, pool); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	if _, err := pool.Exec(ctx, `TRUNCATE dag_actions, dag_states, flows`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return pool
}
