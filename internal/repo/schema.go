package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema — DDL таблиц. Все выражения идемпотентны.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS dag_actions (
		action_key        TEXT PRIMARY KEY,
		flow_group        TEXT        NOT NULL,
		flow_name         TEXT        NOT NULL,
		flow_execution_id BIGINT      NOT NULL,
		job_name          TEXT        NOT NULL DEFAULT '',
		action_type       TEXT        NOT NULL,
		owner             TEXT        NOT NULL,
		event_time_millis BIGINT      NOT NULL,
		acquired_at       TIMESTAMPTZ NOT NULL,
		expires_at        TIMESTAMPTZ NOT NULL,
		completed_at      TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS dag_actions_pending_idx
		ON dag_actions (event_time_millis) WHERE completed_at IS NULL`,
	`CREATE INDEX IF NOT EXISTS dag_actions_completed_idx
		ON dag_actions (completed_at) WHERE completed_at IS NOT NULL`,

	`CREATE TABLE IF NOT EXISTS dag_states (
		dag_id            TEXT PRIMARY KEY,
		flow_group        TEXT        NOT NULL,
		flow_name         TEXT        NOT NULL,
		flow_execution_id BIGINT      NOT NULL,
		status            TEXT        NOT NULL,
		dag               JSONB       NOT NULL,
		updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS flows (
		id         UUID PRIMARY KEY,
		flow_group TEXT        NOT NULL,
		name       TEXT        NOT NULL,
		cron_expr  TEXT        NOT NULL DEFAULT '',
		timezone   TEXT        NOT NULL DEFAULT 'UTC',
		enabled    BOOLEAN     NOT NULL DEFAULT true,
		jobs       JSONB       NOT NULL DEFAULT '[]',
		props      JSONB       NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		UNIQUE (flow_group, name)
	)`,
}

// EnsureSchema создаёт таблицы, если их нет.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
