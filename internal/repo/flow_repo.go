package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Arbiter/internal/domain"
	"github.com/shaiso/Arbiter/internal/engine"
)

const flowColumns = `id, flow_group, name, cron_expr, timezone, enabled, jobs, props, created_at, updated_at`

// FlowRepo — репозиторий определений flow.
type FlowRepo struct {
	pool *pgxpool.Pool
}

// NewFlowRepo создаёт новый FlowRepo.
func NewFlowRepo(pool *pgxpool.Pool) *FlowRepo {
	return &FlowRepo{pool: pool}
}

// Create создаёт новый flow.
func (r *FlowRepo) Create(ctx context.Context, flow *domain.Flow) error {
	jobs, props, err := marshalFlowBody(flow)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO flows (` + flowColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = r.pool.Exec(ctx, query,
		flow.ID,
		flow.Group,
		flow.Name,
		flow.CronExpr,
		flow.Timezone,
		flow.Enabled,
		jobs,
		props,
		flow.CreatedAt,
		flow.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("flow %s: %w", flow.Key(), ErrAlreadyExists)
		}
		return fmt.Errorf("insert flow: %w", err)
	}
	return nil
}

// Get возвращает flow по группе и имени.
func (r *FlowRepo) Get(ctx context.Context, group, name string) (*domain.Flow, error) {
	query := `SELECT ` + flowColumns + ` FROM flows WHERE flow_group = $1 AND name = $2`

	flow, err := scanFlow(r.pool.QueryRow(ctx, query, group, name))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get flow: %w", err)
	}
	return flow, nil
}

// List возвращает все flows.
func (r *FlowRepo) List(ctx context.Context) ([]domain.Flow, error) {
	return r.list(ctx, `SELECT `+flowColumns+` FROM flows ORDER BY flow_group, name`)
}

// ListEnabled возвращает включённые flows.
func (r *FlowRepo) ListEnabled(ctx context.Context) ([]domain.Flow, error) {
	return r.list(ctx, `SELECT `+flowColumns+` FROM flows WHERE enabled ORDER BY flow_group, name`)
}

func (r *FlowRepo) list(ctx context.Context, query string) ([]domain.Flow, error) {
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list flows: %w", err)
	}
	defer rows.Close()

	var flows []domain.Flow
	for rows.Next() {
		flow, err := scanFlow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan flow: %w", err)
		}
		flows = append(flows, *flow)
	}
	return flows, rows.Err()
}

// Update обновляет flow.
func (r *FlowRepo) Update(ctx context.Context, flow *domain.Flow) error {
	jobs, props, err := marshalFlowBody(flow)
	if err != nil {
		return err
	}

	query := `
		UPDATE flows
		SET cron_expr = $3, timezone = $4, enabled = $5, jobs = $6, props = $7, updated_at = $8
		WHERE flow_group = $1 AND name = $2
	`
	result, err := r.pool.Exec(ctx, query,
		flow.Group,
		flow.Name,
		flow.CronExpr,
		flow.Timezone,
		flow.Enabled,
		jobs,
		props,
		flow.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update flow: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete удаляет flow.
func (r *FlowRepo) Delete(ctx context.Context, group, name string) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM flows WHERE flow_group = $1 AND name = $2`, group, name)
	if err != nil {
		return fmt.Errorf("delete flow: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func marshalFlowBody(flow *domain.Flow) ([]byte, []byte, error) {
	jobs := flow.Jobs
	if jobs == nil {
		jobs = []domain.JobSpec{}
	}
	jobsJSON, err := json.Marshal(jobs)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal jobs: %w", err)
	}

	props := flow.Props
	if props == nil {
		props = map[string]string{}
	}
	propsJSON, err := json.Marshal(props)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal props: %w", err)
	}
	return jobsJSON, propsJSON, nil
}

func scanFlow(row pgx.Row) (*domain.Flow, error) {
	var (
		flow            domain.Flow
		jobsJSON, props []byte
	)
	err := row.Scan(
		&flow.ID,
		&flow.Group,
		&flow.Name,
		&flow.CronExpr,
		&flow.Timezone,
		&flow.Enabled,
		&jobsJSON,
		&props,
		&flow.CreatedAt,
		&flow.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	jobs, err := engine.ParseJobs(jobsJSON)
	if err != nil {
		return nil, fmt.Errorf("flow %s.%s jobs: %w", flow.Group, flow.Name, err)
	}
	flow.Jobs = jobs
	if err := json.Unmarshal(props, &flow.Props); err != nil {
		return nil, fmt.Errorf("unmarshal props: %w", err)
	}
	return &flow, nil
}
