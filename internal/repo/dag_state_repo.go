package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Arbiter/internal/dagstate"
	"github.com/shaiso/Arbiter/internal/domain"
)

// DagStateRepo — dagstate.Store поверх Postgres: DAG хранится целиком в jsonb.
type DagStateRepo struct {
	pool *pgxpool.Pool
}

// NewDagStateRepo создаёт новый DagStateRepo.
func NewDagStateRepo(pool *pgxpool.Pool) *DagStateRepo {
	return &DagStateRepo{pool: pool}
}

var _ dagstate.Store = (*DagStateRepo)(nil)

// WriteCheckpoint перезаписывает состояние DAG.
func (r *DagStateRepo) WriteCheckpoint(ctx context.Context, dag *domain.Dag) error {
	if dag == nil || dag.ID.IsZero() {
		return fmt.Errorf("%w: dag id is required", dagstate.ErrInvalidDag)
	}

	data, err := json.Marshal(dag)
	if err != nil {
		return fmt.Errorf("marshal dag %s: %w", dag.ID, err)
	}

	query := `
		INSERT INTO dag_states (dag_id, flow_group, flow_name, flow_execution_id, status, dag, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (dag_id) DO UPDATE SET
			status = EXCLUDED.status,
			dag = EXCLUDED.dag,
			updated_at = now()
	`
	_, err = r.pool.Exec(ctx, query,
		dag.ID.String(),
		dag.ID.FlowGroup,
		dag.ID.FlowName,
		dag.ID.FlowExecutionID,
		string(dag.Status),
		data,
	)
	if err != nil {
		return fmt.Errorf("%w: upsert dag %s: %w", dagstate.ErrCheckpointIO, dag.ID, err)
	}
	return nil
}

// CleanUp удаляет DAG. Отсутствующая запись — не ошибка.
func (r *DagStateRepo) CleanUp(ctx context.Context, id domain.DagID) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM dag_states WHERE dag_id = $1`, id.String()); err != nil {
		return fmt.Errorf("%w: delete dag %s: %w", dagstate.ErrCheckpointIO, id, err)
	}
	return nil
}

// GetDag возвращает DAG по id.
func (r *DagStateRepo) GetDag(ctx context.Context, id domain.DagID) (*domain.Dag, error) {
	var data []byte
	err := r.pool.QueryRow(ctx, `SELECT dag FROM dag_states WHERE dag_id = $1`, id.String()).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, dagstate.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get dag %s: %w", dagstate.ErrCheckpointIO, id, err)
	}

	var dag domain.Dag
	if err := json.Unmarshal(data, &dag); err != nil {
		return nil, fmt.Errorf("unmarshal dag %s: %w", id, err)
	}
	return &dag, nil
}

// GetDags возвращает все DAG.
func (r *DagStateRepo) GetDags(ctx context.Context) ([]*domain.Dag, error) {
	rows, err := r.pool.Query(ctx, `SELECT dag FROM dag_states ORDER BY dag_id`)
	if err != nil {
		return nil, fmt.Errorf("%w: list dags: %w", dagstate.ErrCheckpointIO, err)
	}
	defer rows.Close()

	var dags []*domain.Dag
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("%w: scan dag: %w", dagstate.ErrCheckpointIO, err)
		}
		var dag domain.Dag
		if err := json.Unmarshal(data, &dag); err != nil {
			return nil, fmt.Errorf("unmarshal dag: %w", err)
		}
		dags = append(dags, &dag)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list dags: %w", dagstate.ErrCheckpointIO, err)
	}
	return dags, nil
}

// GetDagIDs возвращает id всех DAG без чтения тел.
func (r *DagStateRepo) GetDagIDs(ctx context.Context) ([]domain.DagID, error) {
	query := `
		SELECT flow_group, flow_name, flow_execution_id
		FROM dag_states
		ORDER BY dag_id
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: list dag ids: %w", dagstate.ErrCheckpointIO, err)
	}
	defer rows.Close()

	var ids []domain.DagID
	for rows.Next() {
		var id domain.DagID
		if err := rows.Scan(&id.FlowGroup, &id.FlowName, &id.FlowExecutionID); err != nil {
			return nil, fmt.Errorf("%w: scan dag id: %w", dagstate.ErrCheckpointIO, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list dag ids: %w", dagstate.ErrCheckpointIO, err)
	}
	return ids, nil
}
