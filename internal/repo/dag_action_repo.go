package repo

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Arbiter/internal/domain"
	"github.com/shaiso/Arbiter/internal/lease"
)

const dagActionColumns = `
	flow_group, flow_name, flow_execution_id, job_name, action_type,
	owner, event_time_millis, acquired_at, expires_at, completed_at`

// putAttempts — сколько раз Put повторяет пару upsert/select,
// если запись исчезла между ними (конкурентный Delete).
const putAttempts = 3

// DagActionRepo — lease.ActionStore поверх Postgres.
//
// Условная запись выполняется одним INSERT ... ON CONFLICT DO UPDATE ... WHERE:
// атомарность даёт Postgres, а время берётся из часов БД (now()),
// поэтому расхождение часов инстансов не влияет на истечение lease.
type DagActionRepo struct {
	pool *pgxpool.Pool
}

// NewDagActionRepo создаёт новый DagActionRepo.
func NewDagActionRepo(pool *pgxpool.Pool) *DagActionRepo {
	return &DagActionRepo{pool: pool}
}

var _ lease.ActionStore = (*DagActionRepo)(nil)

// Put выполняет условную запись.
//
// Продление своим владельцем сохраняет event time и время взятия,
// завершённые записи не перезаписываются.
func (r *DagActionRepo) Put(ctx context.Context, action domain.DagAction, candidate lease.LeaseCandidate) (lease.PutOutcome, error) {
	query := `
		INSERT INTO dag_actions AS a (
			action_key, flow_group, flow_name, flow_execution_id, job_name, action_type,
			owner, event_time_millis, acquired_at, expires_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now() + make_interval(secs => $9))
		ON CONFLICT (action_key) DO UPDATE SET
			event_time_millis = CASE WHEN a.owner = EXCLUDED.owner AND a.expires_at > now()
				THEN a.event_time_millis ELSE EXCLUDED.event_time_millis END,
			acquired_at = CASE WHEN a.owner = EXCLUDED.owner AND a.expires_at > now()
				THEN a.acquired_at ELSE now() END,
			owner = EXCLUDED.owner,
			expires_at = EXCLUDED.expires_at
		WHERE a.completed_at IS NULL
		  AND (a.expires_at <= now() OR a.owner = EXCLUDED.owner)
		RETURNING ` + dagActionColumns

	for attempt := 0; attempt < putAttempts; attempt++ {
		rec, err := scanLeaseRecord(r.pool.QueryRow(ctx, query,
			action.Key(),
			action.FlowGroup,
			action.FlowName,
			action.FlowExecutionID,
			action.JobName,
			string(action.ActionType),
			candidate.Owner,
			candidate.EventTimeMillis,
			candidate.Duration.Seconds(),
		))
		if err == nil {
			return lease.PutOutcome{Acquired: true, Record: rec}, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return lease.PutOutcome{}, &lease.StoreError{Op: "postgres put", Err: err}
		}

		// WHERE не прошёл — запись держит другой владелец или она завершена
		current, found, err := r.Get(ctx, action)
		if err != nil {
			return lease.PutOutcome{}, err
		}
		if found {
			return lease.PutOutcome{Record: current}, nil
		}
	}

	return lease.PutOutcome{}, &lease.StoreError{Op: "postgres put", Err: errors.New("record churned between upsert and read")}
}

// Get возвращает текущую запись.
func (r *DagActionRepo) Get(ctx context.Context, action domain.DagAction) (domain.LeaseRecord, bool, error) {
	query := `SELECT ` + dagActionColumns + ` FROM dag_actions WHERE action_key = $1`

	rec, err := scanLeaseRecord(r.pool.QueryRow(ctx, query, action.Key()))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.LeaseRecord{}, false, nil
	}
	if err != nil {
		return domain.LeaseRecord{}, false, &lease.StoreError{Op: "postgres get", Err: err}
	}
	return rec, true, nil
}

// Delete удаляет запись.
func (r *DagActionRepo) Delete(ctx context.Context, action domain.DagAction) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM dag_actions WHERE action_key = $1`, action.Key()); err != nil {
		return &lease.StoreError{Op: "postgres delete", Err: err}
	}
	return nil
}

// Complete ставит терминальный маркер, если lease принадлежит owner.
func (r *DagActionRepo) Complete(ctx context.Context, action domain.DagAction, owner string) error {
	query := `
		UPDATE dag_actions
		SET completed_at = COALESCE(completed_at, now())
		WHERE action_key = $1 AND owner = $2
	`
	result, err := r.pool.Exec(ctx, query, action.Key(), owner)
	if err != nil {
		return &lease.StoreError{Op: "postgres complete", Err: err}
	}
	if result.RowsAffected() == 0 {
		return lease.ErrNotOwner
	}
	return nil
}

// ListPending возвращает незавершённые записи, отсортированные по времени события.
func (r *DagActionRepo) ListPending(ctx context.Context) ([]domain.LeaseRecord, error) {
	query := `
		SELECT ` + dagActionColumns + `
		FROM dag_actions
		WHERE completed_at IS NULL
		ORDER BY event_time_millis, action_key
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, &lease.StoreError{Op: "postgres list pending", Err: err}
	}
	defer rows.Close()

	var records []domain.LeaseRecord
	for rows.Next() {
		rec, err := scanLeaseRecord(rows)
		if err != nil {
			return nil, &lease.StoreError{Op: "postgres scan", Err: err}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &lease.StoreError{Op: "postgres list pending", Err: err}
	}
	return records, nil
}

// PurgeCompleted удаляет завершённые записи старше olderThan.
func (r *DagActionRepo) PurgeCompleted(ctx context.Context, olderThan time.Time) (int, error) {
	query := `DELETE FROM dag_actions WHERE completed_at IS NOT NULL AND completed_at < $1`
	result, err := r.pool.Exec(ctx, query, olderThan)
	if err != nil {
		return 0, &lease.StoreError{Op: "postgres purge", Err: err}
	}
	return int(result.RowsAffected()), nil
}

func scanLeaseRecord(row pgx.Row) (domain.LeaseRecord, error) {
	var (
		rec        domain.LeaseRecord
		actionType string
	)
	err := row.Scan(
		&rec.Action.FlowGroup,
		&rec.Action.FlowName,
		&rec.Action.FlowExecutionID,
		&rec.Action.JobName,
		&actionType,
		&rec.Owner,
		&rec.EventTimeMillis,
		&rec.AcquiredAt,
		&rec.ExpiresAt,
		&rec.CompletedAt,
	)
	if err != nil {
		return domain.LeaseRecord{}, err
	}
	rec.Action.ActionType = domain.DagActionType(actionType)
	rec.AcquiredAt = rec.AcquiredAt.UTC()
	rec.ExpiresAt = rec.ExpiresAt.UTC()
	if rec.CompletedAt != nil {
		t := rec.CompletedAt.UTC()
		rec.CompletedAt = &t
	}
	return rec, nil
}
