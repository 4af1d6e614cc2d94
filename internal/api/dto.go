package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Arbiter/internal/domain"
)

// Flow DTOs

// FlowRequest — запрос на создание или обновление flow.
type FlowRequest struct {
	Group    string            `json:"group"`
	Name     string            `json:"name"`
	CronExpr string            `json:"cron_expr,omitempty"`
	Timezone string            `json:"timezone,omitempty"`
	Enabled  *bool             `json:"enabled,omitempty"`
	Jobs     []domain.JobSpec  `json:"jobs"`
	Props    map[string]string `json:"props,omitempty"`
}

// FlowResponse — ответ с flow.
type FlowResponse struct {
	ID        uuid.UUID         `json:"id"`
	Group     string            `json:"group"`
	Name      string            `json:"name"`
	CronExpr  string            `json:"cron_expr,omitempty"`
	Timezone  string            `json:"timezone"`
	Enabled   bool              `json:"enabled"`
	Jobs      []domain.JobSpec  `json:"jobs"`
	Props     map[string]string `json:"props,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// FlowFromDomain конвертирует domain.Flow в FlowResponse.
func FlowFromDomain(f domain.Flow) FlowResponse {
	return FlowResponse{
		ID:        f.ID,
		Group:     f.Group,
		Name:      f.Name,
		CronExpr:  f.CronExpr,
		Timezone:  f.Timezone,
		Enabled:   f.Enabled,
		Jobs:      f.Jobs,
		Props:     f.Props,
		CreatedAt: f.CreatedAt,
		UpdatedAt: f.UpdatedAt,
	}
}

// LaunchRequest — ручной запуск flow.
type LaunchRequest struct {
	// ExecutionID — id выполнения. Пустой — текущее время в миллисекундах.
	ExecutionID *int64            `json:"execution_id,omitempty"`
	Props       map[string]string `json:"props,omitempty"`
}

// LaunchResponse — исход арбитража ручного запуска.
type LaunchResponse struct {
	Status          string `json:"status"`
	DagID           string `json:"dag_id"`
	EventTimeMillis int64  `json:"event_time_millis,omitempty"`
	Owner           string `json:"owner,omitempty"`
	LingerMillis    int64  `json:"linger_millis,omitempty"`
}

// LaunchFromStatus описывает исход арбитража.
func LaunchFromStatus(id domain.DagID, status domain.LeaseAttemptStatus) LaunchResponse {
	resp := LaunchResponse{
		Status: domain.StatusName(status),
		DagID:  id.String(),
	}
	switch s := status.(type) {
	case domain.LeaseObtainedStatus:
		resp.EventTimeMillis = s.EventTimeMillis
		resp.Owner = s.Owner
	case domain.LeasedToAnotherStatus:
		resp.EventTimeMillis = s.EventTimeMillis
		resp.LingerMillis = s.MinimumLingerDurationMillis
	}
	return resp
}

// DagAction DTOs

// ActionResponse — запись lease.
type ActionResponse struct {
	FlowGroup       string     `json:"flow_group"`
	FlowName        string     `json:"flow_name"`
	FlowExecutionID int64      `json:"flow_execution_id"`
	JobName         string     `json:"job_name,omitempty"`
	ActionType      string     `json:"action_type"`
	Owner           string     `json:"owner"`
	EventTimeMillis int64      `json:"event_time_millis"`
	AcquiredAt      time.Time  `json:"acquired_at"`
	ExpiresAt       time.Time  `json:"expires_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	Expired         bool       `json:"expired"`
}

// ActionFromRecord конвертирует domain.LeaseRecord в ActionResponse.
func ActionFromRecord(rec domain.LeaseRecord, now time.Time) ActionResponse {
	return ActionResponse{
		FlowGroup:       rec.Action.FlowGroup,
		FlowName:        rec.Action.FlowName,
		FlowExecutionID: rec.Action.FlowExecutionID,
		JobName:         rec.Action.JobName,
		ActionType:      string(rec.Action.ActionType),
		Owner:           rec.Owner,
		EventTimeMillis: rec.EventTimeMillis,
		AcquiredAt:      rec.AcquiredAt,
		ExpiresAt:       rec.ExpiresAt,
		CompletedAt:     rec.CompletedAt,
		Expired:         !rec.IsCompleted() && rec.IsExpired(now),
	}
}

// DAG DTOs

// DagSummary — краткое описание DAG для списка.
type DagSummary struct {
	ID        string           `json:"id"`
	Status    domain.DagStatus `json:"status"`
	Owner     string           `json:"owner,omitempty"`
	Jobs      int              `json:"jobs"`
	Ready     []string         `json:"ready,omitempty"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Cron DTOs

// CronNextResponse — ближайшие срабатывания cron-выражения.
type CronNextResponse struct {
	Expr     string      `json:"expr"`
	Timezone string      `json:"timezone"`
	Next     []time.Time `json:"next"`
}
