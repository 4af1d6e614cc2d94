package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/shaiso/Arbiter/internal/dagstate"
	"github.com/shaiso/Arbiter/internal/domain"
	"github.com/shaiso/Arbiter/internal/launcher"
	"github.com/shaiso/Arbiter/internal/lease"
	"github.com/shaiso/Arbiter/internal/scheduler"
)

// FlowStore — CRUD определений flow (repo.FlowRepo, repo.MemoryFlowRepo).
type FlowStore interface {
	Create(ctx context.Context, flow *domain.Flow) error
	Get(ctx context.Context, group, name string) (*domain.Flow, error)
	List(ctx context.Context) ([]domain.Flow, error)
	Update(ctx context.Context, flow *domain.Flow) error
	Delete(ctx context.Context, group, name string) error
}

// LaunchSubmitter — ручной запуск через арбитраж (реализуется *launcher.Handler).
type LaunchSubmitter interface {
	FlowPayload(flow domain.Flow) map[string]string
	Keys() launcher.PropKeys
	Submit(ctx context.Context, triggerID string, props launcher.Props, nominal time.Time) (domain.LeaseAttemptStatus, error)
}

// TriggerLister — зарегистрированные триггеры (реализуется *scheduler.TriggerScheduler).
type TriggerLister interface {
	Triggers() []scheduler.TriggerInfo
}

// FlowSyncer — пересинхронизация триггеров после изменения flows (*scheduler.Syncer).
type FlowSyncer interface {
	Sync(ctx context.Context) (scheduler.SyncResult, error)
}

// Handler — admin API с зависимостями.
type Handler struct {
	dags     dagstate.Store
	actions  lease.ActionStore
	flows    FlowStore
	launcher LaunchSubmitter
	triggers TriggerLister
	syncer   FlowSyncer
	now      func() time.Time
	logger   *slog.Logger
}

// Config — конфигурация для создания Handler.
// Отсутствующие зависимости дают 503 на соответствующих маршрутах.
type Config struct {
	Dags     dagstate.Store
	Actions  lease.ActionStore
	Flows    FlowStore
	Launcher LaunchSubmitter
	Triggers TriggerLister
	Syncer   FlowSyncer
	Now      func() time.Time
	Logger   *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{
		dags:     cfg.Dags,
		actions:  cfg.Actions,
		flows:    cfg.Flows,
		launcher: cfg.Launcher,
		triggers: cfg.Triggers,
		syncer:   cfg.Syncer,
		now:      now,
		logger:   logger,
	}
}

// resync пересинхронизирует триггеры после изменения flow.
// Ошибка только логируется: периодический Sync всё равно догонит.
func (h *Handler) resync(ctx context.Context) {
	if h.syncer == nil {
		return
	}
	if _, err := h.syncer.Sync(ctx); err != nil {
		h.logger.Warn("trigger resync after flow change failed", "error", err)
	}
}
