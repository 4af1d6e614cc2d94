package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"strings"
	"sync"

	"github.com/shaiso/Arbiter/internal/domain"
)

// FlowLister — источник определений flow.
type FlowLister interface {
	ListEnabled(ctx context.Context) ([]domain.Flow, error)
}

// PayloadFunc строит payload триггера для flow.
type PayloadFunc func(flow domain.Flow) map[string]string

// Syncer — синхронизирует recurring-триггеры с определениями flow.
//
// Каждый инстанс держит у себя триггер на каждый включённый flow:
// все инстансы срабатывают одновременно, а кто запускает — решает arbiter.
type Syncer struct {
	flows    FlowLister
	triggers *TriggerScheduler
	payload  PayloadFunc
	logger   *slog.Logger

	// mu сериализует Sync: его вызывают периодический цикл и admin API.
	mu sync.Mutex

	// registered — триггеры, созданные Syncer'ом: id → сигнатура определения.
	// Reminder-триггеры сюда не попадают и Syncer их не трогает.
	registered map[string]string
}

// SyncerConfig — конфигурация Syncer.
type SyncerConfig struct {
	Flows    FlowLister
	Triggers *TriggerScheduler
	Payload  PayloadFunc
	Logger   *slog.Logger
}

// NewSyncer создаёт новый Syncer.
func NewSyncer(cfg SyncerConfig) *Syncer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	payload := cfg.Payload
	if payload == nil {
		payload = func(flow domain.Flow) map[string]string { return maps.Clone(flow.Props) }
	}

	return &Syncer{
		flows:      cfg.Flows,
		triggers:   cfg.Triggers,
		payload:    payload,
		logger:     logger,
		registered: make(map[string]string),
	}
}

// SyncResult — итог одной синхронизации.
type SyncResult struct {
	Scheduled int
	Unchanged int
	Removed   int
	Invalid   int
}

// Sync выполняет одну синхронизацию.
//
// 1. Загружает включённые flows
// 2. Для flow с расписанием (пере)регистрирует триггер, если определение изменилось
// 3. Удаляет триггеры flows, которые выключены или удалены
//
// Ошибка одного flow не блокирует обработку остальных.
// Конкурентные вызовы выполняются по очереди.
func (s *Syncer) Sync(ctx context.Context) (SyncResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res SyncResult

	flows, err := s.flows.ListEnabled(ctx)
	if err != nil {
		return res, fmt.Errorf("list enabled flows: %w", err)
	}

	seen := make(map[string]bool, len(flows))
	for i := range flows {
		flow := flows[i]
		if !flow.IsScheduled() {
			continue
		}

		id := flow.Key()
		seen[id] = true

		sig := flowSignature(flow)
		if s.registered[id] == sig && s.triggers.Has(id) {
			res.Unchanged++
			continue
		}

		err := s.triggers.Schedule(Trigger{
			ID:       id,
			CronExpr: flow.CronExpr,
			Location: flow.Location(),
			Payload:  s.payload(flow),
		})
		if err != nil {
			s.logger.Error("failed to schedule flow trigger",
				"flow", id,
				"cron", flow.CronExpr,
				"error", err,
			)
			res.Invalid++
			delete(s.registered, id)
			continue
		}

		s.registered[id] = sig
		res.Scheduled++
	}

	for id := range s.registered {
		if seen[id] {
			continue
		}
		s.triggers.Unschedule(id)
		delete(s.registered, id)
		res.Removed++
		s.logger.Info("flow trigger removed", "flow", id)
	}

	if res.Scheduled > 0 || res.Removed > 0 || res.Invalid > 0 {
		s.logger.Info("flow sync completed",
			"scheduled", res.Scheduled,
			"unchanged", res.Unchanged,
			"removed", res.Removed,
			"invalid", res.Invalid,
		)
	}
	return res, nil
}

// flowSignature — всё, от чего зависит триггер flow.
func flowSignature(flow domain.Flow) string {
	var b strings.Builder
	b.WriteString(flow.CronExpr)
	b.WriteByte('|')
	b.WriteString(flow.Timezone)
	b.WriteByte('|')
	b.WriteString(flow.UpdatedAt.UTC().String())
	return b.String()
}
