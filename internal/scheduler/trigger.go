package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/shaiso/Arbiter/internal/telemetry"
)

// Ошибки TriggerScheduler.
var (
	// ErrNoFutureFire — выражение больше никогда не сработает.
	ErrNoFutureFire = errors.New("trigger has no future fire time")

	// ErrInvalidTrigger — у триггера нет id.
	ErrInvalidTrigger = errors.New("invalid trigger")
)

// Trigger — именованный таймер с cron-расписанием и непрозрачным payload.
type Trigger struct {
	// ID — имя триггера. Повторная регистрация с тем же ID заменяет триггер.
	ID string

	// CronExpr — 6/7-польное cron-выражение.
	CronExpr string

	// Location — часовой пояс расписания (default: UTC).
	Location *time.Location

	// Payload — данные, передаваемые в callback при срабатывании.
	Payload map[string]string

	// OneShot — удалить триггер после первого срабатывания (reminder'ы).
	OneShot bool
}

// FireEvent — одно срабатывание триггера.
type FireEvent struct {
	TriggerID string

	// Payload — копия payload триггера.
	Payload map[string]string

	// ScheduledAt — номинальное время срабатывания по расписанию.
	// Одинаково на всех инстансах, в отличие от FiredAt.
	ScheduledAt time.Time

	// FiredAt — фактическое время вызова.
	FiredAt time.Time
}

// Callback вызывается при срабатывании триггера.
type Callback func(ctx context.Context, ev FireEvent) error

// TriggerInfo — снимок состояния триггера для API.
type TriggerInfo struct {
	ID         string            `json:"id"`
	CronExpr   string            `json:"cron_expr"`
	NextFireAt time.Time         `json:"next_fire_at"`
	OneShot    bool              `json:"one_shot"`
	Payload    map[string]string `json:"payload,omitempty"`
}

type triggerEntry struct {
	trigger  Trigger
	schedule cron.Schedule
	next     time.Time
}

// TriggerScheduler — таймерный сервис в памяти инстанса.
//
// Tick вызывает callback'и срабатывающих триггеров параллельно по разным id,
// но никогда не вызывает callback одного id параллельно с самим собой.
type TriggerScheduler struct {
	callback       Callback
	now            func() time.Time
	tickInterval   time.Duration
	maxConcurrency int
	logger         *slog.Logger
	metrics        *telemetry.Metrics

	mu       sync.Mutex
	entries  map[string]*triggerEntry
	inflight map[string]bool
}

// TriggerSchedulerConfig — конфигурация TriggerScheduler.
type TriggerSchedulerConfig struct {
	// Callback — обработчик срабатываний (обязательно).
	Callback Callback

	// TickInterval — период проверки в Run (default: 1s).
	TickInterval time.Duration

	// MaxConcurrency — максимум параллельных callback'ов за тик (default: 16).
	MaxConcurrency int

	// Now — источник времени (default: time.Now).
	Now func() time.Time

	Logger  *slog.Logger
	Metrics *telemetry.Metrics
}

// NewTriggerScheduler создаёт новый TriggerScheduler.
func NewTriggerScheduler(cfg TriggerSchedulerConfig) *TriggerScheduler {
	tickInterval := cfg.TickInterval
	if tickInterval <= 0 {
		tickInterval = time.Second
	}

	maxConcurrency := cfg.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = 16
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &TriggerScheduler{
		callback:       cfg.Callback,
		now:            now,
		tickInterval:   tickInterval,
		maxConcurrency: maxConcurrency,
		logger:         logger,
		metrics:        cfg.Metrics,
		entries:        make(map[string]*triggerEntry),
		inflight:       make(map[string]bool),
	}
}

// SetCallback задаёт обработчик срабатываний.
// Нужен, когда обработчик создаётся после scheduler'а (взаимная зависимость).
func (s *TriggerScheduler) SetCallback(cb Callback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callback = cb
}

// Schedule регистрирует триггер. Триггер с тем же ID заменяется,
// поэтому повторные reminder'ы для одного события дедуплицируются.
func (s *TriggerScheduler) Schedule(t Trigger) error {
	if t.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidTrigger)
	}

	schedule, err := ParseCron(t.CronExpr)
	if err != nil {
		return err
	}

	next := nextIn(schedule, t.Location, s.now())
	if next.IsZero() {
		return fmt.Errorf("%w: %s %q", ErrNoFutureFire, t.ID, t.CronExpr)
	}

	t.Payload = maps.Clone(t.Payload)

	s.mu.Lock()
	_, replaced := s.entries[t.ID]
	s.entries[t.ID] = &triggerEntry{trigger: t, schedule: schedule, next: next}
	s.mu.Unlock()

	s.logger.Debug("trigger scheduled",
		"trigger_id", t.ID,
		"cron", t.CronExpr,
		"next_fire_at", next,
		"replaced", replaced,
	)
	return nil
}

// Unschedule удаляет триггер. Возвращает false, если триггера не было.
func (s *TriggerScheduler) Unschedule(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.entries[id]
	delete(s.entries, id)
	return ok
}

// Has возвращает true, если триггер зарегистрирован.
func (s *TriggerScheduler) Has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.entries[id]
	return ok
}

// Triggers возвращает снимок всех триггеров, отсортированный по id.
func (s *TriggerScheduler) Triggers() []TriggerInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]TriggerInfo, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, TriggerInfo{
			ID:         e.trigger.ID,
			CronExpr:   e.trigger.CronExpr,
			NextFireAt: e.next,
			OneShot:    e.trigger.OneShot,
			Payload:    maps.Clone(e.trigger.Payload),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Tick вызывает callback для всех триггеров с next <= now и ждёт их завершения.
//
// 1. Под мьютексом собирает срабатывающие триггеры и сдвигает их расписание
// 2. Пропущенные срабатывания не догоняются: следующее считается от now
// 3. Callback'и выполняются параллельно (не больше MaxConcurrency)
//
// Ошибки callback'ов не останавливают остальные и возвращаются объединёнными.
func (s *TriggerScheduler) Tick(ctx context.Context, now time.Time) error {
	events, callback := s.collectDue(now)
	if len(events) == 0 {
		return nil
	}
	if callback == nil {
		s.release(events)
		return fmt.Errorf("%w: no callback configured", ErrInvalidTrigger)
	}

	var (
		errMu sync.Mutex
		errs  []error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.maxConcurrency)

	for _, ev := range events {
		g.Go(func() error {
			defer s.release([]FireEvent{ev})

			start := time.Now()
			err := callback(gctx, ev)
			s.metrics.ObserveTriggerFire(err, time.Since(start))

			if err != nil {
				s.logger.Error("trigger callback failed",
					"trigger_id", ev.TriggerID,
					"scheduled_at", ev.ScheduledAt,
					"error", err,
				)
				errMu.Lock()
				errs = append(errs, fmt.Errorf("trigger %s: %w", ev.TriggerID, err))
				errMu.Unlock()
			}
			// Ошибка одного триггера не отменяет остальные
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}

func (s *TriggerScheduler) collectDue(now time.Time) ([]FireEvent, Callback) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var events []FireEvent
	for id, e := range s.entries {
		if s.inflight[id] || e.next.After(now) {
			continue
		}

		events = append(events, FireEvent{
			TriggerID:   id,
			Payload:     maps.Clone(e.trigger.Payload),
			ScheduledAt: e.next,
			FiredAt:     now,
		})
		s.inflight[id] = true

		if e.trigger.OneShot {
			delete(s.entries, id)
			continue
		}

		e.next = nextIn(e.schedule, e.trigger.Location, now)
		if e.next.IsZero() {
			delete(s.entries, id)
		}
	}

	sort.Slice(events, func(i, j int) bool { return events[i].TriggerID < events[j].TriggerID })
	return events, s.callback
}

func (s *TriggerScheduler) release(events []FireEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range events {
		delete(s.inflight, ev.TriggerID)
	}
}

// Run вызывает Tick каждые TickInterval до отмены ctx.
func (s *TriggerScheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	s.logger.Info("trigger scheduler started", "tick_interval", s.tickInterval)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("trigger scheduler stopped")
			return nil
		case <-ticker.C:
			if err := s.Tick(ctx, s.now()); err != nil {
				s.logger.Warn("trigger tick completed with errors", "error", err)
			}
		}
	}
}
