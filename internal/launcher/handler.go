package launcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/shaiso/Arbiter/internal/domain"
	"github.com/shaiso/Arbiter/internal/scheduler"
	"github.com/shaiso/Arbiter/internal/telemetry"
)

const reminderSuffixPrefix = "reminder_for_"

// LeaseArbiter — арбитр lease (реализуется *lease.Arbiter).
type LeaseArbiter interface {
	TryAcquireLease(ctx context.Context, action domain.DagAction, eventTimeMillis int64, isReminder bool) (domain.LeaseAttemptStatus, error)
	RecordLeaseSuccess(ctx context.Context, status domain.LeaseObtainedStatus) error
	PendingActions(ctx context.Context) ([]domain.LeaseRecord, error)
}

// TriggerScheduler — куда ставятся reminder-триггеры (реализуется *scheduler.TriggerScheduler).
type TriggerScheduler interface {
	Schedule(t scheduler.Trigger) error
}

// Launcher — передача запуска execution engine (реализуется *orchestrator.Orchestrator).
type Launcher interface {
	Launch(ctx context.Context, status domain.LeaseObtainedStatus, props map[string]string) error
}

// Handler — FlowLaunchHandler: доводит каждое срабатывание до одного из исходов арбитража.
type Handler struct {
	arbiter          LeaseArbiter
	triggers         TriggerScheduler
	launcher         Launcher
	keys             PropKeys
	backOff          time.Duration
	launchRetryDelay time.Duration
	now              func() time.Time
	jitter           func(n int64) int64
	logger           *slog.Logger
	metrics          *telemetry.Metrics
}

// HandlerConfig — конфигурация Handler.
type HandlerConfig struct {
	Arbiter  LeaseArbiter
	Triggers TriggerScheduler
	Launcher Launcher

	// Keys — имена ключей в payload (пустые поля → DefaultPropKeys).
	Keys PropKeys

	// BackOff — верхняя граница случайной добавки к linger (default: 1s).
	BackOff time.Duration

	// LaunchRetryDelay — через сколько повторить запуск, если передача
	// orchestrator'у не удалась после взятия lease (default: 10s).
	LaunchRetryDelay time.Duration

	// Now — источник времени (default: time.Now).
	Now func() time.Time

	// Jitter возвращает равномерное значение из [0, n) (default: math/rand/v2).
	Jitter func(n int64) int64

	Logger  *slog.Logger
	Metrics *telemetry.Metrics
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	backOff := cfg.BackOff
	if backOff <= 0 {
		backOff = time.Second
	}

	retryDelay := cfg.LaunchRetryDelay
	if retryDelay <= 0 {
		retryDelay = 10 * time.Second
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	jitter := cfg.Jitter
	if jitter == nil {
		jitter = rand.Int64N
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{
		arbiter:          cfg.Arbiter,
		triggers:         cfg.Triggers,
		launcher:         cfg.Launcher,
		keys:             cfg.Keys.WithDefaults(),
		backOff:          backOff,
		launchRetryDelay: retryDelay,
		now:              now,
		jitter:           jitter,
		logger:           logger,
		metrics:          cfg.Metrics,
	}
}

// Keys возвращает используемые ключи payload.
func (h *Handler) Keys() PropKeys {
	return h.keys
}

// CreateSuffixForJobTrigger возвращает "reminder_for_" + eventTimeMillis.
// По суффиксу повторные reminder'ы для одного consensus-события дедуплицируются.
func CreateSuffixForJobTrigger(status domain.LeasedToAnotherStatus) string {
	return reminderSuffixPrefix + strconv.FormatInt(status.EventTimeMillis, 10)
}

// ReminderTriggerID возвращает id reminder-триггера: "<action key>_reminder_for_<event>".
// Ключ действия включает id выполнения, job и тип, поэтому reminder'ы
// разных действий одного flow не заменяют друг друга.
func ReminderTriggerID(status domain.LeasedToAnotherStatus) string {
	return status.ConsensusDagAction.Key() + "_" + CreateSuffixForJobTrigger(status)
}

// UpdatePropsInJobDataMap возвращает новый payload для reminder'а.
//
// Старый bag не изменяется. В новом всегда заполнены:
//   - расписание: одноразовый cron через linger + U[0, backOff)
//   - ожидаемое время срабатывания reminder'а (мс)
//   - preserved consensus event time = status.EventTimeMillis
//   - флаг reminder'а = true
//
// Время срабатывания округляется вверх до секунды, поэтому задержка
// никогда не меньше linger.
func (h *Handler) UpdatePropsInJobDataMap(old Props, status domain.LeasedToAnotherStatus, backOff time.Duration) Props {
	fireAt := h.reminderFireTime(status, backOff)

	props := old.Clone()
	props[h.keys.Schedule] = cronAt(fireAt)
	props[h.keys.ExpectedReminderTime] = strconv.FormatInt(fireAt.UnixMilli(), 10)
	props[h.keys.PreservedConsensusEventTime] = strconv.FormatInt(status.EventTimeMillis, 10)
	props[h.keys.IsReminder] = strconv.FormatBool(true)
	return props
}

func (h *Handler) reminderFireTime(status domain.LeasedToAnotherStatus, backOff time.Duration) time.Time {
	delay := status.MinimumLinger()
	if ms := backOff.Milliseconds(); ms > 0 {
		delay += time.Duration(h.jitter(ms)) * time.Millisecond
	}
	return fireTimeAfter(h.now(), delay)
}

// FlowPayload строит payload recurring-триггера flow.
func (h *Handler) FlowPayload(flow domain.Flow) map[string]string {
	props := Props(flow.Props).Clone()
	props[h.keys.FlowGroup] = flow.Group
	props[h.keys.FlowName] = flow.Name
	props[h.keys.ActionType] = string(domain.DagActionLaunch)
	props[h.keys.Schedule] = flow.CronExpr
	return props
}

// HandleTrigger — callback TriggerScheduler'а.
func (h *Handler) HandleTrigger(ctx context.Context, ev scheduler.FireEvent) error {
	_, err := h.Submit(ctx, ev.TriggerID, Props(ev.Payload), ev.ScheduledAt)
	return err
}

// Submit выполняет одну попытку арбитража по payload.
//
// nominal — номинальное время срабатывания: из него выводится id выполнения
// для исходного срабатывания, поэтому все инстансы соревнуются за один и тот же action.
//
// Возвращает статус арбитража. Ошибка — только недоступность хранилища,
// неисправимый payload или неудачный запуск (после которого reminder уже поставлен).
func (h *Handler) Submit(ctx context.Context, triggerID string, props Props, nominal time.Time) (domain.LeaseAttemptStatus, error) {
	logger := telemetry.WithTriggerID(h.logger, triggerID)

	req, err := ParseTriggerProps(props, h.keys, nominal.UnixMilli())
	if err != nil {
		h.metrics.ObserveMalformedPayload()
		logger.Error("dropping trigger with unrepairable payload", "error", err)
		return nil, err
	}
	if len(req.Repaired) > 0 {
		h.metrics.ObserveMalformedPayload()
		logger.Warn("repaired malformed reminder payload", "keys", req.Repaired)
	}

	return h.arbitrate(ctx, req, props, logger)
}

func (h *Handler) arbitrate(ctx context.Context, req TriggerRequest, props Props, logger *slog.Logger) (domain.LeaseAttemptStatus, error) {
	a := req.Action
	logger = telemetry.WithDagAction(logger, a.FlowGroup, a.FlowName, a.FlowExecutionID, string(a.ActionType))

	if req.IsReminder && !req.ExpectedReminderTime.IsZero() {
		if late := h.now().Sub(req.ExpectedReminderTime); late > time.Minute {
			logger.Warn("reminder fired late", "late", late)
		}
	}

	// 1. Арбитраж
	status, err := h.arbiter.TryAcquireLease(ctx, a, req.EventTimeMillis, req.IsReminder)
	if err != nil {
		logger.Error("lease attempt failed", "error", err)
		return nil, fmt.Errorf("try acquire lease %s: %w", a, err)
	}

	// 2. Действие по исходу
	switch s := status.(type) {
	case domain.LeaseObtainedStatus:
		return s, h.launch(ctx, s, props, logger)

	case domain.LeasedToAnotherStatus:
		if err := h.scheduleReminder(props, s, logger); err != nil {
			return s, err
		}
		return s, nil

	case domain.NoLongerLeasingStatus:
		logger.Debug("dag action no longer needs arbitration")
		return s, nil

	default:
		return nil, fmt.Errorf("unexpected lease attempt status %T", status)
	}
}

// launch передаёт запуск orchestrator'у и ставит терминальный маркер.
// При неудаче ставится reminder на себя: намерение запуска не теряется.
func (h *Handler) launch(ctx context.Context, s domain.LeaseObtainedStatus, props Props, logger *slog.Logger) error {
	launchProps := props.Clone()
	h.keys.SetAction(launchProps, s.ConsensusDagAction)

	if err := h.launcher.Launch(ctx, s, launchProps); err != nil {
		h.metrics.ObserveLaunch("failed")
		logger.Error("launch hand-off failed, scheduling retry", "error", err)

		retry := domain.LeasedToAnotherStatus{
			ConsensusDagAction:          s.ConsensusDagAction,
			EventTimeMillis:             s.EventTimeMillis,
			MinimumLingerDurationMillis: h.launchRetryDelay.Milliseconds(),
		}
		if rerr := h.scheduleReminder(props, retry, logger); rerr != nil {
			return errors.Join(fmt.Errorf("launch %s: %w", s.ConsensusDagAction, err), rerr)
		}
		return fmt.Errorf("launch %s: %w", s.ConsensusDagAction, err)
	}

	h.metrics.ObserveLaunch("launched")

	if err := h.arbiter.RecordLeaseSuccess(ctx, s); err != nil {
		// DAG уже запущен: повторная попытка другого инстанса упрётся
		// в идемпотентность Launch по DagID
		logger.Error("failed to record lease success", "error", err)
		return err
	}

	logger.Info("flow launched",
		"event_time_millis", s.EventTimeMillis,
		"lease_expiry", s.LeaseExpiry,
	)
	return nil
}

func (h *Handler) scheduleReminder(props Props, s domain.LeasedToAnotherStatus, logger *slog.Logger) error {
	newProps := h.UpdatePropsInJobDataMap(props, s, h.backOff)
	h.keys.SetAction(newProps, s.ConsensusDagAction)

	triggerID := ReminderTriggerID(s)
	err := h.triggers.Schedule(scheduler.Trigger{
		ID:       triggerID,
		CronExpr: newProps[h.keys.Schedule],
		Location: time.UTC,
		Payload:  newProps,
		OneShot:  true,
	})
	if err != nil {
		logger.Error("failed to schedule reminder", "trigger_id", triggerID, "error", err)
		return fmt.Errorf("schedule reminder %s: %w", triggerID, err)
	}

	expected, _ := strconv.ParseInt(newProps[h.keys.ExpectedReminderTime], 10, 64)
	delay := time.UnixMilli(expected).Sub(h.now())
	h.metrics.ObserveReminder(delay)

	logger.Info("lease held by another instance, reminder scheduled",
		"trigger_id", triggerID,
		"consensus_event_time_millis", s.EventTimeMillis,
		"delay", delay,
	)
	return nil
}

// Resume возобновляет арбитраж незавершённых action после рестарта.
// Каждая запись обрабатывается как reminder со своим consensus event time.
func (h *Handler) Resume(ctx context.Context) (int, error) {
	records, err := h.arbiter.PendingActions(ctx)
	if err != nil {
		return 0, err
	}

	var errs []error
	for _, rec := range records {
		props := Props{}
		h.keys.SetAction(props, rec.Action)
		props[h.keys.PreservedConsensusEventTime] = strconv.FormatInt(rec.EventTimeMillis, 10)
		props[h.keys.IsReminder] = strconv.FormatBool(true)

		req := TriggerRequest{
			Action:          rec.Action,
			EventTimeMillis: rec.EventTimeMillis,
			IsReminder:      true,
		}
		if _, err := h.arbitrate(ctx, req, props, h.logger); err != nil {
			errs = append(errs, err)
		}
	}

	if len(records) > 0 {
		h.logger.Info("resumed pending dag actions", "count", len(records), "failed", len(errs))
	}
	return len(records), errors.Join(errs...)
}
