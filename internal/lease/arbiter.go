package lease

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shaiso/Arbiter/internal/domain"
	"github.com/shaiso/Arbiter/internal/telemetry"
)

// Default configuration values.
const (
	defaultLeaseDuration = 30 * time.Second

	// completeAttempts — сколько раз CompleteAction перечитывает запись,
	// если владелец сменился между Get и Complete.
	completeAttempts = 3
)

// Arbiter решает, кто из соревнующихся инстансов запускает DagAction.
//
// Переходы машины состояний (на каждый вызов TryAcquireLease):
//
//	записи нет                  → Put успешен        → LeaseObtainedStatus
//	чужой неистёкший lease      → Put не нужен/отказ → LeasedToAnotherStatus
//	чужой истёкший lease        → как "записи нет"
//	свой неистёкший lease       → Put продлевает     → LeaseObtainedStatus
//	запись завершена            →                    → NoLongerLeasingStatus
//
// При одновременных вызовах единственный источник истины — атомарная
// условная запись хранилища. Проигравший получает event time победителя.
type Arbiter struct {
	store         ActionStore
	owner         string
	leaseDuration time.Duration
	minimumLinger time.Duration
	now           func() time.Time
	logger        *slog.Logger
	metrics       *telemetry.Metrics
}

// ArbiterConfig — конфигурация Arbiter.
type ArbiterConfig struct {
	// Store — хранилище lease (обязательно).
	Store ActionStore

	// Owner — токен этого инстанса (обязательно, уникален в кластере).
	Owner string

	// LeaseDuration — длительность lease (default: 30s).
	LeaseDuration time.Duration

	// MinimumLinger — сколько проигравший ждёт перед повторной проверкой
	// (default: LeaseDuration).
	MinimumLinger time.Duration

	// Now — источник времени (default: time.Now).
	Now func() time.Time

	Logger  *slog.Logger
	Metrics *telemetry.Metrics
}

// NewArbiter создаёт новый Arbiter.
func NewArbiter(cfg ArbiterConfig) *Arbiter {
	leaseDuration := cfg.LeaseDuration
	if leaseDuration <= 0 {
		leaseDuration = defaultLeaseDuration
	}

	linger := cfg.MinimumLinger
	if linger <= 0 {
		linger = leaseDuration
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Arbiter{
		store:         cfg.Store,
		owner:         cfg.Owner,
		leaseDuration: leaseDuration,
		minimumLinger: linger,
		now:           now,
		logger:        logger,
		metrics:       cfg.Metrics,
	}
}

// Owner возвращает токен этого инстанса.
func (a *Arbiter) Owner() string {
	return a.owner
}

// LeaseDuration возвращает длительность lease.
func (a *Arbiter) LeaseDuration() time.Duration {
	return a.leaseDuration
}

// TryAcquireLease пытается взять или продлить lease для action.
//
// eventTimeMillis — время события, которое инициировало попытку
// (для reminder — сохранённый consensus event time).
// isReminder — попытка вызвана reminder'ом, а не исходным срабатыванием:
// отсутствие записи для reminder'а означает, что действие уже разрешено
// (завершено и удалено или отменено), и повторный запуск не нужен.
//
// Ошибка возвращается только при недоступности хранилища или невалидном action;
// проигрыш гонки — это статус, а не ошибка.
func (a *Arbiter) TryAcquireLease(ctx context.Context, action domain.DagAction, eventTimeMillis int64, isReminder bool) (domain.LeaseAttemptStatus, error) {
	if err := action.Validate(); err != nil {
		return nil, err
	}

	status, err := a.tryAcquire(ctx, action, eventTimeMillis, isReminder)
	if err != nil {
		a.metrics.ObserveLeaseAttempt("error")
		return nil, err
	}

	a.metrics.ObserveLeaseAttempt(domain.StatusName(status))
	a.logger.Debug("lease attempt",
		"action", action.String(),
		"event_time_millis", eventTimeMillis,
		"is_reminder", isReminder,
		"status", domain.StatusName(status),
	)
	return status, nil
}

func (a *Arbiter) tryAcquire(ctx context.Context, action domain.DagAction, eventTimeMillis int64, isReminder bool) (domain.LeaseAttemptStatus, error) {
	// 1. Читаем текущую запись. Это оптимизация: окончательное решение
	// принимает условная запись, поэтому расхождение часов хоста и хранилища
	// влияет только на то, как быстро мы узнаем о проигрыше.
	rec, found, err := a.store.Get(ctx, action)
	if err != nil {
		return nil, fmt.Errorf("get lease %s: %w", action, err)
	}

	if found {
		if rec.IsCompleted() {
			return domain.NoLongerLeasingStatus{}, nil
		}
		if rec.Owner != a.owner && !rec.IsExpired(a.now()) {
			return a.leasedToAnother(action, rec), nil
		}
	} else if isReminder {
		return domain.NoLongerLeasingStatus{}, nil
	}

	// 2. Условная запись — единственный источник истины
	outcome, err := a.store.Put(ctx, action, LeaseCandidate{
		Owner:           a.owner,
		EventTimeMillis: eventTimeMillis,
		Duration:        a.leaseDuration,
	})
	if err != nil {
		return nil, fmt.Errorf("put lease %s: %w", action, err)
	}

	if outcome.Acquired {
		return domain.LeaseObtainedStatus{
			ConsensusDagAction:   action,
			EventTimeMillis:      outcome.Record.EventTimeMillis,
			LeaseAcquisitionTime: outcome.Record.AcquiredAt,
			LeaseExpiry:          outcome.Record.ExpiresAt,
			Owner:                a.owner,
		}, nil
	}

	// 3. Проиграли гонку: принимаем event time победителя
	if outcome.Record.IsCompleted() {
		return domain.NoLongerLeasingStatus{}, nil
	}
	return a.leasedToAnother(action, outcome.Record), nil
}

func (a *Arbiter) leasedToAnother(action domain.DagAction, rec domain.LeaseRecord) domain.LeasedToAnotherStatus {
	return domain.LeasedToAnotherStatus{
		ConsensusDagAction:          action,
		EventTimeMillis:             rec.EventTimeMillis,
		MinimumLingerDurationMillis: a.minimumLinger.Milliseconds(),
	}
}

// RecordLeaseSuccess ставит терминальный маркер после успешного запуска.
// Последующие попытки по этому action получат NoLongerLeasingStatus.
func (a *Arbiter) RecordLeaseSuccess(ctx context.Context, status domain.LeaseObtainedStatus) error {
	if err := a.store.Complete(ctx, status.ConsensusDagAction, status.Owner); err != nil {
		return fmt.Errorf("complete lease %s: %w", status.ConsensusDagAction, err)
	}
	return nil
}

// CompleteAction ставит терминальный маркер на action от имени текущего
// владельца записи. Вызывается, когда результат действия подтверждён
// снаружи (DAG дошёл до терминального статуса), даже если победитель
// не успел вызвать RecordLeaseSuccess. После этого reminder'ы всех
// инстансов получают NoLongerLeasingStatus.
//
// Отсутствие записи — не ошибка: reminder без записи и так не перезапускает действие.
func (a *Arbiter) CompleteAction(ctx context.Context, action domain.DagAction) error {
	for range completeAttempts {
		rec, found, err := a.store.Get(ctx, action)
		if err != nil {
			return fmt.Errorf("get lease %s: %w", action, err)
		}
		if !found || rec.IsCompleted() {
			return nil
		}

		err = a.store.Complete(ctx, action, rec.Owner)
		if errors.Is(err, ErrNotOwner) {
			// Запись перехватили между Get и Complete
			continue
		}
		if err != nil {
			return fmt.Errorf("complete lease %s: %w", action, err)
		}
		a.logger.Debug("lease completed externally", "action", action.String(), "owner", rec.Owner)
		return nil
	}
	return fmt.Errorf("complete lease %s: %w", action, ErrNotOwner)
}

// Release удаляет запись lease (явная отмена действия).
func (a *Arbiter) Release(ctx context.Context, action domain.DagAction) error {
	if err := a.store.Delete(ctx, action); err != nil {
		return fmt.Errorf("delete lease %s: %w", action, err)
	}
	return nil
}

// PendingActions возвращает незавершённые записи для возобновления арбитража.
func (a *Arbiter) PendingActions(ctx context.Context) ([]domain.LeaseRecord, error) {
	records, err := a.store.ListPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pending leases: %w", err)
	}
	return records, nil
}

// PurgeCompleted удаляет завершённые записи старше retention.
func (a *Arbiter) PurgeCompleted(ctx context.Context, retention time.Duration) (int, error) {
	n, err := a.store.PurgeCompleted(ctx, a.now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("purge completed leases: %w", err)
	}
	return n, nil
}
