package domain

import "time"

// LeaseRecord — запись о lease в DagActionStore.
//
// В каждый момент времени для одного DagAction существует не более одной
// неистёкшей записи. Это обеспечивает условная запись хранилища,
// а не блокировки внутри процесса.
type LeaseRecord struct {
	// Action — действие, за которое взят lease.
	Action DagAction `json:"action"`

	// Owner — токен владельца (инстанса scheduler'а).
	Owner string `json:"owner"`

	// EventTimeMillis — время события, ради которого взят lease.
	// Все проигравшие берут это значение как consensus event time.
	EventTimeMillis int64 `json:"event_time_millis"`

	// AcquiredAt — время взятия lease.
	AcquiredAt time.Time `json:"acquired_at"`

	// ExpiresAt — время истечения lease. Истёкший lease считается отсутствующим.
	ExpiresAt time.Time `json:"expires_at"`

	// CompletedAt — время, когда действие было успешно выполнено владельцем.
	// Nil, пока действие не завершено. Завершённое действие больше не арбитрируется.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// IsExpired проверяет, истёк ли lease к моменту now.
func (r *LeaseRecord) IsExpired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// IsCompleted возвращает true, если на записи стоит терминальный маркер.
func (r *LeaseRecord) IsCompleted() bool {
	return r.CompletedAt != nil
}

// LeaseAttemptStatus — результат одной попытки арбитража.
//
// Закрытый tagged union: реализации только в этом пакете.
// Вызывающий код обязан обработать все три варианта через type switch.
type LeaseAttemptStatus interface {
	isLeaseAttemptStatus()
}

// LeaseObtainedStatus — вызывающий инстанс теперь владеет lease.
type LeaseObtainedStatus struct {
	// ConsensusDagAction — действие, за которое получен lease.
	ConsensusDagAction DagAction

	// EventTimeMillis — время события, записанное в lease.
	EventTimeMillis int64

	// LeaseAcquisitionTime — время взятия lease по часам хранилища.
	LeaseAcquisitionTime time.Time

	// LeaseExpiry — до какого момента lease действителен.
	LeaseExpiry time.Time

	// Owner — токен владельца (нужен для записи маркера завершения).
	Owner string
}

// LeasedToAnotherStatus — lease держит другой инстанс.
type LeasedToAnotherStatus struct {
	// ConsensusDagAction — действие, за которое идёт соревнование.
	ConsensusDagAction DagAction

	// EventTimeMillis — время события победителя (не своё).
	EventTimeMillis int64

	// MinimumLingerDurationMillis — сколько ждать перед повторной проверкой.
	MinimumLingerDurationMillis int64
}

// NoLongerLeasingStatus — действие больше не требует арбитража
// (уже выполнено или вытеснено). Терминальный статус, retry не планируется.
type NoLongerLeasingStatus struct{}

func (LeaseObtainedStatus) isLeaseAttemptStatus()   {}
func (LeasedToAnotherStatus) isLeaseAttemptStatus() {}
func (NoLongerLeasingStatus) isLeaseAttemptStatus() {}

// MinimumLinger возвращает MinimumLingerDurationMillis как time.Duration.
func (s LeasedToAnotherStatus) MinimumLinger() time.Duration {
	return time.Duration(s.MinimumLingerDurationMillis) * time.Millisecond
}

// StatusName возвращает короткое имя варианта статуса (для логов и метрик).
func StatusName(s LeaseAttemptStatus) string {
	switch s.(type) {
	case LeaseObtainedStatus, *LeaseObtainedStatus:
		return "obtained"
	case LeasedToAnotherStatus, *LeasedToAnotherStatus:
		return "leased_to_another"
	case NoLongerLeasingStatus, *NoLongerLeasingStatus:
		return "no_longer_leasing"
	default:
		return "unknown"
	}
}
