package lease

import (
	"context"
	"time"

	"github.com/shaiso/Arbiter/internal/domain"
)

// LeaseCandidate — параметры условной записи lease.
type LeaseCandidate struct {
	// Owner — токен претендента.
	Owner string

	// EventTimeMillis — время события, ради которого берётся lease.
	EventTimeMillis int64

	// Duration — длительность lease от момента записи.
	Duration time.Duration
}

// PutOutcome — результат условной записи.
type PutOutcome struct {
	// Acquired — true, если запись прошла (lease взят или продлён).
	Acquired bool

	// Record — запись после операции: своя при Acquired,
	// иначе текущая запись победителя.
	Record domain.LeaseRecord
}

// ActionStore — долговременный реестр lease по идентичности DagAction.
//
// Все реализации обязаны выполнять Put атомарно относительно других
// инстансов: из двух одновременных Put на один DagAction успешен ровно один.
// Ошибки хранилища оборачивают ErrStoreUnavailable.
type ActionStore interface {
	// Put выполняет условную запись. Успешна, если записи нет, она истекла
	// или принадлежит тому же владельцу (продление). Каждый успешный Put
	// сдвигает время истечения. Завершённые записи не перезаписываются.
	Put(ctx context.Context, action domain.DagAction, candidate LeaseCandidate) (PutOutcome, error)

	// Get возвращает текущую запись. found=false, если записи нет.
	Get(ctx context.Context, action domain.DagAction) (domain.LeaseRecord, bool, error)

	// Delete удаляет запись. Удаление отсутствующей записи — не ошибка.
	Delete(ctx context.Context, action domain.DagAction) error

	// Complete ставит терминальный маркер, если lease всё ещё принадлежит owner.
	// Возвращает ErrNotOwner, если владелец сменился.
	Complete(ctx context.Context, action domain.DagAction, owner string) error

	// ListPending возвращает незавершённые записи (для восстановления после рестарта).
	ListPending(ctx context.Context) ([]domain.LeaseRecord, error)

	// PurgeCompleted удаляет завершённые записи старше olderThan.
	PurgeCompleted(ctx context.Context, olderThan time.Time) (int, error)
}
