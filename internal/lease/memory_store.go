package lease

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shaiso/Arbiter/internal/domain"
)

// MemoryStore — ActionStore в памяти процесса.
//
// Атомарность Put обеспечивает мьютекс, поэтому MemoryStore подходит
// только для одного процесса (локальный режим, тесты). Для кластера
// используйте реализацию поверх Postgres или Redis.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]domain.LeaseRecord
	now     func() time.Time

	// failWith — ошибка, которую возвращают все операции (для тестов).
	failWith error
}

// NewMemoryStore создаёт MemoryStore. now == nil — используется time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		records: make(map[string]domain.LeaseRecord),
		now:     now,
	}
}

// SetFailure заставляет все операции возвращать ErrStoreUnavailable с cause.
// nil снимает отказ.
func (s *MemoryStore) SetFailure(cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = cause
}

func (s *MemoryStore) checkFailure() error {
	if s.failWith != nil {
		return &StoreError{Op: "memory", Err: s.failWith}
	}
	return nil
}

// Put выполняет условную запись.
func (s *MemoryStore) Put(ctx context.Context, action domain.DagAction, candidate LeaseCandidate) (PutOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkFailure(); err != nil {
		return PutOutcome{}, err
	}

	now := s.now()
	key := action.Key()
	current, exists := s.records[key]

	if exists {
		if current.IsCompleted() {
			return PutOutcome{Record: current}, nil
		}
		if !current.IsExpired(now) {
			if current.Owner != candidate.Owner {
				return PutOutcome{Record: current}, nil
			}
			// Продление своим владельцем: event time и время взятия не меняются
			current.ExpiresAt = now.Add(candidate.Duration)
			s.records[key] = current
			return PutOutcome{Acquired: true, Record: current}, nil
		}
	}

	rec := domain.LeaseRecord{
		Action:          action,
		Owner:           candidate.Owner,
		EventTimeMillis: candidate.EventTimeMillis,
		AcquiredAt:      now,
		ExpiresAt:       now.Add(candidate.Duration),
	}
	s.records[key] = rec
	return PutOutcome{Acquired: true, Record: rec}, nil
}

// Get возвращает текущую запись.
func (s *MemoryStore) Get(ctx context.Context, action domain.DagAction) (domain.LeaseRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkFailure(); err != nil {
		return domain.LeaseRecord{}, false, err
	}

	rec, ok := s.records[action.Key()]
	return rec, ok, nil
}

// Delete удаляет запись.
func (s *MemoryStore) Delete(ctx context.Context, action domain.DagAction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkFailure(); err != nil {
		return err
	}

	delete(s.records, action.Key())
	return nil
}

// Complete ставит терминальный маркер.
func (s *MemoryStore) Complete(ctx context.Context, action domain.DagAction, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkFailure(); err != nil {
		return err
	}

	rec, ok := s.records[action.Key()]
	if !ok || rec.Owner != owner {
		return ErrNotOwner
	}
	if rec.IsCompleted() {
		return nil
	}

	now := s.now()
	rec.CompletedAt = &now
	s.records[action.Key()] = rec
	return nil
}

// ListPending возвращает незавершённые записи, отсортированные по времени события.
func (s *MemoryStore) ListPending(ctx context.Context) ([]domain.LeaseRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkFailure(); err != nil {
		return nil, err
	}

	var pending []domain.LeaseRecord
	for _, rec := range s.records {
		if !rec.IsCompleted() {
			pending = append(pending, rec)
		}
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].EventTimeMillis < pending[j].EventTimeMillis
	})
	return pending, nil
}

// PurgeCompleted удаляет завершённые записи старше olderThan.
func (s *MemoryStore) PurgeCompleted(ctx context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkFailure(); err != nil {
		return 0, err
	}

	var n int
	for key, rec := range s.records {
		if rec.IsCompleted() && rec.CompletedAt.Before(olderThan) {
			delete(s.records, key)
			n++
		}
	}
	return n, nil
}
