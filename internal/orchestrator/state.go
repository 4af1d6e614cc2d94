package orchestrator

import (
	"sync"

	"github.com/shaiso/Arbiter/internal/domain"
)

// dagLocks сериализует чтение-изменение-запись checkpoint одного DAG.
// Разные DAG обрабатываются параллельно.
type dagLocks struct {
	mu    sync.Mutex
	locks map[domain.DagID]*dagLock
}

type dagLock struct {
	mu   sync.Mutex
	refs int
}

func newDagLocks() *dagLocks {
	return &dagLocks{locks: make(map[domain.DagID]*dagLock)}
}

// lock берёт блокировку DAG и возвращает функцию освобождения.
func (l *dagLocks) lock(id domain.DagID) func() {
	l.mu.Lock()
	dl, ok := l.locks[id]
	if !ok {
		dl = &dagLock{}
		l.locks[id] = dl
	}
	dl.refs++
	l.mu.Unlock()

	dl.mu.Lock()

	return func() {
		dl.mu.Unlock()

		l.mu.Lock()
		dl.refs--
		if dl.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}

// size возвращает число DAG с активной блокировкой.
func (l *dagLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
