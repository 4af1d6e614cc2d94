package dagstate

import (
	"context"
	"fmt"

	"github.com/shaiso/Arbiter/internal/domain"
)

// Store — хранилище запущенных DAG.
//
// Вызывающие: execution engine (checkpoint по прогрессу, cleanup по завершении)
// и путь восстановления (чтение при старте / смене лидера).
type Store interface {
	// WriteCheckpoint сохраняет текущее состояние DAG по его id.
	// Повторный вызов для того же id перезаписывает запись.
	WriteCheckpoint(ctx context.Context, dag *domain.Dag) error

	// CleanUp удаляет DAG. Удаление отсутствующей записи — не ошибка.
	CleanUp(ctx context.Context, id domain.DagID) error

	// GetDag возвращает DAG по id или ErrNotFound.
	GetDag(ctx context.Context, id domain.DagID) (*domain.Dag, error)

	// GetDags возвращает все DAG в хранилище.
	GetDags(ctx context.Context) ([]*domain.Dag, error)

	// GetDagIDs возвращает id всех DAG в хранилище.
	GetDagIDs(ctx context.Context) ([]domain.DagID, error)
}

// LegacyStore — шим для вызывающих, у которых DagID есть только в виде строки
// (старые payload'ы, CLI). Вся логика делегируется типизированному Store.
type LegacyStore struct {
	Store
}

// CleanUpByString удаляет DAG по строковому id.
func (s LegacyStore) CleanUpByString(ctx context.Context, dagID string) error {
	id, err := domain.ParseDagID(dagID)
	if err != nil {
		return err
	}
	return s.CleanUp(ctx, id)
}

// GetDagByString возвращает DAG по строковому id.
func (s LegacyStore) GetDagByString(ctx context.Context, dagID string) (*domain.Dag, error) {
	id, err := domain.ParseDagID(dagID)
	if err != nil {
		return nil, err
	}
	return s.GetDag(ctx, id)
}

// GetDagIDStrings возвращает id всех DAG в строковом виде.
func (s LegacyStore) GetDagIDStrings(ctx context.Context) ([]string, error) {
	ids, err := s.GetDagIDs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out, nil
}

func validateDag(dag *domain.Dag) error {
	if dag == nil || dag.ID.IsZero() {
		return fmt.Errorf("%w: dag id is required", ErrInvalidDag)
	}
	return nil
}
