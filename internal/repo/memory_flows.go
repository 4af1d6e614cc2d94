package repo

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shaiso/Arbiter/internal/domain"
)

// MemoryFlowRepo — набор flow в памяти процесса.
// Используется в локальном режиме, когда flows приходят из файла конфигурации.
type MemoryFlowRepo struct {
	mu    sync.RWMutex
	flows map[string]domain.Flow
}

// NewMemoryFlowRepo создаёт репозиторий с начальным набором flows.
func NewMemoryFlowRepo(flows ...domain.Flow) *MemoryFlowRepo {
	r := &MemoryFlowRepo{flows: make(map[string]domain.Flow, len(flows))}
	for _, f := range flows {
		r.flows[f.Key()] = f
	}
	return r
}

// Create добавляет flow.
func (r *MemoryFlowRepo) Create(ctx context.Context, flow *domain.Flow) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.flows[flow.Key()]; ok {
		return fmt.Errorf("flow %s: %w", flow.Key(), ErrAlreadyExists)
	}
	r.flows[flow.Key()] = *flow
	return nil
}

// Get возвращает flow по группе и имени.
func (r *MemoryFlowRepo) Get(ctx context.Context, group, name string) (*domain.Flow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.flows[domain.FlowKey(group, name)]
	if !ok {
		return nil, ErrNotFound
	}
	return &f, nil
}

// List возвращает все flows, отсортированные по группе и имени.
func (r *MemoryFlowRepo) List(ctx context.Context) ([]domain.Flow, error) {
	return r.list(func(domain.Flow) bool { return true }), nil
}

// ListEnabled возвращает включённые flows.
func (r *MemoryFlowRepo) ListEnabled(ctx context.Context) ([]domain.Flow, error) {
	return r.list(func(f domain.Flow) bool { return f.Enabled }), nil
}

func (r *MemoryFlowRepo) list(keep func(domain.Flow) bool) []domain.Flow {
	r.mu.RLock()
	defer r.mu.RUnlock()

	flows := make([]domain.Flow, 0, len(r.flows))
	for _, f := range r.flows {
		if keep(f) {
			flows = append(flows, f)
		}
	}
	sort.Slice(flows, func(i, j int) bool {
		if flows[i].Group != flows[j].Group {
			return flows[i].Group < flows[j].Group
		}
		return flows[i].Name < flows[j].Name
	})
	return flows
}

// Update заменяет flow.
func (r *MemoryFlowRepo) Update(ctx context.Context, flow *domain.Flow) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.flows[flow.Key()]; !ok {
		return ErrNotFound
	}
	r.flows[flow.Key()] = *flow
	return nil
}

// Delete удаляет flow.
func (r *MemoryFlowRepo) Delete(ctx context.Context, group, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := domain.FlowKey(group, name)
	if _, ok := r.flows[key]; !ok {
		return ErrNotFound
	}
	delete(r.flows, key)
	return nil
}
