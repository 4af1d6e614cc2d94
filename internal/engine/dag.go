package engine

import (
	"fmt"
	"sort"
	"time"

	"github.com/shaiso/Arbiter/internal/domain"
)

// Node — узел графа job.
type Node struct {
	// Job — определение job.
	Job *domain.JobSpec

	// InDegree — количество входящих рёбер (зависимостей).
	InDegree int

	// DependsOn — узлы, от которых зависит этот узел.
	DependsOn []*Node

	// Dependents — узлы, которые зависят от этого узла.
	Dependents []*Node
}

// Name возвращает имя job узла.
func (n *Node) Name() string {
	return n.Job.Name
}

// Graph — направленный ациклический граф job flow.
type Graph struct {
	// Nodes — все узлы графа (имя job → Node).
	Nodes map[string]*Node

	// RootNodes — узлы без зависимостей (точки входа).
	RootNodes []*Node

	// Order — топологически отсортированный список узлов.
	Order []*Node
}

// BuildGraph строит граф из job flow.
func BuildGraph(jobs []domain.JobSpec) (*Graph, error) {
	g := &Graph{
		Nodes:     make(map[string]*Node, len(jobs)),
		RootNodes: make([]*Node, 0),
	}

	// Первый проход: создаём все узлы
	for i := range jobs {
		job := &jobs[i]
		if job.Name == "" {
			return nil, NewValidationError("", "name", "job has empty name", ErrEmptyJobName)
		}
		if _, exists := g.Nodes[job.Name]; exists {
			return nil, NewValidationError(job.Name, "name",
				fmt.Sprintf("duplicate job name: %s", job.Name), ErrDuplicateJob)
		}
		g.Nodes[job.Name] = &Node{Job: job}
	}

	// Второй проход: связываем узлы по зависимостям
	for i := range jobs {
		job := &jobs[i]
		node := g.Nodes[job.Name]

		for _, dep := range job.DependsOn {
			depNode, exists := g.Nodes[dep]
			if !exists {
				return nil, NewValidationError(job.Name, "depends_on",
					fmt.Sprintf("depends on unknown job: %s", dep), ErrMissingDependency)
			}
			g.addEdge(depNode, node)
		}
	}

	g.findRootNodes()

	// Проверяем на циклы и строим топологический порядок
	order, err := g.topologicalSort()
	if err != nil {
		return nil, err
	}
	g.Order = order

	return g, nil
}

// addEdge добавляет ребро между узлами, пропуская дубликаты.
func (g *Graph) addEdge(from, to *Node) {
	for _, dep := range to.DependsOn {
		if dep == from {
			return
		}
	}
	from.Dependents = append(from.Dependents, to)
	to.DependsOn = append(to.DependsOn, from)
	to.InDegree++
}

// findRootNodes находит узлы без входящих рёбер.
// Порядок детерминирован (по имени), чтобы DAG был одинаковым на всех инстансах.
func (g *Graph) findRootNodes() {
	g.RootNodes = make([]*Node, 0)
	for _, node := range g.Nodes {
		if node.InDegree == 0 {
			g.RootNodes = append(g.RootNodes, node)
		}
	}
	sortNodes(g.RootNodes)
}

// topologicalSort выполняет топологическую сортировку (алгоритм Кана).
// Возвращает ошибку, если обнаружен цикл.
func (g *Graph) topologicalSort() ([]*Node, error) {
	inDegree := make(map[string]int, len(g.Nodes))
	for name, node := range g.Nodes {
		inDegree[name] = node.InDegree
	}

	queue := make([]*Node, len(g.RootNodes))
	copy(queue, g.RootNodes)

	order := make([]*Node, 0, len(g.Nodes))

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)

		var next []*Node
		for _, dependent := range node.Dependents {
			inDegree[dependent.Name()]--
			if inDegree[dependent.Name()] == 0 {
				next = append(next, dependent)
			}
		}
		sortNodes(next)
		queue = append(queue, next...)
	}

	// Если не все узлы обработаны — есть цикл
	if len(order) != len(g.Nodes) {
		return nil, ErrCyclicDependency
	}

	return order, nil
}

func sortNodes(nodes []*Node) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Name() < nodes[j].Name() })
}

// Size возвращает количество узлов в графе.
func (g *Graph) Size() int {
	return len(g.Nodes)
}

// CompileDag компилирует job flow в DAG планов выполнения.
//
// Job идут в топологическом порядке, их Config рендерится шаблонами
// с контекстом запуска. Пустой список job даёт пустой DAG (no-op запуск).
func CompileDag(id domain.DagID, jobs []domain.JobSpec, tctx *Context, now time.Time) (*domain.Dag, error) {
	g, err := BuildGraph(jobs)
	if err != nil {
		return nil, err
	}

	dag := &domain.Dag{
		ID:        id,
		Status:    domain.DagStatusPending,
		Jobs:      make([]domain.JobExecutionPlan, 0, len(g.Order)),
		CreatedAt: now,
		UpdatedAt: now,
	}

	for _, node := range g.Order {
		config, err := RenderConfig(node.Job.Config, tctx)
		if err != nil {
			return nil, fmt.Errorf("job %s: %w", node.Name(), err)
		}

		var deps []string
		if len(node.Job.DependsOn) > 0 {
			deps = append([]string(nil), node.Job.DependsOn...)
		}

		dag.Jobs = append(dag.Jobs, domain.JobExecutionPlan{
			Name:      node.Name(),
			DependsOn: deps,
			Status:    domain.JobStatusPending,
			Config:    config,
			UpdatedAt: now,
		})
	}

	return dag, nil
}

// ReadyJobs возвращает имена job, готовых к запуску.
//
// Job готова, если:
// - Она в статусе PENDING
// - Все её зависимости в статусе SUCCEEDED
func ReadyJobs(dag *domain.Dag) []string {
	status := make(map[string]domain.JobStatus, len(dag.Jobs))
	for _, job := range dag.Jobs {
		status[job.Name] = job.Status
	}

	ready := make([]string, 0)
	for _, job := range dag.Jobs {
		if job.Status != domain.JobStatusPending {
			continue
		}

		allDepsSucceeded := true
		for _, dep := range job.DependsOn {
			if status[dep] != domain.JobStatusSucceeded {
				allDepsSucceeded = false
				break
			}
		}
		if allDepsSucceeded {
			ready = append(ready, job.Name)
		}
	}

	return ready
}

// IsComplete проверяет, все ли job в финальном статусе.
func IsComplete(dag *domain.Dag) bool {
	for _, job := range dag.Jobs {
		if !job.Status.IsTerminal() {
			return false
		}
	}
	return true
}
