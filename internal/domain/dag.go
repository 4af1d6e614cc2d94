package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidDagID — строка не является корректным DagID.
var ErrInvalidDagID = errors.New("invalid dag id")

// DagID — детерминированный идентификатор DAG выполнения flow.
//
// Выводится из идентичности flow и id выполнения, поэтому любой инстанс
// вычисляет одинаковый DagID для одного и того же запуска.
type DagID struct {
	FlowGroup       string `json:"flow_group"`
	FlowName        string `json:"flow_name"`
	FlowExecutionID int64  `json:"flow_execution_id"`
}

// String возвращает "group_name_executionID".
// Группа и имя экранируются, поэтому разные DagID не дают одну строку.
func (id DagID) String() string {
	return fmt.Sprintf("%s_%s_%d", escapeKeyPart(id.FlowGroup), escapeKeyPart(id.FlowName), id.FlowExecutionID)
}

// IsZero возвращает true для пустого DagID.
func (id DagID) IsZero() bool {
	return id == DagID{}
}

// ParseDagID разбирает строковый DagID, обратное к String.
//
// Строка без экранирования с лишними '_' (например, уже раскодированная
// из пути URL) разбирается как раньше: группа до первого '_',
// id выполнения после последнего.
func ParseDagID(s string) (DagID, error) {
	first := strings.Index(s, "_")
	last := strings.LastIndex(s, "_")
	if first <= 0 || last <= first+1 || last == len(s)-1 {
		return DagID{}, fmt.Errorf("%w: %q", ErrInvalidDagID, s)
	}

	execID, err := strconv.ParseInt(s[last+1:], 10, 64)
	if err != nil {
		return DagID{}, fmt.Errorf("%w: %q: %v", ErrInvalidDagID, s, err)
	}

	group, err := unescapeKeyPart(s[:first])
	if err != nil {
		return DagID{}, fmt.Errorf("%w: %q: %v", ErrInvalidDagID, s, err)
	}
	name, err := unescapeKeyPart(s[first+1 : last])
	if err != nil {
		return DagID{}, fmt.Errorf("%w: %q: %v", ErrInvalidDagID, s, err)
	}

	return DagID{
		FlowGroup:       group,
		FlowName:        name,
		FlowExecutionID: execID,
	}, nil
}

// JobExecutionPlan — план выполнения одной job внутри DAG.
type JobExecutionPlan struct {
	// Name — имя job, уникальное в пределах DAG.
	Name string `json:"name"`

	// DependsOn — имена job, которые должны завершиться раньше.
	DependsOn []string `json:"depends_on,omitempty"`

	// Status — текущий статус job.
	Status JobStatus `json:"status"`

	// Attempt — номер попытки (начиная с 1 после первого старта).
	Attempt int `json:"attempt,omitempty"`

	// Config — конфигурация job для execution engine.
	Config map[string]string `json:"config,omitempty"`

	// Error — текст ошибки, если job упала.
	Error string `json:"error,omitempty"`

	// UpdatedAt — время последнего изменения статуса.
	UpdatedAt time.Time `json:"updated_at"`
}

// Dag — DAG планов выполнения job одного запуска flow.
//
// Dag сохраняется в DagStateStore после успешного запуска и удаляется
// по завершении. Наличие Dag в хранилище после рестарта означает
// "статус выполнения неизвестен и требует сверки", а не "DAG всё ещё работает".
type Dag struct {
	// ID — идентификатор DAG.
	ID DagID `json:"id"`

	// Status — агрегированный статус DAG.
	Status DagStatus `json:"status"`

	// Jobs — планы выполнения job в топологическом порядке.
	Jobs []JobExecutionPlan `json:"jobs"`

	// Owner — инстанс, запустивший DAG.
	Owner string `json:"owner,omitempty"`

	// CreatedAt — время запуска.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt — время последнего checkpoint.
	UpdatedAt time.Time `json:"updated_at"`
}

// Job возвращает план job по имени.
func (d *Dag) Job(name string) (*JobExecutionPlan, bool) {
	for i := range d.Jobs {
		if d.Jobs[i].Name == name {
			return &d.Jobs[i], true
		}
	}
	return nil, false
}

// IsEmpty возвращает true, если в DAG нет ни одной job.
func (d *Dag) IsEmpty() bool {
	return len(d.Jobs) == 0
}

// Clone возвращает глубокую копию DAG.
func (d *Dag) Clone() *Dag {
	c := *d
	c.Jobs = make([]JobExecutionPlan, len(d.Jobs))
	for i, job := range d.Jobs {
		j := job
		if job.DependsOn != nil {
			j.DependsOn = append([]string(nil), job.DependsOn...)
		}
		if job.Config != nil {
			j.Config = make(map[string]string, len(job.Config))
			for k, v := range job.Config {
				j.Config[k] = v
			}
		}
		c.Jobs[i] = j
	}
	return &c
}

// RecomputeStatus пересчитывает статус DAG по статусам job.
func (d *Dag) RecomputeStatus() DagStatus {
	if d.Status == DagStatusCancelled {
		return d.Status
	}

	var succeeded, failed, running int
	for _, job := range d.Jobs {
		switch job.Status {
		case JobStatusSucceeded:
			succeeded++
		case JobStatusFailed:
			failed++
		case JobStatusRunning:
			running++
		}
	}

	switch {
	case failed > 0 && running == 0:
		d.Status = DagStatusFailed
	case succeeded == len(d.Jobs):
		d.Status = DagStatusSucceeded
	default:
		d.Status = DagStatusRunning
	}
	return d.Status
}
