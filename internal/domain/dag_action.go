package domain

import (
	"errors"
	"fmt"
	"strings"
)

// DagActionType — тип действия над DAG.
//
// Launch — основной тип: запуск нового выполнения flow по расписанию
// или вручную. Остальные типы адресуют уже запущенный DAG.
type DagActionType string

const (
	// DagActionLaunch — запуск нового выполнения flow.
	DagActionLaunch DagActionType = "LAUNCH"

	// DagActionResume — продолжение приостановленного/упавшего выполнения.
	DagActionResume DagActionType = "RESUME"

	// DagActionKill — отмена выполнения.
	DagActionKill DagActionType = "KILL"

	// DagActionReevaluate — пересчёт состояния DAG после завершения job.
	DagActionReevaluate DagActionType = "REEVALUATE"

	// DagActionEnforceJobStartDeadline — проверка дедлайна старта job.
	DagActionEnforceJobStartDeadline DagActionType = "ENFORCE_JOB_START_DEADLINE"

	// DagActionEnforceFlowFinishDeadline — проверка дедлайна завершения flow.
	DagActionEnforceFlowFinishDeadline DagActionType = "ENFORCE_FLOW_FINISH_DEADLINE"
)

// ErrInvalidDagAction — DagAction не прошёл валидацию.
var ErrInvalidDagAction = errors.New("invalid dag action")

// String возвращает строковое представление DagActionType.
func (t DagActionType) String() string {
	return string(t)
}

// ParseDagActionType парсит строку в DagActionType (регистр не важен).
func ParseDagActionType(s string) (DagActionType, error) {
	switch t := DagActionType(strings.ToUpper(strings.TrimSpace(s))); t {
	case DagActionLaunch, DagActionResume, DagActionKill, DagActionReevaluate,
		DagActionEnforceJobStartDeadline, DagActionEnforceFlowFinishDeadline:
		return t, nil
	default:
		return "", fmt.Errorf("%w: unknown action type %q", ErrInvalidDagAction, s)
	}
}

// DagAction — идентификатор одной единицы координации.
//
// Два DagAction с одинаковыми полями обозначают одно и то же действие:
// именно по этому ключу инстансы scheduler'а соревнуются за lease.
// DagAction — value type, после создания не изменяется.
type DagAction struct {
	// FlowGroup — группа flow.
	FlowGroup string `json:"flow_group"`

	// FlowName — имя flow внутри группы.
	FlowName string `json:"flow_name"`

	// FlowExecutionID — id выполнения flow.
	// Для запусков по расписанию — номинальное время срабатывания cron в миллисекундах,
	// поэтому все инстансы вычисляют одинаковый id для одного и того же срабатывания.
	FlowExecutionID int64 `json:"flow_execution_id"`

	// JobName — имя job. Пустое для действий уровня flow.
	JobName string `json:"job_name,omitempty"`

	// ActionType — тип действия.
	ActionType DagActionType `json:"action_type"`
}

// NewLaunchAction создаёт DagAction запуска flow.
func NewLaunchAction(flowGroup, flowName string, flowExecutionID int64) DagAction {
	return DagAction{
		FlowGroup:       flowGroup,
		FlowName:        flowName,
		FlowExecutionID: flowExecutionID,
		ActionType:      DagActionLaunch,
	}
}

// Validate проверяет, что все обязательные поля заполнены.
func (a DagAction) Validate() error {
	if a.FlowGroup == "" || a.FlowName == "" {
		return fmt.Errorf("%w: flow group and name are required", ErrInvalidDagAction)
	}
	if a.FlowExecutionID <= 0 {
		return fmt.Errorf("%w: flow execution id must be positive", ErrInvalidDagAction)
	}
	if _, err := ParseDagActionType(string(a.ActionType)); err != nil {
		return err
	}
	return nil
}

// IsFlowLevel возвращает true, если действие относится ко всему flow, а не к job.
func (a DagAction) IsFlowLevel() bool {
	return a.JobName == ""
}

// DagID возвращает идентификатор DAG, к которому относится действие.
func (a DagAction) DagID() DagID {
	return DagID{
		FlowGroup:       a.FlowGroup,
		FlowName:        a.FlowName,
		FlowExecutionID: a.FlowExecutionID,
	}
}

// FlowKey возвращает "group.name" — ключ flow без привязки к выполнению.
func (a DagAction) FlowKey() string {
	return FlowKey(a.FlowGroup, a.FlowName)
}

// Key возвращает детерминированный строковый ключ действия.
// Используется как ключ записи в хранилищах lease. Компоненты экранируются,
// поэтому '/' внутри группы или имени не склеивает разные действия.
func (a DagAction) Key() string {
	return fmt.Sprintf("%s/%s/%d/%s/%s",
		escapeKeyPart(a.FlowGroup),
		escapeKeyPart(a.FlowName),
		a.FlowExecutionID,
		escapeKeyPart(a.JobName),
		a.ActionType,
	)
}

// String возвращает человекочитаемое представление для логов.
func (a DagAction) String() string {
	if a.JobName == "" {
		return fmt.Sprintf("%s(%s.%s#%d)", a.ActionType, a.FlowGroup, a.FlowName, a.FlowExecutionID)
	}
	return fmt.Sprintf("%s(%s.%s#%d/%s)", a.ActionType, a.FlowGroup, a.FlowName, a.FlowExecutionID, a.JobName)
}
