package launcher

import (
	"fmt"
	"maps"
	"strconv"
	"strings"
	"time"

	"github.com/shaiso/Arbiter/internal/domain"
)

// Props — property bag триггера. Передаётся между повторными попытками как есть.
type Props map[string]string

// Clone возвращает копию Props (nil → пустой bag).
func (p Props) Clone() Props {
	if p == nil {
		return Props{}
	}
	return maps.Clone(p)
}

// PropKeys — имена ключей в Props.
// Передаются в Handler явно, пустые поля заменяются значениями по умолчанию.
type PropKeys struct {
	Schedule                    string `yaml:"schedule"`
	ExpectedReminderTime        string `yaml:"expected_reminder_time"`
	PreservedConsensusEventTime string `yaml:"preserved_consensus_event_time"`
	IsReminder                  string `yaml:"is_reminder"`

	FlowGroup       string `yaml:"flow_group"`
	FlowName        string `yaml:"flow_name"`
	FlowExecutionID string `yaml:"flow_execution_id"`
	JobName         string `yaml:"job_name"`
	ActionType      string `yaml:"action_type"`
}

// DefaultPropKeys возвращает ключи по умолчанию.
func DefaultPropKeys() PropKeys {
	return PropKeys{
		Schedule:                    "job.schedule",
		ExpectedReminderTime:        "scheduler.expected.reminder.time.millis",
		PreservedConsensusEventTime: "scheduler.preserved.consensus.event.time.millis",
		IsReminder:                  "flow.isReminderEvent",
		FlowGroup:                   "flow.group",
		FlowName:                    "flow.name",
		FlowExecutionID:             "flow.executionId",
		JobName:                     "job.name",
		ActionType:                  "flow.actionType",
	}
}

// WithDefaults заполняет пустые ключи значениями по умолчанию.
func (k PropKeys) WithDefaults() PropKeys {
	d := DefaultPropKeys()
	fill := func(v *string, def string) {
		if *v == "" {
			*v = def
		}
	}
	fill(&k.Schedule, d.Schedule)
	fill(&k.ExpectedReminderTime, d.ExpectedReminderTime)
	fill(&k.PreservedConsensusEventTime, d.PreservedConsensusEventTime)
	fill(&k.IsReminder, d.IsReminder)
	fill(&k.FlowGroup, d.FlowGroup)
	fill(&k.FlowName, d.FlowName)
	fill(&k.FlowExecutionID, d.FlowExecutionID)
	fill(&k.JobName, d.JobName)
	fill(&k.ActionType, d.ActionType)
	return k
}

// SetAction записывает идентичность action в props.
func (k PropKeys) SetAction(p Props, action domain.DagAction) {
	p[k.FlowGroup] = action.FlowGroup
	p[k.FlowName] = action.FlowName
	p[k.FlowExecutionID] = strconv.FormatInt(action.FlowExecutionID, 10)
	p[k.ActionType] = string(action.ActionType)
	if action.JobName != "" {
		p[k.JobName] = action.JobName
	} else {
		delete(p, k.JobName)
	}
}

// TriggerRequest — разобранный payload одного срабатывания.
type TriggerRequest struct {
	Action domain.DagAction

	// EventTimeMillis — время события, за которое идёт арбитраж:
	// preserved consensus event time для reminder'а, номинальное время для исходного срабатывания.
	EventTimeMillis int64

	IsReminder bool

	// ExpectedReminderTime — когда reminder должен был сработать (zero, если неизвестно).
	ExpectedReminderTime time.Time

	// Repaired — ключи, которые отсутствовали или не парсились и были заменены значениями по умолчанию.
	Repaired []string
}

// ParseTriggerProps разбирает payload срабатывания.
//
// fallbackMillis — номинальное время срабатывания: используется как id выполнения
// и event time, если их нет в payload (исходное срабатывание recurring-триггера).
//
// Битые поля времени и флага чинятся значениями по умолчанию и попадают в Repaired.
// Ошибка возвращается только при отсутствии группы или имени flow.
func ParseTriggerProps(p Props, keys PropKeys, fallbackMillis int64) (TriggerRequest, error) {
	var req TriggerRequest

	group := strings.TrimSpace(p[keys.FlowGroup])
	name := strings.TrimSpace(p[keys.FlowName])
	if group == "" || name == "" {
		return req, fmt.Errorf("%w: missing %s or %s", ErrMalformedReminderPayload, keys.FlowGroup, keys.FlowName)
	}

	// Флаг reminder'а: без флага, но с preserved event time — это reminder
	_, hasPreserved := p[keys.PreservedConsensusEventTime]
	if raw, ok := p[keys.IsReminder]; ok {
		flag, err := strconv.ParseBool(raw)
		if err != nil {
			flag = hasPreserved
			req.Repaired = append(req.Repaired, keys.IsReminder)
		}
		req.IsReminder = flag
	} else if hasPreserved {
		req.IsReminder = true
		req.Repaired = append(req.Repaired, keys.IsReminder)
	}

	execID, ok := parseMillis(p, keys.FlowExecutionID)
	if !ok {
		execID = fallbackMillis
		if _, present := p[keys.FlowExecutionID]; present || req.IsReminder {
			req.Repaired = append(req.Repaired, keys.FlowExecutionID)
		}
	}

	actionType := domain.DagActionLaunch
	if raw, present := p[keys.ActionType]; present {
		t, err := domain.ParseDagActionType(raw)
		if err != nil {
			req.Repaired = append(req.Repaired, keys.ActionType)
		} else {
			actionType = t
		}
	}

	req.Action = domain.DagAction{
		FlowGroup:       group,
		FlowName:        name,
		FlowExecutionID: execID,
		JobName:         p[keys.JobName],
		ActionType:      actionType,
	}

	req.EventTimeMillis = execID
	if req.IsReminder {
		if preserved, ok := parseMillis(p, keys.PreservedConsensusEventTime); ok {
			req.EventTimeMillis = preserved
		} else {
			req.Repaired = append(req.Repaired, keys.PreservedConsensusEventTime)
		}

		if expected, ok := parseMillis(p, keys.ExpectedReminderTime); ok {
			req.ExpectedReminderTime = time.UnixMilli(expected).UTC()
		} else {
			req.Repaired = append(req.Repaired, keys.ExpectedReminderTime)
		}
	}

	return req, nil
}

func parseMillis(p Props, key string) (int64, bool) {
	raw, ok := p[key]
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}
