package domain

import (
	"time"

	"github.com/google/uuid"
)

// Flow — определение flow с расписанием запуска.
//
// Каждый инстанс scheduler'а регистрирует у себя триггер для каждого
// включённого flow. Все инстансы срабатывают одновременно и соревнуются
// за lease; запускает только победитель.
type Flow struct {
	// ID — уникальный идентификатор flow.
	ID uuid.UUID `json:"id" yaml:"-"`

	// Group — группа flow.
	Group string `json:"group" yaml:"group"`

	// Name — имя flow внутри группы.
	Name string `json:"name" yaml:"name"`

	// CronExpr — cron-выражение в формате с секундами:
	// "секунды минуты часы дни месяцы дни_недели [год]".
	// Примеры:
	//   "0 0 9 * * ?"       — каждый день в 9:00:00
	//   "0 */5 * * * ?"     — каждые 5 минут
	// Пустое выражение — flow запускается только вручную.
	CronExpr string `json:"cron_expr,omitempty" yaml:"cron"`

	// Timezone — часовой пояс для вычисления времени срабатывания.
	// По умолчанию: "UTC".
	Timezone string `json:"timezone" yaml:"timezone"`

	// Enabled — флаг активности. Выключенные flows не регистрируются в scheduler'е.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Jobs — job flow. Компилируются в DAG при запуске.
	Jobs []JobSpec `json:"jobs" yaml:"jobs"`

	// Props — дополнительные свойства, которые передаются в payload триггера.
	Props map[string]string `json:"props,omitempty" yaml:"props"`

	// CreatedAt — время создания.
	CreatedAt time.Time `json:"created_at" yaml:"-"`

	// UpdatedAt — время последнего обновления.
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// JobSpec — декларативное описание job внутри flow.
type JobSpec struct {
	// Name — имя job, уникальное в пределах flow.
	Name string `json:"name" yaml:"name"`

	// DependsOn — имена job, от которых зависит эта job.
	DependsOn []string `json:"depends_on,omitempty" yaml:"depends_on"`

	// Config — конфигурация для execution engine.
	Config map[string]string `json:"config,omitempty" yaml:"config"`
}

// IsScheduled возвращает true, если flow запускается по расписанию.
func (f *Flow) IsScheduled() bool {
	return f.Enabled && f.CronExpr != ""
}

// Key возвращает "group.name" (компоненты экранированы).
func (f *Flow) Key() string {
	return FlowKey(f.Group, f.Name)
}

// FlowKey возвращает ключ flow "group.name" с экранированными компонентами.
func FlowKey(group, name string) string {
	return escapeKeyPart(group) + "." + escapeKeyPart(name)
}

// Location возвращает часовой пояс flow (UTC для пустого или невалидного).
func (f *Flow) Location() *time.Location {
	if f.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(f.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
