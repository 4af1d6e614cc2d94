package domain

// DagStatus — статус выполнения DAG.
//
// Жизненный цикл:
//
//	PENDING → RUNNING → SUCCEEDED
//	                  ↘ FAILED
//	          (или) → CANCELLED (из PENDING или RUNNING)
type DagStatus string

const (
	// DagStatusPending — DAG создан, но ещё не передан execution engine.
	DagStatusPending DagStatus = "PENDING"

	// DagStatusRunning — DAG выполняется.
	DagStatusRunning DagStatus = "RUNNING"

	// DagStatusSucceeded — все job завершились успешно.
	DagStatusSucceeded DagStatus = "SUCCEEDED"

	// DagStatusFailed — хотя бы одна job упала.
	DagStatusFailed DagStatus = "FAILED"

	// DagStatusCancelled — DAG отменён (KILL).
	DagStatusCancelled DagStatus = "CANCELLED"
)

// IsTerminal возвращает true, если статус финальный.
func (s DagStatus) IsTerminal() bool {
	switch s {
	case DagStatusSucceeded, DagStatusFailed, DagStatusCancelled:
		return true
	default:
		return false
	}
}

// JobStatus — статус выполнения job.
//
// Жизненный цикл:
//
//	PENDING → RUNNING → SUCCEEDED
//	                  ↘ FAILED
type JobStatus string

const (
	// JobStatusPending — job ждёт своих зависимостей.
	JobStatusPending JobStatus = "PENDING"

	// JobStatusRunning — job выполняется.
	JobStatusRunning JobStatus = "RUNNING"

	// JobStatusSucceeded — job успешно завершена.
	JobStatusSucceeded JobStatus = "SUCCEEDED"

	// JobStatusFailed — job завершилась с ошибкой.
	JobStatusFailed JobStatus = "FAILED"
)

// IsTerminal возвращает true, если статус финальный.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailed:
		return true
	default:
		return false
	}
}

// ParseJobStatus парсит строку в JobStatus.
// Неизвестные значения трактуются как PENDING.
func ParseJobStatus(s string) JobStatus {
	switch s {
	case "RUNNING":
		return JobStatusRunning
	case "SUCCEEDED":
		return JobStatusSucceeded
	case "FAILED":
		return JobStatusFailed
	default:
		return JobStatusPending
	}
}
