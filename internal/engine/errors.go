package engine

import "errors"

// Ошибки валидации job flow.
var (
	// ErrEmptyJobName — job не имеет имени.
	ErrEmptyJobName = errors.New("job has empty name")

	// ErrDuplicateJob — несколько job с одинаковым именем.
	ErrDuplicateJob = errors.New("duplicate job name")

	// ErrMissingDependency — job зависит от несуществующей job.
	ErrMissingDependency = errors.New("job depends on unknown job")

	// ErrCyclicDependency — обнаружен цикл в зависимостях.
	ErrCyclicDependency = errors.New("cyclic dependency detected")

	// ErrSelfDependency — job зависит от самой себя.
	ErrSelfDependency = errors.New("job depends on itself")
)

// Ошибки рендеринга шаблонов.
var (
	// ErrTemplateRender — ошибка рендеринга шаблона.
	ErrTemplateRender = errors.New("template render failed")

	// ErrTemplateParse — ошибка парсинга шаблона.
	ErrTemplateParse = errors.New("template parse failed")
)

// ValidationError — ошибка валидации с контекстом.
type ValidationError struct {
	JobName string // имя job, где произошла ошибка
	Field   string // поле, вызвавшее ошибку
	Message string // описание ошибки
	Err     error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *ValidationError) Error() string {
	if e.JobName != "" {
		return "job " + e.JobName + ": " + e.Message
	}
	return e.Message
}

// Unwrap возвращает базовую ошибку.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError создаёт новую ошибку валидации.
func NewValidationError(jobName, field, message string, err error) *ValidationError {
	return &ValidationError{
		JobName: jobName,
		Field:   field,
		Message: message,
		Err:     err,
	}
}
