package engine

import (
	"encoding/json"
	"fmt"

	"github.com/shaiso/Arbiter/internal/domain"
)

// ParseJobs парсит список job из JSON и валидирует его.
func ParseJobs(data []byte) ([]domain.JobSpec, error) {
	var jobs []domain.JobSpec
	if err := json.Unmarshal(data, &jobs); err != nil {
		return nil, fmt.Errorf("parse jobs: %w", err)
	}
	if err := ValidateJobs(jobs); err != nil {
		return nil, err
	}
	return jobs, nil
}

// ValidateJobs выполняет валидацию job flow.
//
// Проверяет:
// - Непустые и уникальные имена
// - Отсутствие self-dependency
// - Валидность зависимостей (depends_on)
// - Отсутствие циклов (делегируется BuildGraph)
//
// Пустой список валиден: такой flow запускается как no-op.
func ValidateJobs(jobs []domain.JobSpec) error {
	names := make(map[string]bool, len(jobs))

	for i := range jobs {
		if err := ValidateJob(&jobs[i], names); err != nil {
			return err
		}
	}

	if err := validateDependencies(jobs, names); err != nil {
		return err
	}

	_, err := BuildGraph(jobs)
	return err
}

// ValidateJob валидирует одну job.
// names — уже встреченные имена (для проверки уникальности).
func ValidateJob(job *domain.JobSpec, names map[string]bool) error {
	if job.Name == "" {
		return NewValidationError("", "name", "job has empty name", ErrEmptyJobName)
	}

	if names[job.Name] {
		return NewValidationError(job.Name, "name",
			fmt.Sprintf("duplicate job name: %s", job.Name), ErrDuplicateJob)
	}
	names[job.Name] = true

	for _, dep := range job.DependsOn {
		if dep == job.Name {
			return NewValidationError(job.Name, "depends_on",
				"job depends on itself", ErrSelfDependency)
		}
	}

	return nil
}

// validateDependencies проверяет, что все depends_on ссылаются на существующие job.
func validateDependencies(jobs []domain.JobSpec, names map[string]bool) error {
	for i := range jobs {
		job := &jobs[i]
		for _, dep := range job.DependsOn {
			if !names[dep] {
				return NewValidationError(job.Name, "depends_on",
					fmt.Sprintf("depends on unknown job: %s", dep), ErrMissingDependency)
			}
		}
	}
	return nil
}
