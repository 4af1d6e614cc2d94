package orchestrator

import (
	"errors"
	"fmt"
)

// Ошибки оркестратора.
var (
	// ErrFlowNotFound — flow для запуска не найден.
	ErrFlowNotFound = errors.New("flow not found")

	// ErrJobNotFound — прогресс пришёл для job, которой нет в DAG.
	ErrJobNotFound = errors.New("job not found in dag")

	// ErrDagFailed — движок исполнения сообщил о неуспешном завершении DAG.
	ErrDagFailed = errors.New("dag execution failed")

	// ErrInvalidOutcome — статус завершения не терминальный.
	ErrInvalidOutcome = errors.New("invalid dag outcome")
)

// PartialFailureError — DAG завершился ошибкой, и очистка checkpoint тоже не удалась.
//
// Обе причины доступны через errors.Is / errors.As:
// Cause — ошибка исполнения, Recovery — ошибка очистки.
type PartialFailureError struct {
	Cause    error
	Recovery error
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("%v (cleanup failed: %v)", e.Cause, e.Recovery)
}

// Unwrap возвращает обе причины.
func (e *PartialFailureError) Unwrap() []error {
	return []error{e.Cause, e.Recovery}
}
