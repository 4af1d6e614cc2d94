package dagstate

import "errors"

// Ошибки хранилища состояния DAG.
var (
	// ErrNotFound — DAG с таким id нет в хранилище.
	ErrNotFound = errors.New("dag not found")

	// ErrCheckpointIO — ошибка ввода-вывода при работе с хранилищем.
	ErrCheckpointIO = errors.New("dag state store I/O failure")

	// ErrInvalidDag — DAG без id нельзя сохранить.
	ErrInvalidDag = errors.New("invalid dag")
)
