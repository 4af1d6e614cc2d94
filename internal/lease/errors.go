package lease

import "errors"

// Ошибки арбитража.
var (
	// ErrStoreUnavailable — хранилище lease недоступно (I/O, сеть).
	// Никогда не означает "lease занят": вызывающий код должен отличать
	// проигрыш гонки от недоступности хранилища.
	ErrStoreUnavailable = errors.New("lease store unavailable")

	// ErrNotOwner — операция требует владения lease, но владелец другой.
	ErrNotOwner = errors.New("lease is not owned by caller")
)

// StoreError — ошибка хранилища lease с указанием операции.
// errors.Is(err, ErrStoreUnavailable) == true для любой StoreError.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return "lease store " + e.Op + ": " + e.Err.Error()
}

// Unwrap возвращает исходную ошибку и ErrStoreUnavailable.
func (e *StoreError) Unwrap() []error {
	return []error{ErrStoreUnavailable, e.Err}
}
