package store

import (
	"errors"
	"fmt"
)

// ErrNotFound возвращается, когда запрошенная запись отсутствует.
var ErrNotFound = errors.New("not found")

// ValidationError — ошибка входных данных (пустое сообщение, пустой список участников).
// Исправляется вызывающей стороной и никогда не ретраится автоматически.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Reason
}

// IsValidation сообщает, является ли ошибка (в том числе обёрнутая) ошибкой валидации.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// StoreError — ошибка нижележащего хранилища или сети при CRUD-вызове.
// Исходная причина доступна через Unwrap. Повтор — ответственность вызывающей стороны.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store.%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func storeErr(op string, err error) error {
	return &StoreError{Op: op, Err: err}
}
