package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound возвращается для неизвестных ресурсов.
var ErrNotFound = errors.New("not found")

// ValidationError сообщает о некорректном или отсутствующем поле запроса.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s is invalid", e.Field)
}

// Required создаёт ошибку об отсутствующем обязательном поле.
func Required(field string) *ValidationError {
	return &ValidationError{Field: field, Message: field + " is required"}
}

// Invalid создаёт ошибку с произвольным текстом.
func Invalid(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// StorageError оборачивает сбой хранилища. Текст причины наружу не отдаётся.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// WrapStorage возвращает nil для nil-ошибки.
func WrapStorage(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// IsValidation проверяет, что ошибка относится к валидации.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ErrCacheMiss возвращается кэшем, если ключ отсутствует.
var ErrCacheMiss = errors.New("cache miss")
