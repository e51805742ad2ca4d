package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrTimeout возвращается, если внешний вызов не уложился в отведённое время.
var ErrTimeout = errors.New("external call timed out")

// ErrDraftNotFound возвращается, если черновик не найден.
var ErrDraftNotFound = errors.New("draft not found")

// ErrDraftNotPending возвращается при попытке повторно обработать черновик.
var ErrDraftNotPending = errors.New("draft is not awaiting review")

// StorageError сообщает о недоступности или порче хранилища.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// GenerationUnavailable — генеративная модель не ответила или вернула мусор.
type GenerationUnavailable struct {
	Err error
}

func (e *GenerationUnavailable) Error() string {
	return fmt.Sprintf("generation unavailable: %v", e.Err)
}

func (e *GenerationUnavailable) Unwrap() error { return e.Err }

// PublishError — площадка отклонила публикацию.
type PublishError struct {
	Platform string
	Err      error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish to %s: %v", e.Platform, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// ValidationError — текст не помещается в бюджет даже после деградации.
type ValidationError struct {
	Length int
	Limit  int
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("post does not fit: %d of %d characters", e.Length, e.Limit)
}

// TimeoutError описывает прерванный по таймауту вызов.
type TimeoutError struct {
	Op    string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: timed out after %s", e.Op, e.After)
}

// Is делает TimeoutError сопоставимой с ErrTimeout.
func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }
