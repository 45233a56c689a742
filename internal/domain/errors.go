package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid request status transition")
	ErrAlreadyDecided    = errors.New("request already decided")
	ErrForbidden         = errors.New("forbidden")

	// ErrTransient помечает сбои хранилища, которые имеет смысл повторить (таймаут, обрыв соединения).
	ErrTransient = errors.New("transient storage failure")

	// ErrGatewayUnavailable: удаленный сервис каталога недоступен. Внутри ядра не повторяется.
	ErrGatewayUnavailable = errors.New("directory gateway unavailable")
)

// ValidationError: некорректный ввод. Возвращается клиенту до создания саги.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// AdmissionRejectedError: превышен лимит участников для уровня полномочий инициатора.
type AdmissionRejectedError struct {
	Event      string
	Requested  int
	Limit      int
	IsApprover bool
}

func (e *AdmissionRejectedError) Error() string {
	return fmt.Sprintf("you are not allowed to %s a group with a size greater than %d (requested %d)",
		e.verb(), e.Limit, e.Requested)
}

func (e *AdmissionRejectedError) verb() string {
	if e.Event == "update" {
		return "grow"
	}
	return "create"
}

// IsClientError сообщает, что ошибка вызвана вводом пользователя, а не сбоем системы.
func IsClientError(err error) bool {
	var vErr *ValidationError
	var aErr *AdmissionRejectedError
	return errors.As(err, &vErr) || errors.As(err, &aErr)
}
