// Package core предоставляет систему ошибок платформы.
package core

import (
	"fmt"
	"runtime"
	"strings"
)

// Коды ошибок платформы
const (
	ErrNotFound          = "NOT_FOUND"
	ErrAlreadyExists     = "ALREADY_EXISTS"
	ErrInvalidConfig     = "INVALID_CONFIG"
	ErrInvalidTransition = "INVALID_TRANSITION"
	ErrMalformedEvent    = "MALFORMED_EVENT"
	ErrDeliveryFailed    = "DELIVERY_FAILED"
	ErrHandlerTransient  = "HANDLER_TRANSIENT"
	ErrHandlerPermanent  = "HANDLER_PERMANENT"
)

// PlatformError базовый тип ошибки платформы
type PlatformError struct {
	Code       string
	Message    string
	Cause      error
	StackTrace string
}

// Error реализует интерфейс error
func (e *PlatformError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap возвращает причину ошибки
func (e *PlatformError) Unwrap() error {
	return e.Cause
}

// Is проверяет, соответствует ли ошибка коду
func (e *PlatformError) Is(target error) bool {
	if t, ok := target.(*PlatformError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithContext добавляет контекст к ошибке
func (e *PlatformError) WithContext(context string) *PlatformError {
	return &PlatformError{
		Code:       e.Code,
		Message:    fmt.Sprintf("%s: %s", context, e.Message),
		Cause:      e.Cause,
		StackTrace: e.StackTrace,
	}
}

// NewError создает новую ошибку платформы
func NewError(code, message string) *PlatformError {
	return &PlatformError{
		Code:       code,
		Message:    message,
		StackTrace: captureStackTrace(),
	}
}

// Wrap оборачивает существующую ошибку
func Wrap(err error, code, message string) *PlatformError {
	if err == nil {
		return nil
	}
	return &PlatformError{
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: captureStackTrace(),
	}
}

// WrapWithCode оборачивает ошибку с кодом
func WrapWithCode(err error, code string) *PlatformError {
	if err == nil {
		return nil
	}
	return &PlatformError{
		Code:       code,
		Message:    err.Error(),
		Cause:      err,
		StackTrace: captureStackTrace(),
	}
}

// HasCode проверяет, несет ли ошибка (или её причина) указанный код
func HasCode(err error, code string) bool {
	for err != nil {
		if pe, ok := err.(*PlatformError); ok && pe.Code == code {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// captureStackTrace захватывает stack trace
func captureStackTrace() string {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	stack := string(buf[:n])

	// Убираем первые несколько строк (сама функция captureStackTrace)
	lines := strings.Split(stack, "\n")
	if len(lines) > 4 {
		lines = lines[4:]
	}
	return strings.Join(lines, "\n")
}
