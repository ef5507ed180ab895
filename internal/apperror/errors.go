package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Error - типизированная ошибка с HTTP статусом
type Error struct {
	Code    string `json:"code"`
	Message string `json:"error"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is сравнивает ошибки по коду, чтобы клоны с другим сообщением
// находились через errors.Is
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e != nil && t != nil && e.Code == t.Code
}

func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

var (
	ErrValidation         = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrMissingEntryPoint  = New("MISSING_ENTRY_POINT", http.StatusBadRequest, "missing required entry point: index.html")
	ErrInvalidArchive     = New("INVALID_ARCHIVE", http.StatusBadRequest, "invalid archive")
	ErrEmptyTemplate      = New("EMPTY_TEMPLATE", http.StatusBadRequest, "template has no files")
	ErrUnauthorized       = New("UNAUTHORIZED", http.StatusUnauthorized, "unauthorized")
	ErrForbidden          = New("FORBIDDEN", http.StatusForbidden, "access denied")
	ErrNotFound           = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrSiteExists         = New("SITE_EXISTS", http.StatusConflict, "site already exists")
	ErrDeployInProgress   = New("DEPLOYMENT_IN_PROGRESS", http.StatusConflict, "another deployment is in progress")
	ErrTemplateIncomplete = New("TEMPLATE_INCOMPLETE", http.StatusConflict, "template files are incomplete, upload the template again")
	ErrArchiveTooLarge    = New("ARCHIVE_TOO_LARGE", http.StatusRequestEntityTooLarge, "archive exceeds allowed size")
	ErrInternal           = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
)

// FromError приводит любую ошибку к *Error. Неизвестные ошибки становятся 500.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone копирует ошибку с другим сообщением
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// WithCause копирует ошибку, прикрепляя причину
func WithCause(err *Error, cause error) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	clone.Err = cause
	return &clone
}
