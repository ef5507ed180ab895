package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"sitehost/internal/apperror"
	"sitehost/internal/domain"
)

// Authenticator извлекает инициатора из заголовков запроса
type Authenticator interface {
	VerifyToken(r *http.Request) (domain.Caller, error)
}

var validate = validator.New()

// ErrorResponse - тело любой ошибки API
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// base - общие части обработчиков
type base struct {
	auth   Authenticator
	logger *zap.Logger
}

// caller проверяет токен и пишет 401, если его нет
func (b *base) caller(w http.ResponseWriter, r *http.Request) (domain.Caller, bool) {
	caller, err := b.auth.VerifyToken(r)
	if err != nil {
		b.fail(w, r, apperror.WithCause(apperror.ErrUnauthorized, err))
		return domain.Caller{}, false
	}
	return caller, true
}

func (b *base) fail(w http.ResponseWriter, r *http.Request, err error) {
	appErr := apperror.FromError(err)
	if appErr.Status >= http.StatusInternalServerError {
		b.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
	}
	writeJSON(w, appErr.Status, ErrorResponse{Error: appErr.Message, Code: appErr.Code})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decodeJSON читает ровно один JSON объект без неизвестных полей
// и проверяет его тегами validate
func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return apperror.Clone(apperror.ErrValidation, "request body too large")
		}
		return apperror.WithCause(apperror.Clone(apperror.ErrValidation, "invalid JSON body: "+err.Error()), err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return apperror.Clone(apperror.ErrValidation, "request body must contain a single JSON object")
	}

	if err := validate.Struct(dst); err != nil {
		return validationError(err)
	}
	return nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperror.WithCause(apperror.ErrValidation, err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: %s=%s", fe.Field(), fe.Tag(), fe.Param()))
			continue
		}
		msgs = append(msgs, fmt.Sprintf("%s: %s", fe.Field(), fe.Tag()))
	}
	return apperror.Clone(apperror.ErrValidation, "validation failed: "+strings.Join(msgs, "; "))
}
