package handler

import (
	"context"
	"encoding/base64"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"sitehost/internal/apperror"
	"sitehost/internal/domain"
	"sitehost/internal/service"
)

const encodingBase64 = "base64"

type FileBrowser interface {
	List(ctx context.Context, caller domain.Caller, target service.Target, dir string) (*domain.FileListing, error)
	Get(ctx context.Context, caller domain.Caller, target service.Target, path string) (*domain.FileContent, error)
	Put(ctx context.Context, caller domain.Caller, target service.Target, path string, content []byte) (*domain.SiteFile, error)
	Delete(ctx context.Context, caller domain.Caller, target service.Target, path string) error
}

// TargetResolver определяет префикс запроса по URL и инициатору
type TargetResolver func(r *http.Request, caller domain.Caller) (service.Target, error)

// SiteTarget - сайт инициатора, администратор может указать ?userId=
func SiteTarget(r *http.Request, caller domain.Caller) (service.Target, error) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		userID = caller.ID
	}
	return service.SiteTarget(userID), nil
}

// TemplateTarget - шаблон из параметра {id}
func TemplateTarget(r *http.Request, _ domain.Caller) (service.Target, error) {
	id, err := templateIDParam(r)
	if err != nil {
		return service.Target{}, err
	}
	return service.TemplateTarget(id), nil
}

type FileHandler struct {
	base
	files       FileBrowser
	maxFileSize int64
}

func NewFileHandler(files FileBrowser, auth Authenticator, maxFileSize int64, logger *zap.Logger) *FileHandler {
	return &FileHandler{
		base:        base{auth: auth, logger: logger.Named("file_handler")},
		files:       files,
		maxFileSize: maxFileSize,
	}
}

type putFileRequest struct {
	Path     string `json:"path" validate:"required,max=1024"`
	Content  string `json:"content"`
	Encoding string `json:"encoding" validate:"omitempty,oneof=utf8 base64"`
}

// List GET .../files?dir=
func (h *FileHandler) List(resolve TargetResolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, target, ok := h.target(w, r, resolve)
		if !ok {
			return
		}

		listing, err := h.files.List(r.Context(), caller, target, r.URL.Query().Get("dir"))
		if err != nil {
			h.fail(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, listing)
	}
}

// Content GET .../files/content?path= отдает файл как есть
func (h *FileHandler) Content(resolve TargetResolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, target, ok := h.target(w, r, resolve)
		if !ok {
			return
		}

		file, err := h.files.Get(r.Context(), caller, target, r.URL.Query().Get("path"))
		if err != nil {
			h.fail(w, r, err)
			return
		}

		w.Header().Set("Content-Type", file.ContentType)
		w.Header().Set("Content-Length", strconv.Itoa(len(file.Data)))
		w.WriteHeader(http.StatusOK)
		w.Write(file.Data)
	}
}

// Put PUT .../files
func (h *FileHandler) Put(resolve TargetResolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, target, ok := h.target(w, r, resolve)
		if !ok {
			return
		}

		if h.maxFileSize > 0 {
			// base64 раздувает содержимое примерно на треть
			r.Body = http.MaxBytesReader(w, r.Body, h.maxFileSize*4/3+4096)
		}

		var req putFileRequest
		if err := decodeJSON(r, &req); err != nil {
			h.fail(w, r, err)
			return
		}

		content := []byte(req.Content)
		if req.Encoding == encodingBase64 {
			decoded, err := base64.StdEncoding.DecodeString(req.Content)
			if err != nil {
				h.fail(w, r, apperror.Clone(apperror.ErrValidation, "content is not valid base64"))
				return
			}
			content = decoded
		}
		if h.maxFileSize > 0 && int64(len(content)) > h.maxFileSize {
			h.fail(w, r, apperror.Clone(apperror.ErrValidation, "file is too large"))
			return
		}

		file, err := h.files.Put(r.Context(), caller, target, req.Path, content)
		if err != nil {
			h.fail(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, file)
	}
}

// Delete DELETE .../files?path=
func (h *FileHandler) Delete(resolve TargetResolver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, target, ok := h.target(w, r, resolve)
		if !ok {
			return
		}

		if err := h.files.Delete(r.Context(), caller, target, r.URL.Query().Get("path")); err != nil {
			h.fail(w, r, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *FileHandler) target(w http.ResponseWriter, r *http.Request, resolve TargetResolver) (domain.Caller, service.Target, bool) {
	caller, ok := h.caller(w, r)
	if !ok {
		return domain.Caller{}, service.Target{}, false
	}

	target, err := resolve(r, caller)
	if err != nil {
		h.fail(w, r, err)
		return domain.Caller{}, service.Target{}, false
	}
	return caller, target, true
}
