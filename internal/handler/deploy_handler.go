package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"sitehost/internal/apperror"
	"sitehost/internal/domain"
	"sitehost/internal/service"
)

// multipartOverhead - запас на заголовки и границы multipart поверх размера архива
const multipartOverhead = 1 << 20

type Deployer interface {
	DeployArchiveToSite(ctx context.Context, caller domain.Caller, filename string, data []byte) (*service.SiteDeployResult, error)
	DeployArchiveToTemplate(ctx context.Context, caller domain.Caller, templateID uuid.UUID, filename string, data []byte) (*service.TemplateUploadResult, error)
	DeployTemplateToSite(ctx context.Context, caller domain.Caller, req service.DeployTemplateRequest) (*service.TemplateDeployResult, error)
	LatestDeployment(ctx context.Context, caller domain.Caller) (*domain.Deployment, error)
	SiteInfo(ctx context.Context, caller domain.Caller) (*service.SiteInfo, error)
}

type DeployHandler struct {
	base
	deployer        Deployer
	maxArchiveBytes int64
}

func NewDeployHandler(deployer Deployer, auth Authenticator, maxArchiveBytes int64, logger *zap.Logger) *DeployHandler {
	return &DeployHandler{
		base:            base{auth: auth, logger: logger.Named("deploy_handler")},
		deployer:        deployer,
		maxArchiveBytes: maxArchiveBytes,
	}
}

type deployTemplateRequest struct {
	TemplateID      string `json:"templateId" validate:"required"`
	ReplaceExisting bool   `json:"replaceExisting"`
}

// UploadSiteArchive POST /v1/site/archive
func (h *DeployHandler) UploadSiteArchive(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	filename, data, err := h.readArchive(w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	result, err := h.deployer.DeployArchiveToSite(r.Context(), caller, filename, data)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// UploadTemplateArchive POST /v1/templates/{id}/archive
func (h *DeployHandler) UploadTemplateArchive(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	templateID, err := templateIDParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	filename, data, err := h.readArchive(w, r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	result, err := h.deployer.DeployArchiveToTemplate(r.Context(), caller, templateID, filename, data)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// DeployTemplate POST /v1/site/deploy-template
func (h *DeployHandler) DeployTemplate(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req deployTemplateRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	templateID, err := uuid.Parse(req.TemplateID)
	if err != nil {
		h.fail(w, r, apperror.Clone(apperror.ErrValidation, "invalid template id"))
		return
	}

	result, err := h.deployer.DeployTemplateToSite(r.Context(), caller, service.DeployTemplateRequest{
		TemplateID:      templateID,
		ReplaceExisting: req.ReplaceExisting,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// LatestDeployment GET /v1/site/deployments/latest
func (h *DeployHandler) LatestDeployment(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	d, err := h.deployer.LatestDeployment(r.Context(), caller)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, d)
}

// SiteInfo GET /v1/site
func (h *DeployHandler) SiteInfo(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	info, err := h.deployer.SiteInfo(r.Context(), caller)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, info)
}

// readArchive достает поле "file" из multipart формы
func (h *DeployHandler) readArchive(w http.ResponseWriter, r *http.Request) (string, []byte, error) {
	if h.maxArchiveBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxArchiveBytes+multipartOverhead)
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return "", nil, apperror.ErrArchiveTooLarge
		}
		return "", nil, apperror.Clone(apperror.ErrValidation, "expected multipart form with field \"file\"")
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		return "", nil, apperror.Clone(apperror.ErrValidation, "file is required")
	}
	defer file.Close()

	if h.maxArchiveBytes > 0 && header.Size > h.maxArchiveBytes {
		return "", nil, apperror.ErrArchiveTooLarge
	}

	reader := io.Reader(file)
	if h.maxArchiveBytes > 0 {
		reader = io.LimitReader(file, h.maxArchiveBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", nil, apperror.WithCause(apperror.Clone(apperror.ErrValidation, "failed to read file"), err)
	}
	if h.maxArchiveBytes > 0 && int64(len(data)) > h.maxArchiveBytes {
		return "", nil, apperror.ErrArchiveTooLarge
	}

	return header.Filename, data, nil
}

func templateIDParam(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, apperror.Clone(apperror.ErrValidation, "invalid template id")
	}
	return id, nil
}
