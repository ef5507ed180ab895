package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sitehost/internal/apperror"
	"sitehost/internal/domain"
	"sitehost/internal/service"
)

type TemplateManager interface {
	Create(ctx context.Context, caller domain.Caller, in service.TemplateInput) (*domain.Template, error)
	Update(ctx context.Context, caller domain.Caller, id uuid.UUID, in service.TemplateUpdate) (*domain.Template, error)
	SoftDelete(ctx context.Context, caller domain.Caller, id uuid.UUID) error
	HardDelete(ctx context.Context, caller domain.Caller, id uuid.UUID) (int, error)
	List(ctx context.Context, caller domain.Caller, filter domain.TemplateFilter) ([]domain.Template, error)
	Get(ctx context.Context, caller domain.Caller, id uuid.UUID) (*domain.Template, error)
}

type TemplateHandler struct {
	base
	templates TemplateManager
}

func NewTemplateHandler(templates TemplateManager, auth Authenticator, logger *zap.Logger) *TemplateHandler {
	return &TemplateHandler{
		base:      base{auth: auth, logger: logger.Named("template_handler")},
		templates: templates,
	}
}

type createTemplateRequest struct {
	Name        string   `json:"name" validate:"required,max=255"`
	Description string   `json:"description" validate:"max=2000"`
	Category    string   `json:"category" validate:"max=100"`
	Type        string   `json:"type" validate:"max=100"`
	Tags        []string `json:"tags" validate:"max=50,dive,max=64"`
	IsPublic    bool     `json:"isPublic"`
	OwnerScope  *string  `json:"ownerScope" validate:"omitempty,max=64"`
}

type updateTemplateRequest struct {
	Name        *string   `json:"name" validate:"omitempty,max=255"`
	Description *string   `json:"description" validate:"omitempty,max=2000"`
	Category    *string   `json:"category" validate:"omitempty,max=100"`
	Type        *string   `json:"type" validate:"omitempty,max=100"`
	Tags        *[]string `json:"tags" validate:"omitempty,max=50,dive,max=64"`
	IsPublic    *bool     `json:"isPublic"`
	OwnerScope  *string   `json:"ownerScope" validate:"omitempty,max=64"`
	IsActive    *bool     `json:"isActive"`
}

type deleteTemplateResponse struct {
	Deleted int `json:"deleted"`
}

// List GET /v1/templates
func (h *TemplateHandler) List(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	filter := domain.TemplateFilter{Category: r.URL.Query().Get("category")}
	if raw := r.URL.Query().Get("includeInactive"); raw != "" {
		include, err := strconv.ParseBool(raw)
		if err != nil {
			h.fail(w, r, apperror.Clone(apperror.ErrValidation, "includeInactive must be a boolean"))
			return
		}
		filter.IncludeInactive = include
	}

	templates, err := h.templates.List(r.Context(), caller, filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, templates)
}

// Create POST /v1/templates
func (h *TemplateHandler) Create(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req createTemplateRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	tpl, err := h.templates.Create(r.Context(), caller, service.TemplateInput{
		Name:        req.Name,
		Description: req.Description,
		Category:    req.Category,
		Type:        req.Type,
		Tags:        req.Tags,
		IsPublic:    req.IsPublic,
		OwnerScope:  req.OwnerScope,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, tpl)
}

// Get GET /v1/templates/{id}
func (h *TemplateHandler) Get(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	id, err := templateIDParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	tpl, err := h.templates.Get(r.Context(), caller, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, tpl)
}

// Update PUT /v1/templates/{id}
func (h *TemplateHandler) Update(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	id, err := templateIDParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	var req updateTemplateRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	tpl, err := h.templates.Update(r.Context(), caller, id, service.TemplateUpdate{
		Name:        req.Name,
		Description: req.Description,
		Category:    req.Category,
		Type:        req.Type,
		Tags:        req.Tags,
		IsPublic:    req.IsPublic,
		OwnerScope:  req.OwnerScope,
		IsActive:    req.IsActive,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, tpl)
}

// Delete DELETE /v1/templates/{id}, с ?hard=true удаляет и файлы
func (h *TemplateHandler) Delete(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	id, err := templateIDParam(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	hard := false
	if raw := r.URL.Query().Get("hard"); raw != "" {
		hard, err = strconv.ParseBool(raw)
		if err != nil {
			h.fail(w, r, apperror.Clone(apperror.ErrValidation, "hard must be a boolean"))
			return
		}
	}

	if !hard {
		if err := h.templates.SoftDelete(r.Context(), caller, id); err != nil {
			h.fail(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	deleted, err := h.templates.HardDelete(r.Context(), caller, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, deleteTemplateResponse{Deleted: deleted})
}
