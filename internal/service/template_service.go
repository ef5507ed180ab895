package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"sitehost/internal/apperror"
	"sitehost/internal/domain"
	"sitehost/internal/repository"
	"sitehost/internal/service/s3"
)

// TemplateInput - поля нового шаблона
type TemplateInput struct {
	Name        string
	Description string
	Category    string
	Type        string
	Tags        []string
	IsPublic    bool
	OwnerScope  *string
}

// TemplateUpdate - частичное обновление, nil означает "не менять".
// Пустая строка в OwnerScope снимает привязку к пользователю.
type TemplateUpdate struct {
	Name        *string
	Description *string
	Category    *string
	Type        *string
	Tags        *[]string
	IsPublic    *bool
	OwnerScope  *string
	IsActive    *bool
}

type TemplateService struct {
	templates TemplateStore
	cleaner   *PrefixCleaner
	locker    Locker
	leaseTTL  time.Duration
	logger    *zap.Logger
}

func NewTemplateService(storage s3.Storage, templates TemplateStore, locker Locker, leaseTTL time.Duration, logger *zap.Logger) *TemplateService {
	logger = logger.Named("templates")
	return &TemplateService{
		templates: templates,
		cleaner:   NewPrefixCleaner(storage, logger),
		locker:    locker,
		leaseTTL:  leaseTTL,
		logger:    logger,
	}
}

func (s *TemplateService) Create(ctx context.Context, caller domain.Caller, in TemplateInput) (*domain.Template, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}

	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apperror.Clone(apperror.ErrValidation, "name is required")
	}

	id := uuid.New()
	tpl := &domain.Template{
		ID:          id,
		Name:        name,
		Description: in.Description,
		Category:    in.Category,
		Type:        in.Type,
		Tags:        pq.StringArray(normalizeTags(in.Tags)),
		StoragePath: domain.TemplatePrefix(id),
		IsPublic:    in.IsPublic,
		OwnerScope:  normalizeScope(in.OwnerScope),
		IsActive:    true,
	}

	if err := s.templates.Create(ctx, tpl); err != nil {
		return nil, err
	}

	s.logger.Info("template created", zap.String("template_id", id.String()), zap.String("name", name))
	return tpl, nil
}

func (s *TemplateService) Update(ctx context.Context, caller domain.Caller, id uuid.UUID, in TemplateUpdate) (*domain.Template, error) {
	if err := requireAdmin(caller); err != nil {
		return nil, err
	}

	tpl, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, apperror.Clone(apperror.ErrValidation, "name must not be empty")
		}
		tpl.Name = name
	}
	if in.Description != nil {
		tpl.Description = *in.Description
	}
	if in.Category != nil {
		tpl.Category = *in.Category
	}
	if in.Type != nil {
		tpl.Type = *in.Type
	}
	if in.Tags != nil {
		tpl.Tags = pq.StringArray(normalizeTags(*in.Tags))
	}
	if in.IsPublic != nil {
		tpl.IsPublic = *in.IsPublic
	}
	if in.OwnerScope != nil {
		tpl.OwnerScope = normalizeScope(in.OwnerScope)
	}
	if in.IsActive != nil {
		tpl.IsActive = *in.IsActive
	}

	if err := s.templates.Update(ctx, tpl); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperror.Clone(apperror.ErrNotFound, "template not found")
		}
		return nil, fmt.Errorf("failed to update template: %w", err)
	}

	return tpl, nil
}

// SoftDelete скрывает шаблон, файлы остаются на месте
func (s *TemplateService) SoftDelete(ctx context.Context, caller domain.Caller, id uuid.UUID) error {
	if err := requireAdmin(caller); err != nil {
		return err
	}

	if err := s.templates.SetActive(ctx, id, false); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return apperror.Clone(apperror.ErrNotFound, "template not found")
		}
		return fmt.Errorf("failed to deactivate template: %w", err)
	}

	s.logger.Info("template deactivated", zap.String("template_id", id.String()))
	return nil
}

// HardDelete удаляет файлы шаблона, затем запись. Если удаление файлов
// прервалось, запись остается и операцию можно повторить.
func (s *TemplateService) HardDelete(ctx context.Context, caller domain.Caller, id uuid.UUID) (int, error) {
	if err := requireAdmin(caller); err != nil {
		return 0, err
	}

	tpl, err := s.load(ctx, id)
	if err != nil {
		return 0, err
	}

	prefix := domain.TemplatePrefix(tpl.ID)
	lease, err := s.locker.Acquire(ctx, prefix, s.leaseTTL)
	if err != nil {
		if errors.Is(err, ErrLockBusy) {
			return 0, apperror.ErrDeployInProgress
		}
		return 0, err
	}
	defer releaseLease(ctx, lease, prefix, s.logger)

	deleted, err := s.cleaner.Clean(ctx, prefix)
	if err != nil {
		return deleted, fmt.Errorf("failed to delete template files: %w", err)
	}

	if err := s.templates.Delete(ctx, tpl.ID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return deleted, apperror.Clone(apperror.ErrNotFound, "template not found")
		}
		return deleted, fmt.Errorf("failed to delete template: %w", err)
	}

	s.logger.Info("template deleted",
		zap.String("template_id", id.String()),
		zap.Int("count", deleted),
	)
	return deleted, nil
}

// List возвращает все шаблоны администратору и видимые остальным
func (s *TemplateService) List(ctx context.Context, caller domain.Caller, filter domain.TemplateFilter) ([]domain.Template, error) {
	if !caller.Authenticated() {
		return nil, apperror.ErrUnauthorized
	}

	if CanManageTemplates(caller) {
		templates, err := s.templates.List(ctx, filter)
		if err != nil {
			return nil, err
		}
		return templates, nil
	}

	visible, err := s.templates.ListVisible(ctx, caller.ID)
	if err != nil {
		return nil, err
	}
	if filter.Category == "" {
		return visible, nil
	}

	filtered := make([]domain.Template, 0, len(visible))
	for _, tpl := range visible {
		if tpl.Category == filter.Category {
			filtered = append(filtered, tpl)
		}
	}
	return filtered, nil
}

// Get возвращает шаблон. Невидимый шаблон неотличим от отсутствующего.
func (s *TemplateService) Get(ctx context.Context, caller domain.Caller, id uuid.UUID) (*domain.Template, error) {
	if !caller.Authenticated() {
		return nil, apperror.ErrUnauthorized
	}

	tpl, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanViewTemplate(caller, tpl) {
		return nil, apperror.Clone(apperror.ErrNotFound, "template not found")
	}
	return tpl, nil
}

func (s *TemplateService) load(ctx context.Context, id uuid.UUID) (*domain.Template, error) {
	tpl, err := s.templates.GetByID(ctx, id)
	if err != nil {
		return nil, templateLookupError(err)
	}
	return tpl, nil
}

func templateLookupError(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperror.Clone(apperror.ErrNotFound, "template not found")
	}
	return fmt.Errorf("failed to load template: %w", err)
}

func requireAdmin(caller domain.Caller) error {
	if !caller.Authenticated() {
		return apperror.ErrUnauthorized
	}
	if !CanManageTemplates(caller) {
		return apperror.ErrForbidden
	}
	return nil
}

// normalizeTags убирает пустые и повторяющиеся теги, сохраняя порядок
func normalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	return out
}

func normalizeScope(scope *string) *string {
	if scope == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*scope)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
