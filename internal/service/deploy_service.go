package service

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sitehost/internal/apperror"
	"sitehost/internal/archive"
	"sitehost/internal/config"
	"sitehost/internal/domain"
	"sitehost/internal/repository"
	"sitehost/internal/service/s3"
)

const archiveExtension = ".zip"

// DeployOptions - параметры конвейера развертывания
type DeployOptions struct {
	PublicBaseURL     string
	MaxArchiveBytes   int64
	Limits            archive.Limits
	CopyConcurrency   int
	LeaseTTL          time.Duration
	StalePendingAfter time.Duration
}

func DeployOptionsFromConfig(cfg *config.Config) DeployOptions {
	return DeployOptions{
		PublicBaseURL:   cfg.Server.PublicBaseURL,
		MaxArchiveBytes: cfg.Deploy.MaxArchiveBytes,
		Limits: archive.Limits{
			MaxEntries:           cfg.Deploy.MaxArchiveEntries,
			MaxUncompressedBytes: cfg.Deploy.MaxUncompressedBytes,
		},
		CopyConcurrency:   cfg.Deploy.CopyConcurrency,
		LeaseTTL:          cfg.Deploy.LeaseTTL,
		StalePendingAfter: cfg.Deploy.StalePendingAfter,
	}
}

type DeployTemplateRequest struct {
	TemplateID      uuid.UUID
	ReplaceExisting bool
}

type SiteDeployResult struct {
	DeploymentID  uuid.UUID `json:"deploymentId"`
	SiteURL       string    `json:"siteUrl"`
	FilesDeployed int       `json:"filesDeployed"`
	TotalSize     int64     `json:"totalSize"`
}

type TemplateUploadResult struct {
	TemplateID   uuid.UUID `json:"templateId"`
	DeploymentID uuid.UUID `json:"deploymentId"`
	FileCount    int       `json:"fileCount"`
	TotalSize    int64     `json:"totalSize"`
}

type TemplateDeployResult struct {
	DeploymentID  uuid.UUID `json:"deploymentId"`
	FilesDeployed int       `json:"filesDeployed"`
	SiteURL       string    `json:"siteUrl"`
	URLs          []string  `json:"urls"`
}

type SiteInfo struct {
	UserID           string             `json:"userId"`
	SiteURL          *string            `json:"siteUrl,omitempty"`
	LatestDeployment *domain.Deployment `json:"latestDeployment,omitempty"`
}

// DeployService наполняет префиксы сайтов и шаблонов. Каждое изменение
// префикса выполняется под арендой и оставляет запись в deployments.
type DeployService struct {
	templates   TemplateReader
	deployments DeploymentStore
	sites       SiteStore
	recorder    *MetadataRecorder
	locker      Locker
	metrics     *MetricsService
	writer      *ObjectWriter
	cleaner     *PrefixCleaner
	copier      *TemplateCopier
	opts        DeployOptions
	now         func() time.Time
	logger      *zap.Logger
}

func NewDeployService(
	storage s3.Storage,
	templates TemplateReader,
	deployments DeploymentStore,
	sites SiteStore,
	recorder *MetadataRecorder,
	locker Locker,
	metrics *MetricsService,
	opts DeployOptions,
	logger *zap.Logger,
) *DeployService {
	logger = logger.Named("deploy")
	return &DeployService{
		templates:   templates,
		deployments: deployments,
		sites:       sites,
		recorder:    recorder,
		locker:      locker,
		metrics:     metrics,
		writer:      NewObjectWriter(storage, logger),
		cleaner:     NewPrefixCleaner(storage, logger),
		copier:      NewTemplateCopier(storage, opts.CopyConcurrency, logger),
		opts:        opts,
		now:         time.Now,
		logger:      logger,
	}
}

// DeployArchiveToSite заменяет содержимое сайта пользователя файлами архива
func (s *DeployService) DeployArchiveToSite(ctx context.Context, caller domain.Caller, filename string, data []byte) (*SiteDeployResult, error) {
	if !caller.Authenticated() {
		return nil, apperror.ErrUnauthorized
	}

	prefix, err := sitePrefix(caller.ID)
	if err != nil {
		return nil, err
	}

	entries, err := s.extract(filename, data)
	if err != nil {
		return nil, err
	}

	d, err := s.run(ctx, deployPlan{
		prefix: prefix,
		kind:   domain.DeploymentSiteArchive,
		source: filename,
		apply: func(ctx context.Context, _ bool) (int, int64, error) {
			return s.replaceFiles(ctx, prefix, entries)
		},
	})
	if err != nil {
		return nil, err
	}

	siteURL := s.rememberSite(ctx, caller)
	return &SiteDeployResult{
		DeploymentID:  d.ID,
		SiteURL:       siteURL,
		FilesDeployed: d.FilesWritten,
		TotalSize:     d.BytesWritten,
	}, nil
}

// DeployArchiveToTemplate заменяет файлы шаблона и пересчитывает его сводку
func (s *DeployService) DeployArchiveToTemplate(ctx context.Context, caller domain.Caller, templateID uuid.UUID, filename string, data []byte) (*TemplateUploadResult, error) {
	if !caller.Authenticated() {
		return nil, apperror.ErrUnauthorized
	}
	if !CanManageTemplates(caller) {
		return nil, apperror.ErrForbidden
	}

	tpl, err := s.getTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}

	entries, err := s.extract(filename, data)
	if err != nil {
		return nil, err
	}

	prefix := domain.TemplatePrefix(tpl.ID)
	var meta *domain.TemplateMetadata
	d, err := s.run(ctx, deployPlan{
		prefix: prefix,
		kind:   domain.DeploymentTemplateArchive,
		source: filename,
		apply: func(ctx context.Context, _ bool) (int, int64, error) {
			files, bytes, err := s.replaceFiles(ctx, prefix, entries)

			// Сводка пересчитывается под арендой и после неудачной записи тоже
			scanned, scanErr := s.recorder.Rescan(context.WithoutCancel(ctx), tpl.ID)
			if err != nil {
				if scanErr != nil {
					s.logger.Error("failed to rescan template after failed upload",
						zap.String("template_id", tpl.ID.String()),
						zap.Error(scanErr),
					)
				}
				return files, bytes, err
			}
			if scanErr != nil {
				return files, bytes, scanErr
			}
			meta = scanned
			return files, bytes, nil
		},
	})
	if err != nil {
		return nil, err
	}

	return &TemplateUploadResult{
		TemplateID:   tpl.ID,
		DeploymentID: d.ID,
		FileCount:    meta.FileCount,
		TotalSize:    meta.TotalSize,
	}, nil
}

// DeployTemplateToSite копирует файлы шаблона в сайт пользователя
func (s *DeployService) DeployTemplateToSite(ctx context.Context, caller domain.Caller, req DeployTemplateRequest) (*TemplateDeployResult, error) {
	if !caller.Authenticated() {
		return nil, apperror.ErrUnauthorized
	}

	tpl, err := s.getTemplate(ctx, req.TemplateID)
	if err != nil {
		return nil, err
	}
	if !tpl.IsActive || !CanViewTemplate(caller, tpl) {
		return nil, apperror.Clone(apperror.ErrNotFound, "template not found")
	}
	if tpl.FileCount == 0 {
		return nil, apperror.ErrEmptyTemplate
	}

	source := domain.TemplatePrefix(tpl.ID)
	prefix, err := sitePrefix(caller.ID)
	if err != nil {
		return nil, err
	}

	var (
		snapshot []domain.StorageObject
		revision uuid.UUID
	)
	d, err := s.run(ctx, deployPlan{
		prefix: prefix,
		kind:   domain.DeploymentTemplateCopy,
		source: source,
		prepare: func(ctx context.Context, dirty bool) error {
			rev, err := s.templateRevision(ctx, source)
			if err != nil {
				return err
			}
			revision = rev

			// Недописанный префикс не считается существующим сайтом
			if !dirty && !req.ReplaceExisting {
				empty, err := s.cleaner.IsEmpty(ctx, prefix)
				if err != nil {
					return fmt.Errorf("failed to inspect site: %w", err)
				}
				if !empty {
					return apperror.ErrSiteExists
				}
			}

			objects, err := s.copier.Snapshot(ctx, source)
			if err != nil {
				return fmt.Errorf("failed to list template: %w", err)
			}
			if len(objects) == 0 {
				return apperror.ErrEmptyTemplate
			}
			snapshot = objects
			return nil
		},
		apply: func(ctx context.Context, dirty bool) (int, int64, error) {
			if dirty || req.ReplaceExisting {
				if _, err := s.cleaner.Clean(ctx, prefix); err != nil {
					return 0, 0, fmt.Errorf("failed to clean site: %w", err)
				}
			}
			files, bytes, err := s.copier.Copy(ctx, snapshot, source, prefix)
			if err != nil {
				return files, bytes, err
			}

			// Шаблон перезаливали во время копирования
			rev, err := s.templateRevision(ctx, source)
			if err != nil {
				return files, bytes, err
			}
			if rev != revision {
				return files, bytes, apperror.Clone(apperror.ErrTemplateIncomplete, "template changed during copy")
			}
			return files, bytes, nil
		},
	})
	if err != nil {
		return nil, err
	}

	siteURL := s.rememberSite(ctx, caller)
	return &TemplateDeployResult{
		DeploymentID:  d.ID,
		FilesDeployed: d.FilesWritten,
		SiteURL:       siteURL,
		URLs:          []string{s.prefixURL(prefix), siteURL},
	}, nil
}

// LatestDeployment возвращает последнюю запись о деплое сайта пользователя
func (s *DeployService) LatestDeployment(ctx context.Context, caller domain.Caller) (*domain.Deployment, error) {
	if !caller.Authenticated() {
		return nil, apperror.ErrUnauthorized
	}

	prefix, err := sitePrefix(caller.ID)
	if err != nil {
		return nil, err
	}

	d, err := s.deployments.Latest(ctx, prefix)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperror.Clone(apperror.ErrNotFound, "no deployments yet")
		}
		return nil, fmt.Errorf("failed to load deployment: %w", err)
	}
	return d, nil
}

// SiteInfo возвращает сохраненный адрес сайта и последний деплой
func (s *DeployService) SiteInfo(ctx context.Context, caller domain.Caller) (*SiteInfo, error) {
	if !caller.Authenticated() {
		return nil, apperror.ErrUnauthorized
	}

	prefix, err := sitePrefix(caller.ID)
	if err != nil {
		return nil, err
	}

	info := &SiteInfo{UserID: caller.ID}
	if s.sites != nil {
		user, err := s.sites.GetByID(ctx, caller.ID)
		switch {
		case err == nil:
			info.SiteURL = user.SiteURL
		case errors.Is(err, repository.ErrNotFound):
		default:
			return nil, fmt.Errorf("failed to load user: %w", err)
		}
	}

	latest, err := s.deployments.Latest(ctx, prefix)
	switch {
	case err == nil:
		info.LatestDeployment = latest
	case errors.Is(err, repository.ErrNotFound):
	default:
		return nil, fmt.Errorf("failed to load deployment: %w", err)
	}

	return info, nil
}

// SweepStalePending помечает брошенные pending записи как failed
func (s *DeployService) SweepStalePending(ctx context.Context) (int64, error) {
	if s.opts.StalePendingAfter <= 0 {
		return 0, nil
	}

	n, err := s.deployments.FailStalePending(ctx, s.now().Add(-s.opts.StalePendingAfter))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Warn("stale deployments marked failed", zap.Int64("count", n))
	}
	return n, nil
}

// SiteURL - публичный адрес главной страницы сайта
func (s *DeployService) SiteURL(userID string) string {
	return s.prefixURL(domain.SitePrefix(userID)) + domain.IndexPage
}

func (s *DeployService) prefixURL(prefix string) string {
	return strings.TrimRight(s.opts.PublicBaseURL, "/") + "/" + prefix
}

// rememberSite сохраняет адрес сайта в профиле. Ошибка не отменяет
// уже зафиксированный деплой.
func (s *DeployService) rememberSite(ctx context.Context, caller domain.Caller) string {
	siteURL := s.SiteURL(caller.ID)
	if s.sites == nil {
		return siteURL
	}
	if err := s.sites.SetSiteURL(ctx, caller.ID, caller.Role, siteURL); err != nil {
		s.logger.Error("failed to store site url", zap.String("user_id", caller.ID), zap.Error(err))
	}
	return siteURL
}

func (s *DeployService) getTemplate(ctx context.Context, id uuid.UUID) (*domain.Template, error) {
	tpl, err := s.templates.GetByID(ctx, id)
	if err != nil {
		return nil, templateLookupError(err)
	}
	return tpl, nil
}

// templateRevision возвращает последнюю загрузку файлов шаблона.
// Незавершенная или упавшая загрузка делает шаблон непригодным для копирования.
func (s *DeployService) templateRevision(ctx context.Context, prefix string) (uuid.UUID, error) {
	latest, err := s.deployments.Latest(ctx, prefix)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return uuid.Nil, nil
		}
		return uuid.Nil, fmt.Errorf("failed to load template deployment: %w", err)
	}
	if latest.Dirty() {
		return uuid.Nil, apperror.ErrTemplateIncomplete
	}
	return latest.ID, nil
}

func (s *DeployService) replaceFiles(ctx context.Context, prefix string, entries []domain.ArchiveEntry) (int, int64, error) {
	if _, err := s.cleaner.Clean(ctx, prefix); err != nil {
		return 0, 0, fmt.Errorf("failed to clean %s: %w", prefix, err)
	}
	return s.writer.WriteAll(ctx, prefix, entries)
}

// extract проверяет архив до любых обращений к хранилищу
func (s *DeployService) extract(filename string, data []byte) ([]domain.ArchiveEntry, error) {
	if !strings.EqualFold(path.Ext(filename), archiveExtension) {
		return nil, apperror.Clone(apperror.ErrValidation, "file must be a .zip archive")
	}
	if s.opts.MaxArchiveBytes > 0 && int64(len(data)) > s.opts.MaxArchiveBytes {
		return nil, apperror.ErrArchiveTooLarge
	}

	entries, err := archive.Extract(data, s.opts.Limits)
	switch {
	case err == nil:
		return entries, nil
	case errors.Is(err, archive.ErrMissingEntryPoint):
		return nil, apperror.ErrMissingEntryPoint
	case errors.Is(err, archive.ErrArchiveTooLarge):
		return nil, apperror.WithCause(apperror.ErrArchiveTooLarge, err)
	default:
		return nil, apperror.WithCause(apperror.Clone(apperror.ErrInvalidArchive, err.Error()), err)
	}
}

// deployPlan описывает одно изменение префикса. prepare выполняется под
// арендой, но до записи в deployments, и не должен мутировать хранилище.
type deployPlan struct {
	prefix  string
	kind    domain.DeploymentKind
	source  string
	prepare func(ctx context.Context, dirty bool) error
	apply   func(ctx context.Context, dirty bool) (int, int64, error)
}

func (s *DeployService) run(ctx context.Context, plan deployPlan) (*domain.Deployment, error) {
	lease, err := s.locker.Acquire(ctx, plan.prefix, s.opts.LeaseTTL)
	if err != nil {
		if errors.Is(err, ErrLockBusy) {
			return nil, apperror.ErrDeployInProgress
		}
		return nil, fmt.Errorf("failed to lock %s: %w", plan.prefix, err)
	}
	defer releaseLease(ctx, lease, plan.prefix, s.logger)

	dirty, err := s.isDirty(ctx, plan.prefix)
	if err != nil {
		return nil, err
	}

	if plan.prepare != nil {
		if err := plan.prepare(ctx, dirty); err != nil {
			return nil, err
		}
	}

	d := &domain.Deployment{
		ID:           uuid.New(),
		TargetPrefix: plan.prefix,
		Kind:         plan.kind,
		Source:       plan.source,
	}
	if err := s.deployments.Create(ctx, d); err != nil {
		return nil, fmt.Errorf("failed to record deployment: %w", err)
	}

	log := s.logger.With(
		zap.String("deployment_id", d.ID.String()),
		zap.String("prefix", plan.prefix),
		zap.String("kind", string(plan.kind)),
	)
	if dirty {
		log.Warn("previous deployment left prefix dirty, cleaning before write")
	}

	files, bytes, applyErr := plan.apply(ctx, dirty)
	d.FilesWritten = files
	d.BytesWritten = bytes

	// Итог фиксируем даже если клиент отключился
	finishCtx := context.WithoutCancel(ctx)
	if applyErr != nil {
		d.Status = domain.DeploymentFailed
		cause := applyErr.Error()
		d.Error = &cause
		if err := s.deployments.MarkFailed(finishCtx, d.ID, files, bytes, cause); err != nil {
			log.Error("failed to mark deployment failed", zap.Error(err))
		}
		s.metrics.ObserveDeployment(plan.kind, domain.DeploymentFailed, files)
		log.Error("deployment failed", zap.Int("count", files), zap.Error(applyErr))
		return nil, applyErr
	}

	if err := s.deployments.MarkCommitted(finishCtx, d.ID, files, bytes); err != nil {
		s.metrics.ObserveDeployment(plan.kind, domain.DeploymentFailed, files)
		return nil, fmt.Errorf("failed to commit deployment: %w", err)
	}
	d.Status = domain.DeploymentCommitted
	finished := s.now()
	d.FinishedAt = &finished

	s.metrics.ObserveDeployment(plan.kind, domain.DeploymentCommitted, files)
	log.Info("deployment committed", zap.Int("count", files), zap.Int64("bytes", bytes))
	return d, nil
}

func (s *DeployService) isDirty(ctx context.Context, prefix string) (bool, error) {
	latest, err := s.deployments.Latest(ctx, prefix)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to load last deployment: %w", err)
	}
	return latest.Dirty(), nil
}
