package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sitehost/internal/apperror"
	"sitehost/internal/archive"
	"sitehost/internal/domain"
	"sitehost/internal/service/s3"
)

type TargetKind string

const (
	TargetSite     TargetKind = "site"
	TargetTemplate TargetKind = "template"
)

// Target - префикс, с которым работает файловый менеджер
type Target struct {
	Kind TargetKind
	ID   string
}

func SiteTarget(userID string) Target {
	return Target{Kind: TargetSite, ID: userID}
}

func TemplateTarget(id uuid.UUID) Target {
	return Target{Kind: TargetTemplate, ID: id.String()}
}

// resolvedTarget - проверенный таргет с префиксом ключей
type resolvedTarget struct {
	prefix     string
	templateID uuid.UUID
	template   bool
}

type FileManager struct {
	storage   s3.Storage
	templates TemplateReader
	recorder  *MetadataRecorder
	locker    Locker
	leaseTTL  time.Duration
	logger    *zap.Logger
}

func NewFileManager(storage s3.Storage, templates TemplateReader, recorder *MetadataRecorder, locker Locker, leaseTTL time.Duration, logger *zap.Logger) *FileManager {
	return &FileManager{
		storage:   storage,
		templates: templates,
		recorder:  recorder,
		locker:    locker,
		leaseTTL:  leaseTTL,
		logger:    logger.Named("files"),
	}
}

// List показывает один уровень "папки" dir
func (m *FileManager) List(ctx context.Context, caller domain.Caller, target Target, dir string) (*domain.FileListing, error) {
	rt, err := m.resolve(ctx, caller, target)
	if err != nil {
		return nil, err
	}

	dir = strings.Trim(strings.ReplaceAll(dir, "\\", "/"), "/")
	listPrefix := rt.prefix
	if dir != "" {
		clean, err := archive.CleanPath(dir)
		if err != nil {
			return nil, apperror.Clone(apperror.ErrValidation, "invalid directory")
		}
		dir = clean
		listPrefix += dir + "/"
	}

	listing, err := m.storage.ListDirectory(ctx, listPrefix, s3.DefaultDelimiter)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}

	result := &domain.FileListing{
		Dir:     dir,
		Files:   make([]domain.SiteFile, 0, len(listing.Objects)),
		Folders: make([]string, 0, len(listing.Folders)),
	}
	for _, obj := range listing.Objects {
		rel := strings.TrimPrefix(obj.Key, rt.prefix)
		if rel == "" || strings.HasSuffix(rel, "/") {
			continue
		}
		result.Files = append(result.Files, domain.SiteFile{
			Path:         rel,
			Size:         obj.Size,
			ContentType:  archive.ContentType(rel),
			LastModified: obj.LastModified,
		})
	}
	for _, folder := range listing.Folders {
		result.Folders = append(result.Folders, strings.TrimPrefix(folder, rt.prefix))
	}

	return result, nil
}

func (m *FileManager) Get(ctx context.Context, caller domain.Caller, target Target, filePath string) (*domain.FileContent, error) {
	rt, err := m.resolve(ctx, caller, target)
	if err != nil {
		return nil, err
	}
	rel, err := cleanFilePath(filePath)
	if err != nil {
		return nil, err
	}

	obj, err := m.storage.GetObject(ctx, rt.prefix+rel)
	if err != nil {
		if errors.Is(err, s3.ErrObjectNotFound) {
			return nil, apperror.Clone(apperror.ErrNotFound, "file not found")
		}
		return nil, err
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	contentType := obj.ContentType()
	if contentType == "" {
		contentType = archive.ContentType(rel)
	}
	return &domain.FileContent{Path: rel, ContentType: contentType, Data: data}, nil
}

// Put создает или перезаписывает файл
func (m *FileManager) Put(ctx context.Context, caller domain.Caller, target Target, filePath string, content []byte) (*domain.SiteFile, error) {
	rt, err := m.resolve(ctx, caller, target)
	if err != nil {
		return nil, err
	}
	rel, err := cleanFilePath(filePath)
	if err != nil {
		return nil, err
	}

	lease, err := m.lock(ctx, rt.prefix)
	if err != nil {
		return nil, err
	}
	defer releaseLease(ctx, lease, rt.prefix, m.logger)

	key := rt.prefix + rel
	existed, prevSize, err := m.stat(ctx, key)
	if err != nil {
		return nil, err
	}

	contentType := archive.ContentType(rel)
	if err := m.storage.PutObject(ctx, key, content, contentType); err != nil {
		return nil, err
	}

	if rt.template {
		if _, err := m.recorder.RecordPut(ctx, rt.templateID, rel, int64(len(content)), prevSize, existed); err != nil {
			return nil, err
		}
	}

	m.logger.Debug("file saved", zap.String("prefix", rt.prefix), zap.String("path", rel), zap.Bool("existed", existed))
	return &domain.SiteFile{
		Path:         rel,
		Size:         int64(len(content)),
		ContentType:  contentType,
		LastModified: time.Now().UTC(),
	}, nil
}

func (m *FileManager) Delete(ctx context.Context, caller domain.Caller, target Target, filePath string) error {
	rt, err := m.resolve(ctx, caller, target)
	if err != nil {
		return err
	}
	rel, err := cleanFilePath(filePath)
	if err != nil {
		return err
	}

	lease, err := m.lock(ctx, rt.prefix)
	if err != nil {
		return err
	}
	defer releaseLease(ctx, lease, rt.prefix, m.logger)

	key := rt.prefix + rel
	existed, size, err := m.stat(ctx, key)
	if err != nil {
		return err
	}
	if !existed {
		return apperror.Clone(apperror.ErrNotFound, "file not found")
	}

	if _, err := m.storage.DeleteObjects(ctx, []string{key}); err != nil {
		return err
	}

	if rt.template {
		if _, err := m.recorder.RecordDelete(ctx, rt.templateID, rel, size); err != nil {
			return err
		}
	}

	m.logger.Debug("file deleted", zap.String("prefix", rt.prefix), zap.String("path", rel))
	return nil
}

func (m *FileManager) resolve(ctx context.Context, caller domain.Caller, target Target) (*resolvedTarget, error) {
	if !caller.Authenticated() {
		return nil, apperror.ErrUnauthorized
	}

	switch target.Kind {
	case TargetSite:
		if !CanAccessSite(caller, target.ID) {
			return nil, apperror.ErrForbidden
		}
		prefix, err := sitePrefix(target.ID)
		if err != nil {
			return nil, err
		}
		return &resolvedTarget{prefix: prefix}, nil

	case TargetTemplate:
		if !CanManageTemplates(caller) {
			return nil, apperror.ErrForbidden
		}
		id, err := uuid.Parse(target.ID)
		if err != nil {
			return nil, apperror.Clone(apperror.ErrValidation, "invalid template id")
		}
		if _, err := m.templates.GetByID(ctx, id); err != nil {
			return nil, templateLookupError(err)
		}
		return &resolvedTarget{prefix: domain.TemplatePrefix(id), templateID: id, template: true}, nil
	}

	return nil, apperror.Clone(apperror.ErrValidation, "unknown target")
}

func (m *FileManager) lock(ctx context.Context, prefix string) (Lease, error) {
	lease, err := m.locker.Acquire(ctx, prefix, m.leaseTTL)
	if err != nil {
		if errors.Is(err, ErrLockBusy) {
			return nil, apperror.ErrDeployInProgress
		}
		return nil, err
	}
	return lease, nil
}

func (m *FileManager) stat(ctx context.Context, key string) (bool, int64, error) {
	obj, err := m.storage.HeadObject(ctx, key)
	if err != nil {
		if errors.Is(err, s3.ErrObjectNotFound) {
			return false, 0, nil
		}
		return false, 0, err
	}
	return true, obj.Size, nil
}

func cleanFilePath(p string) (string, error) {
	if strings.HasSuffix(p, "/") {
		return "", apperror.Clone(apperror.ErrValidation, "path must point to a file")
	}
	clean, err := archive.CleanPath(p)
	if err != nil {
		return "", apperror.Clone(apperror.ErrValidation, "invalid file path")
	}
	return clean, nil
}
