package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sitehost/internal/apperror"
	"sitehost/internal/archive"
	"sitehost/internal/domain"
	"sitehost/internal/repository"
	"sitehost/internal/service/s3"
)

// MetadataRecorder поддерживает сводку шаблона после файловых операций.
// Флаг index.html пересчитывается сканированием префикса, только когда
// операция касается страницы index.html. Rescan пересчитывает все.
type MetadataRecorder struct {
	storage s3.Storage
	store   MetadataStore
	now     func() time.Time
	logger  *zap.Logger
}

func NewMetadataRecorder(storage s3.Storage, store MetadataStore, logger *zap.Logger) *MetadataRecorder {
	return &MetadataRecorder{storage: storage, store: store, now: time.Now, logger: logger}
}

// RecordPut учитывает создание (existed=false) или перезапись файла
func (r *MetadataRecorder) RecordPut(ctx context.Context, id uuid.UUID, relPath string, newSize, prevSize int64, existed bool) (*domain.TemplateMetadata, error) {
	delta := repository.MetadataDelta{Bytes: newSize - prevSize, At: r.now().UTC()}
	if !existed {
		delta.Files = 1
		delta.Bytes = newSize
	}
	return r.apply(ctx, id, relPath, delta)
}

func (r *MetadataRecorder) RecordDelete(ctx context.Context, id uuid.UUID, relPath string, size int64) (*domain.TemplateMetadata, error) {
	delta := repository.MetadataDelta{Files: -1, Bytes: -size, At: r.now().UTC()}
	return r.apply(ctx, id, relPath, delta)
}

func (r *MetadataRecorder) apply(ctx context.Context, id uuid.UUID, relPath string, delta repository.MetadataDelta) (*domain.TemplateMetadata, error) {
	if archive.IsIndexPage(relPath) {
		has, err := r.hasIndexPage(ctx, domain.TemplatePrefix(id))
		if err != nil {
			return nil, err
		}
		delta.HasIndexHTML = &has
	}

	m, err := r.store.ApplyMetadataDelta(ctx, id, delta)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperror.Clone(apperror.ErrNotFound, "template not found")
		}
		return nil, fmt.Errorf("failed to update template metadata: %w", err)
	}
	return m, nil
}

// Rescan пересчитывает сводку по полному листингу префикса
func (r *MetadataRecorder) Rescan(ctx context.Context, id uuid.UUID) (*domain.TemplateMetadata, error) {
	prefix := domain.TemplatePrefix(id)

	var m domain.TemplateMetadata
	for obj, err := range r.storage.ListObjects(ctx, prefix) {
		if err != nil {
			return nil, err
		}
		m.FileCount++
		m.TotalSize += obj.Size
		if archive.IsIndexPage(strings.TrimPrefix(obj.Key, prefix)) {
			m.HasIndexHTML = true
		}
	}
	now := r.now().UTC()
	m.LastModified = &now

	if err := r.store.ReplaceMetadata(ctx, id, m); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperror.Clone(apperror.ErrNotFound, "template not found")
		}
		return nil, fmt.Errorf("failed to replace template metadata: %w", err)
	}

	r.logger.Debug("template metadata rescanned",
		zap.String("template_id", id.String()),
		zap.Int("count", m.FileCount),
	)
	return &m, nil
}

func (r *MetadataRecorder) hasIndexPage(ctx context.Context, prefix string) (bool, error) {
	for obj, err := range r.storage.ListObjects(ctx, prefix) {
		if err != nil {
			return false, err
		}
		if archive.IsIndexPage(strings.TrimPrefix(obj.Key, prefix)) {
			return true, nil
		}
	}
	return false, nil
}
