package service

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"sitehost/internal/archive"
	"sitehost/internal/domain"
	"sitehost/internal/service/s3"
)

const defaultCopyConcurrency = 8

// checkPrefix не дает мутировать что-либо вне префиксов сайтов и шаблонов
func checkPrefix(prefix string) error {
	for _, root := range []string{domain.SitesRoot, domain.TemplatesRoot} {
		if strings.HasPrefix(prefix, root) && len(prefix) > len(root) && strings.HasSuffix(prefix, "/") {
			return nil
		}
	}
	return fmt.Errorf("refusing to touch prefix %q", prefix)
}

// ObjectWriter записывает файлы архива под префикс
type ObjectWriter struct {
	storage s3.Storage
	logger  *zap.Logger
}

func NewObjectWriter(storage s3.Storage, logger *zap.Logger) *ObjectWriter {
	return &ObjectWriter{storage: storage, logger: logger}
}

// WriteAll пишет файлы по одному и останавливается на первой ошибке.
// Уже записанные объекты остаются в хранилище.
func (w *ObjectWriter) WriteAll(ctx context.Context, prefix string, entries []domain.ArchiveEntry) (int, int64, error) {
	if err := checkPrefix(prefix); err != nil {
		return 0, 0, err
	}

	var (
		written int
		bytes   int64
	)
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return written, bytes, err
		}

		key := prefix + entry.Path
		if err := w.storage.PutObject(ctx, key, entry.Content, archive.ContentType(entry.Path)); err != nil {
			return written, bytes, fmt.Errorf("failed to write %s: %w", entry.Path, err)
		}
		written++
		bytes += int64(len(entry.Content))
	}

	w.logger.Debug("objects written", zap.String("prefix", prefix), zap.Int("count", written))
	return written, bytes, nil
}

// PrefixCleaner удаляет все объекты под префиксом
type PrefixCleaner struct {
	storage s3.Storage
	logger  *zap.Logger
}

func NewPrefixCleaner(storage s3.Storage, logger *zap.Logger) *PrefixCleaner {
	return &PrefixCleaner{storage: storage, logger: logger}
}

// Clean удаляет объекты пакетами по мере листинга и возвращает число удаленных
func (c *PrefixCleaner) Clean(ctx context.Context, prefix string) (int, error) {
	if err := checkPrefix(prefix); err != nil {
		return 0, err
	}

	deleted := 0
	batch := make([]string, 0, s3.MaxDeleteBatch)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := c.storage.DeleteObjects(ctx, batch)
		deleted += n
		batch = batch[:0]
		return err
	}

	for obj, err := range c.storage.ListObjects(ctx, prefix) {
		if err != nil {
			return deleted, err
		}
		batch = append(batch, obj.Key)
		if len(batch) == s3.MaxDeleteBatch {
			if err := flush(); err != nil {
				return deleted, err
			}
		}
	}
	if err := flush(); err != nil {
		return deleted, err
	}

	if deleted > 0 {
		c.logger.Info("prefix cleaned", zap.String("prefix", prefix), zap.Int("count", deleted))
	}
	return deleted, nil
}

// IsEmpty читает только первую страницу листинга
func (c *PrefixCleaner) IsEmpty(ctx context.Context, prefix string) (bool, error) {
	for _, err := range c.storage.ListObjects(ctx, prefix) {
		return false, err
	}
	return true, nil
}

// TemplateCopier копирует файлы шаблона в сайт на стороне хранилища
type TemplateCopier struct {
	storage     s3.Storage
	concurrency int
	logger      *zap.Logger
}

func NewTemplateCopier(storage s3.Storage, concurrency int, logger *zap.Logger) *TemplateCopier {
	if concurrency < 1 {
		concurrency = defaultCopyConcurrency
	}
	return &TemplateCopier{storage: storage, concurrency: concurrency, logger: logger}
}

// Snapshot фиксирует набор объектов источника до начала копирования
func (c *TemplateCopier) Snapshot(ctx context.Context, srcPrefix string) ([]domain.StorageObject, error) {
	var objects []domain.StorageObject
	for obj, err := range c.storage.ListObjects(ctx, srcPrefix) {
		if err != nil {
			return nil, err
		}
		objects = append(objects, obj)
	}
	return objects, nil
}

// Copy копирует снимок параллельно. Первая ошибка отменяет оставшиеся копии,
// уже скопированные объекты не откатываются.
func (c *TemplateCopier) Copy(ctx context.Context, objects []domain.StorageObject, srcPrefix, dstPrefix string) (int, int64, error) {
	if err := checkPrefix(dstPrefix); err != nil {
		return 0, 0, err
	}

	var (
		copied atomic.Int64
		bytes  atomic.Int64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for _, obj := range objects {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rel := strings.TrimPrefix(obj.Key, srcPrefix)
			if err := c.storage.CopyObject(gctx, obj.Key, dstPrefix+rel); err != nil {
				return fmt.Errorf("failed to copy %s: %w", rel, err)
			}
			copied.Add(1)
			bytes.Add(obj.Size)
			return nil
		})
	}

	err := g.Wait()
	// Отмена до запуска оставшихся копий не дает ошибки из errgroup
	if err == nil && int(copied.Load()) < len(objects) {
		err = ctx.Err()
		if err == nil {
			err = fmt.Errorf("copied %d of %d objects", copied.Load(), len(objects))
		}
		err = fmt.Errorf("template copy interrupted: %w", err)
	}
	c.logger.Debug("template copied",
		zap.String("source", srcPrefix),
		zap.String("prefix", dstPrefix),
		zap.Int64("count", copied.Load()),
	)
	return int(copied.Load()), bytes.Load(), err
}
