// storage.go
package s3

import (
	"context"
	"errors"
	"io"
	"iter"

	"sitehost/internal/domain"
)

const (
	// Лимиты S3 API на одну страницу листинга и один пакет удаления
	MaxKeysPerPage   = 1000
	MaxDeleteBatch   = 1000
	DefaultDelimiter = "/"
)

var ErrObjectNotFound = errors.New("object not found")

// S3Object определяет интерфейс для объектов S3
type S3Object interface {
	io.ReadCloser
	ContentLength() int64
	ContentType() string
}

// s3Object реализует интерфейс S3Object
type s3Object struct {
	io.ReadCloser
	contentLength int64
	contentType   string
}

func (o *s3Object) ContentLength() int64 {
	return o.contentLength
}

func (o *s3Object) ContentType() string {
	return o.contentType
}

// Storage определяет интерфейс для работы с S3-совместимым хранилищем
type Storage interface {
	// ListObjects лениво перечисляет объекты под префиксом постранично.
	// Прерывание цикла останавливает загрузку следующих страниц.
	ListObjects(ctx context.Context, prefix string) iter.Seq2[domain.StorageObject, error]
	ListDirectory(ctx context.Context, prefix, delimiter string) (*domain.DirectoryListing, error)
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
	GetObject(ctx context.Context, key string) (S3Object, error)
	HeadObject(ctx context.Context, key string) (*domain.StorageObject, error)
	CopyObject(ctx context.Context, srcKey, dstKey string) error
	// DeleteObjects удаляет ключи пакетами по MaxDeleteBatch и возвращает число удаленных
	DeleteObjects(ctx context.Context, keys []string) (int, error)
}
