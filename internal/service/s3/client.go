package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"sitehost/internal/domain"
)

const (
	defaultTimeout = 30 * time.Second
)

// objectAPI - подмножество методов SDK, которые использует клиент
type objectAPI interface {
	s3.ListObjectsV2APIClient
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// Client предоставляет методы для работы с S3-совместимым хранилищем
type Client struct {
	api      objectAPI
	bucket   string
	pageSize int32
	logger   *zap.Logger
}

var _ Storage = (*Client)(nil)

// NewClient создает новый экземпляр клиента S3 и проверяет доступ к бакету
func NewClient(conf *Config, logger *zap.Logger) (*Client, error) {
	if conf == nil {
		return nil, fmt.Errorf("configuration is required")
	}

	if conf.AccessKeyID == "" || conf.SecretAccessKey == "" || conf.Bucket == "" {
		return nil, fmt.Errorf("missing required configuration: accessKeyID, secretAccessKey, and bucket are required")
	}

	creds := aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(
		conf.AccessKeyID,
		conf.SecretAccessKey,
		"",
	))

	sdk := s3.New(s3.Options{
		BaseEndpoint:     aws.String(conf.Endpoint),
		Region:           conf.Region,
		Credentials:      creds,
		UsePathStyle:     conf.UsePathStyle,
		RetryMode:        aws.RetryModeAdaptive,
		RetryMaxAttempts: 3,
	})

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	_, err := sdk.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(conf.Bucket),
	})
	if err != nil {
		return nil, fmt.Errorf("unable to access bucket %s: %w", conf.Bucket, err)
	}

	return newClient(sdk, conf.Bucket, logger), nil
}

func newClient(api objectAPI, bucket string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		api:      api,
		bucket:   bucket,
		pageSize: MaxKeysPerPage,
		logger:   logger.Named("s3"),
	}
}

// ListObjects перечисляет все объекты под префиксом
func (h *Client) ListObjects(ctx context.Context, prefix string) iter.Seq2[domain.StorageObject, error] {
	return func(yield func(domain.StorageObject, error) bool) {
		paginator := s3.NewListObjectsV2Paginator(h.api, &s3.ListObjectsV2Input{
			Bucket:  aws.String(h.bucket),
			Prefix:  aws.String(prefix),
			MaxKeys: aws.Int32(h.pageSize),
		})

		pages := 0
		for paginator.HasMorePages() {
			if err := ctx.Err(); err != nil {
				yield(domain.StorageObject{}, err)
				return
			}

			page, err := paginator.NextPage(ctx)
			if err != nil {
				yield(domain.StorageObject{}, fmt.Errorf("failed to list objects under %s: %w", prefix, err))
				return
			}
			pages++

			for _, obj := range page.Contents {
				if !yield(toStorageObject(obj), nil) {
					return
				}
			}
		}

		h.logger.Debug("listed prefix", zap.String("prefix", prefix), zap.Int("pages", pages))
	}
}

// ListDirectory возвращает объекты и вложенные "папки" одного уровня
func (h *Client) ListDirectory(ctx context.Context, prefix, delimiter string) (*domain.DirectoryListing, error) {
	if delimiter == "" {
		delimiter = DefaultDelimiter
	}

	paginator := s3.NewListObjectsV2Paginator(h.api, &s3.ListObjectsV2Input{
		Bucket:    aws.String(h.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String(delimiter),
		MaxKeys:   aws.Int32(h.pageSize),
	})

	listing := &domain.DirectoryListing{
		Prefix:  prefix,
		Objects: []domain.StorageObject{},
		Folders: []string{},
	}
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list directory %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			listing.Objects = append(listing.Objects, toStorageObject(obj))
		}
		for _, cp := range page.CommonPrefixes {
			listing.Folders = append(listing.Folders, aws.ToString(cp.Prefix))
		}
	}

	return listing, nil
}

// PutObject загружает байты в S3 с указанным Content-Type
func (h *Client) PutObject(ctx context.Context, key string, data []byte, contentType string) error {
	if key == "" {
		return fmt.Errorf("key is required")
	}

	_, err := h.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(h.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s to S3: %w", key, err)
	}

	return nil
}

// GetObject получает объект из S3
func (h *Client) GetObject(ctx context.Context, key string) (S3Object, error) {
	result, err := h.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(h.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return nil, fmt.Errorf("failed to get object from S3: %w", err)
	}

	return &s3Object{
		ReadCloser:    result.Body,
		contentLength: aws.ToInt64(result.ContentLength),
		contentType:   aws.ToString(result.ContentType),
	}, nil
}

// HeadObject возвращает метаданные объекта или ErrObjectNotFound
func (h *Client) HeadObject(ctx context.Context, key string) (*domain.StorageObject, error) {
	result, err := h.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(h.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, key)
		}
		return nil, fmt.Errorf("failed to check object existence: %w", err)
	}

	return &domain.StorageObject{
		Key:          key,
		Size:         aws.ToInt64(result.ContentLength),
		LastModified: aws.ToTime(result.LastModified),
		ETag:         aws.ToString(result.ETag),
	}, nil
}

// CopyObject копирует объект внутри бакета на стороне сервера
func (h *Client) CopyObject(ctx context.Context, srcKey, dstKey string) error {
	_, err := h.api.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(h.bucket),
		CopySource: aws.String(copySource(h.bucket, srcKey)),
		Key:        aws.String(dstKey),
	})
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("%w: %s", ErrObjectNotFound, srcKey)
		}
		return fmt.Errorf("failed to copy %s to %s: %w", srcKey, dstKey, err)
	}

	return nil
}

// DeleteObjects удаляет объекты пакетами. Ошибки отдельных ключей собираются
// в одну ошибку, уже удаленные ключи не восстанавливаются.
func (h *Client) DeleteObjects(ctx context.Context, keys []string) (int, error) {
	deleted := 0
	for start := 0; start < len(keys); start += MaxDeleteBatch {
		end := min(start+MaxDeleteBatch, len(keys))

		ids := make([]types.ObjectIdentifier, 0, end-start)
		for _, key := range keys[start:end] {
			ids = append(ids, types.ObjectIdentifier{Key: aws.String(key)})
		}

		out, err := h.api.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(h.bucket),
			Delete: &types.Delete{
				Objects: ids,
				Quiet:   aws.Bool(true),
			},
		})
		if err != nil {
			return deleted, fmt.Errorf("failed to delete objects batch: %w", err)
		}

		if len(out.Errors) > 0 {
			failed := make([]string, 0, len(out.Errors))
			for _, e := range out.Errors {
				failed = append(failed, fmt.Sprintf("%s (%s)", aws.ToString(e.Key), aws.ToString(e.Code)))
			}
			deleted += len(ids) - len(out.Errors)
			return deleted, fmt.Errorf("failed to delete %d objects: %s", len(out.Errors), strings.Join(failed, ", "))
		}

		deleted += len(ids)
	}

	return deleted, nil
}

func toStorageObject(obj types.Object) domain.StorageObject {
	return domain.StorageObject{
		Key:          aws.ToString(obj.Key),
		Size:         aws.ToInt64(obj.Size),
		LastModified: aws.ToTime(obj.LastModified),
		ETag:         aws.ToString(obj.ETag),
	}
}

// copySource кодирует "bucket/key" посегментно, сохраняя разделители
func copySource(bucket, key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return bucket + "/" + strings.Join(segments, "/")
}

func isNotFound(err error) bool {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var nf *types.NotFound
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return true
		}
	}
	return false
}
