package service

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"iter"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"sitehost/internal/domain"
	"sitehost/internal/repository"
	"sitehost/internal/service/s3"
)

var errInjected = errors.New("injected failure")

type memObject struct {
	data        []byte
	contentType string
}

// memStorage - s3.Storage в памяти с журналом операций
type memStorage struct {
	mu         sync.Mutex
	objects    map[string]memObject
	ops        []string
	puts       int
	failPut    map[string]bool
	failCopy   map[string]bool
	listCalled int
	onCopy     func(srcKey string) // вызывается до копирования, без блокировки
}

var _ s3.Storage = (*memStorage)(nil)

func newMemStorage() *memStorage {
	return &memStorage{
		objects:  map[string]memObject{},
		failPut:  map[string]bool{},
		failCopy: map[string]bool{},
	}
}

func (m *memStorage) seed(key, data string) {
	m.objects[key] = memObject{data: []byte(data)}
}

func (m *memStorage) keys(prefix string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for key := range m.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, strings.TrimPrefix(key, prefix))
		}
	}
	sort.Strings(out)
	return out
}

func (m *memStorage) data(key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return string(m.objects[key].data)
}

func (m *memStorage) ListObjects(ctx context.Context, prefix string) iter.Seq2[domain.StorageObject, error] {
	return func(yield func(domain.StorageObject, error) bool) {
		m.mu.Lock()
		m.listCalled++
		var objs []domain.StorageObject
		for key, obj := range m.objects {
			if strings.HasPrefix(key, prefix) {
				objs = append(objs, domain.StorageObject{Key: key, Size: int64(len(obj.data))})
			}
		}
		m.mu.Unlock()
		sort.Slice(objs, func(i, j int) bool { return objs[i].Key < objs[j].Key })

		for _, obj := range objs {
			if err := ctx.Err(); err != nil {
				yield(domain.StorageObject{}, err)
				return
			}
			if !yield(obj, nil) {
				return
			}
		}
	}
}

func (m *memStorage) ListDirectory(_ context.Context, prefix, delimiter string) (*domain.DirectoryListing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	listing := &domain.DirectoryListing{Prefix: prefix}
	seen := map[string]bool{}
	for key, obj := range m.objects {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		rest := key[len(prefix):]
		if i := strings.Index(rest, delimiter); i >= 0 {
			folder := prefix + rest[:i+1]
			if !seen[folder] {
				seen[folder] = true
				listing.Folders = append(listing.Folders, folder)
			}
			continue
		}
		listing.Objects = append(listing.Objects, domain.StorageObject{Key: key, Size: int64(len(obj.data))})
	}
	sort.Strings(listing.Folders)
	sort.Slice(listing.Objects, func(i, j int) bool { return listing.Objects[i].Key < listing.Objects[j].Key })
	return listing, nil
}

func (m *memStorage) PutObject(_ context.Context, key string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	if m.failPut[key] {
		return errInjected
	}
	m.objects[key] = memObject{data: append([]byte(nil), data...), contentType: contentType}
	m.ops = append(m.ops, "put:"+key)
	return nil
}

func (m *memStorage) GetObject(_ context.Context, key string) (s3.S3Object, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, s3.ErrObjectNotFound
	}
	return &memReader{Reader: bytes.NewReader(obj.data), size: int64(len(obj.data)), contentType: obj.contentType}, nil
}

func (m *memStorage) HeadObject(_ context.Context, key string) (*domain.StorageObject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, s3.ErrObjectNotFound
	}
	return &domain.StorageObject{Key: key, Size: int64(len(obj.data))}, nil
}

func (m *memStorage) CopyObject(_ context.Context, srcKey, dstKey string) error {
	if m.onCopy != nil {
		m.onCopy(srcKey)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failCopy[srcKey] {
		return errInjected
	}
	obj, ok := m.objects[srcKey]
	if !ok {
		return s3.ErrObjectNotFound
	}
	m.objects[dstKey] = obj
	m.ops = append(m.ops, "copy:"+dstKey)
	return nil
}

func (m *memStorage) DeleteObjects(_ context.Context, keys []string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.objects, key)
		m.ops = append(m.ops, "delete:"+key)
	}
	return len(keys), nil
}

type memReader struct {
	*bytes.Reader
	size        int64
	contentType string
}

func (r *memReader) Close() error         { return nil }
func (r *memReader) ContentLength() int64 { return r.size }
func (r *memReader) ContentType() string  { return r.contentType }

var _ io.ReadCloser = (*memReader)(nil)

// memTemplates повторяет семантику TemplateRepository, включая GREATEST(.., 0)
type memTemplates struct {
	mu        sync.Mutex
	templates map[uuid.UUID]*domain.Template
}

var _ TemplateStore = (*memTemplates)(nil)

func newMemTemplates(templates ...*domain.Template) *memTemplates {
	m := &memTemplates{templates: map[uuid.UUID]*domain.Template{}}
	for _, t := range templates {
		m.templates[t.ID] = t
	}
	return m
}

func (m *memTemplates) Create(_ context.Context, t *domain.Template) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.CreatedAt = time.Now()
	t.UpdatedAt = t.CreatedAt
	cp := *t
	m.templates[t.ID] = &cp
	return nil
}

func (m *memTemplates) GetByID(_ context.Context, id uuid.UUID) (*domain.Template, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.templates[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memTemplates) List(_ context.Context, filter domain.TemplateFilter) ([]domain.Template, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.Template{}
	for _, t := range m.templates {
		if !filter.IncludeInactive && !t.IsActive {
			continue
		}
		if filter.Category != "" && t.Category != filter.Category {
			continue
		}
		out = append(out, *t)
	}
	return out, nil
}

func (m *memTemplates) ListVisible(_ context.Context, callerID string) ([]domain.Template, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.Template{}
	for _, t := range m.templates {
		if t.IsActive && (t.IsPublic || (t.OwnerScope != nil && *t.OwnerScope == callerID)) {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *memTemplates) Update(_ context.Context, t *domain.Template) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.templates[t.ID]; !ok {
		return repository.ErrNotFound
	}
	cp := *t
	m.templates[t.ID] = &cp
	return nil
}

func (m *memTemplates) SetActive(_ context.Context, id uuid.UUID, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.templates[id]
	if !ok {
		return repository.ErrNotFound
	}
	t.IsActive = active
	return nil
}

func (m *memTemplates) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.templates[id]; !ok {
		return repository.ErrNotFound
	}
	delete(m.templates, id)
	return nil
}

func (m *memTemplates) ApplyMetadataDelta(_ context.Context, id uuid.UUID, d repository.MetadataDelta) (*domain.TemplateMetadata, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.templates[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	t.FileCount = max(t.FileCount+d.Files, 0)
	t.TotalSize = max(t.TotalSize+d.Bytes, 0)
	if d.HasIndexHTML != nil {
		t.HasIndexHTML = *d.HasIndexHTML
	}
	at := d.At
	t.LastModified = &at
	meta := t.TemplateMetadata
	return &meta, nil
}

func (m *memTemplates) ReplaceMetadata(_ context.Context, id uuid.UUID, meta domain.TemplateMetadata) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.templates[id]
	if !ok {
		return repository.ErrNotFound
	}
	t.TemplateMetadata = meta
	return nil
}

type memDeployments struct {
	mu   sync.Mutex
	rows []*domain.Deployment
}

var _ DeploymentStore = (*memDeployments)(nil)

func (m *memDeployments) Create(_ context.Context, d *domain.Deployment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d.Status = domain.DeploymentPending
	d.StartedAt = time.Now()
	cp := *d
	m.rows = append(m.rows, &cp)
	return nil
}

func (m *memDeployments) find(id uuid.UUID) *domain.Deployment {
	for _, row := range m.rows {
		if row.ID == id {
			return row
		}
	}
	return nil
}

func (m *memDeployments) MarkCommitted(_ context.Context, id uuid.UUID, files int, bytes int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row := m.find(id)
	if row == nil {
		return repository.ErrNotFound
	}
	row.Status, row.FilesWritten, row.BytesWritten = domain.DeploymentCommitted, files, bytes
	return nil
}

func (m *memDeployments) MarkFailed(_ context.Context, id uuid.UUID, files int, bytes int64, cause string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row := m.find(id)
	if row == nil {
		return repository.ErrNotFound
	}
	row.Status, row.FilesWritten, row.BytesWritten, row.Error = domain.DeploymentFailed, files, bytes, &cause
	return nil
}

func (m *memDeployments) Latest(_ context.Context, prefix string) (*domain.Deployment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.rows) - 1; i >= 0; i-- {
		if m.rows[i].TargetPrefix == prefix {
			cp := *m.rows[i]
			return &cp, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (m *memDeployments) FailStalePending(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, row := range m.rows {
		if row.Status == domain.DeploymentPending && row.StartedAt.Before(before) {
			row.Status = domain.DeploymentFailed
			n++
		}
	}
	return n, nil
}

type memSites struct {
	mu   sync.Mutex
	urls map[string]string
}

func (m *memSites) SetSiteURL(_ context.Context, id string, _ domain.Role, siteURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.urls == nil {
		m.urls = map[string]string{}
	}
	m.urls[id] = siteURL
	return nil
}

func (m *memSites) GetByID(_ context.Context, id string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	siteURL, ok := m.urls[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &domain.User{ID: id, Role: domain.RoleUser, SiteURL: &siteURL}, nil
}

var (
	userCaller  = domain.Caller{ID: "79990001122", Role: domain.RoleUser}
	otherCaller = domain.Caller{ID: "79990003344", Role: domain.RoleUser}
	adminCaller = domain.Caller{ID: "70000000000", Role: domain.RoleAdmin}
)

// deployFixture собирает DeployService поверх хранилищ в памяти
type deployFixture struct {
	storage     *memStorage
	templates   *memTemplates
	deployments *memDeployments
	sites       *memSites
	locker      *MemoryLocker
	svc         *DeployService
}

func newDeployFixture(t *testing.T, templates ...*domain.Template) *deployFixture {
	t.Helper()
	f := &deployFixture{
		storage:     newMemStorage(),
		templates:   newMemTemplates(templates...),
		deployments: &memDeployments{},
		sites:       &memSites{},
		locker:      NewMemoryLocker(),
	}
	logger := zap.NewNop()
	recorder := NewMetadataRecorder(f.storage, f.templates, logger)
	f.svc = NewDeployService(f.storage, f.templates, f.deployments, f.sites, recorder, f.locker, NewMetricsService(), DeployOptions{
		PublicBaseURL:     "https://cdn.example.com/",
		MaxArchiveBytes:   10 << 20,
		CopyConcurrency:   4,
		LeaseTTL:          time.Minute,
		StalePendingAfter: time.Hour,
	}, logger)
	return f
}

func publicTemplate(files int) *domain.Template {
	id := uuid.New()
	return &domain.Template{
		ID:               id,
		Name:             "Landing",
		StoragePath:      domain.TemplatePrefix(id),
		IsPublic:         true,
		IsActive:         true,
		TemplateMetadata: domain.TemplateMetadata{FileCount: files},
	}
}

func buildZip(t *testing.T, files ...[2]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, f := range files {
		fw, err := w.Create(f[0])
		require.NoError(t, err)
		_, err = fw.Write([]byte(f[1]))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}
