package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"sitehost/internal/domain"
	"sitehost/internal/repository"
)

// Хранилища, от которых зависят сервисы. Реализуются репозиториями
// из internal/repository.

type TemplateReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Template, error)
}

type TemplateStore interface {
	TemplateReader
	Create(ctx context.Context, t *domain.Template) error
	List(ctx context.Context, filter domain.TemplateFilter) ([]domain.Template, error)
	ListVisible(ctx context.Context, callerID string) ([]domain.Template, error)
	Update(ctx context.Context, t *domain.Template) error
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	Delete(ctx context.Context, id uuid.UUID) error
	MetadataStore
}

type MetadataStore interface {
	ApplyMetadataDelta(ctx context.Context, id uuid.UUID, d repository.MetadataDelta) (*domain.TemplateMetadata, error)
	ReplaceMetadata(ctx context.Context, id uuid.UUID, m domain.TemplateMetadata) error
}

type DeploymentStore interface {
	Create(ctx context.Context, d *domain.Deployment) error
	MarkCommitted(ctx context.Context, id uuid.UUID, files int, bytes int64) error
	MarkFailed(ctx context.Context, id uuid.UUID, files int, bytes int64, cause string) error
	Latest(ctx context.Context, prefix string) (*domain.Deployment, error)
	FailStalePending(ctx context.Context, before time.Time) (int64, error)
}

type SiteStore interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	SetSiteURL(ctx context.Context, id string, role domain.Role, siteURL string) error
}

var (
	_ TemplateStore   = (*repository.TemplateRepository)(nil)
	_ DeploymentStore = (*repository.DeploymentRepository)(nil)
	_ SiteStore       = (*repository.UserRepository)(nil)
)
