package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"sitehost/internal/domain"
)

const templateColumns = `id, name, description, category, type, tags, storage_path, is_public, owner_scope,
        is_active, file_count, total_size, has_index_html, last_modified, created_at, updated_at`

// MetadataDelta - приращение сводки шаблона за одну файловую операцию.
// HasIndexHTML == nil оставляет сохраненный флаг без изменений.
type MetadataDelta struct {
	Files        int
	Bytes        int64
	HasIndexHTML *bool
	At           time.Time
}

type TemplateRepository struct {
	db *sqlx.DB
}

func NewTemplateRepository(db *sqlx.DB) *TemplateRepository {
	return &TemplateRepository{db: db}
}

func (r *TemplateRepository) Create(ctx context.Context, t *domain.Template) error {
	query := `
        INSERT INTO templates (id, name, description, category, type, tags, storage_path, is_public, owner_scope, is_active)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        RETURNING created_at, updated_at`

	err := r.db.QueryRowContext(
		ctx,
		query,
		t.ID,
		t.Name,
		t.Description,
		t.Category,
		t.Type,
		t.Tags,
		t.StoragePath,
		t.IsPublic,
		t.OwnerScope,
		t.IsActive,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create template: %w", err)
	}

	return nil
}

func (r *TemplateRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Template, error) {
	var t domain.Template
	query := `SELECT ` + templateColumns + ` FROM templates WHERE id = $1`

	if err := r.db.GetContext(ctx, &t, query, id); err != nil {
		return nil, notFound(err)
	}

	return &t, nil
}

// List возвращает шаблоны для администратора
func (r *TemplateRepository) List(ctx context.Context, filter domain.TemplateFilter) ([]domain.Template, error) {
	var (
		conditions []string
		args       []interface{}
	)
	if !filter.IncludeInactive {
		conditions = append(conditions, "is_active = TRUE")
	}
	if filter.Category != "" {
		args = append(args, filter.Category)
		conditions = append(conditions, fmt.Sprintf("category = $%d", len(args)))
	}

	query := `SELECT ` + templateColumns + ` FROM templates WHERE 1=1`
	for _, c := range conditions {
		query += " AND " + c
	}
	query += " ORDER BY created_at DESC"

	templates := []domain.Template{}
	if err := r.db.SelectContext(ctx, &templates, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}

	return templates, nil
}

// ListVisible возвращает активные шаблоны, доступные пользователю
func (r *TemplateRepository) ListVisible(ctx context.Context, callerID string) ([]domain.Template, error) {
	query := `
        SELECT ` + templateColumns + `
        FROM templates
        WHERE is_active = TRUE AND (is_public = TRUE OR owner_scope = $1)
        ORDER BY created_at DESC`

	templates := []domain.Template{}
	if err := r.db.SelectContext(ctx, &templates, query, callerID); err != nil {
		return nil, fmt.Errorf("failed to list visible templates: %w", err)
	}

	return templates, nil
}

func (r *TemplateRepository) Update(ctx context.Context, t *domain.Template) error {
	query := `
        UPDATE templates
        SET name = $1,
            description = $2,
            category = $3,
            type = $4,
            tags = $5,
            is_public = $6,
            owner_scope = $7,
            is_active = $8,
            updated_at = CURRENT_TIMESTAMP
        WHERE id = $9
        RETURNING updated_at`

	err := r.db.QueryRowContext(
		ctx,
		query,
		t.Name,
		t.Description,
		t.Category,
		t.Type,
		t.Tags,
		t.IsPublic,
		t.OwnerScope,
		t.IsActive,
		t.ID,
	).Scan(&t.UpdatedAt)
	if err != nil {
		return notFound(err)
	}

	return nil
}

func (r *TemplateRepository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	query := `UPDATE templates SET is_active = $1, updated_at = CURRENT_TIMESTAMP WHERE id = $2`

	res, err := r.db.ExecContext(ctx, query, active, id)
	if err != nil {
		return fmt.Errorf("failed to update template status: %w", err)
	}
	return requireAffected(res)
}

func (r *TemplateRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM templates WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete template: %w", err)
	}
	return requireAffected(res)
}

// ApplyMetadataDelta атомарно сдвигает счетчики, не опуская их ниже нуля
func (r *TemplateRepository) ApplyMetadataDelta(ctx context.Context, id uuid.UUID, d MetadataDelta) (*domain.TemplateMetadata, error) {
	query := `
        UPDATE templates
        SET file_count = GREATEST(file_count + $1, 0),
            total_size = GREATEST(total_size + $2, 0),
            has_index_html = COALESCE($3, has_index_html),
            last_modified = $4,
            updated_at = CURRENT_TIMESTAMP
        WHERE id = $5
        RETURNING file_count, total_size, has_index_html, last_modified`

	var m domain.TemplateMetadata
	if err := r.db.GetContext(ctx, &m, query, d.Files, d.Bytes, d.HasIndexHTML, d.At, id); err != nil {
		return nil, notFound(err)
	}

	return &m, nil
}

// ReplaceMetadata записывает сводку, пересчитанную по полному листингу
func (r *TemplateRepository) ReplaceMetadata(ctx context.Context, id uuid.UUID, m domain.TemplateMetadata) error {
	query := `
        UPDATE templates
        SET file_count = $1,
            total_size = $2,
            has_index_html = $3,
            last_modified = $4,
            updated_at = CURRENT_TIMESTAMP
        WHERE id = $5`

	res, err := r.db.ExecContext(ctx, query, m.FileCount, m.TotalSize, m.HasIndexHTML, m.LastModified, id)
	if err != nil {
		return fmt.Errorf("failed to replace template metadata: %w", err)
	}
	return requireAffected(res)
}

func requireAffected(res interface{ RowsAffected() (int64, error) }) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
