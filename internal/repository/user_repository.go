package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"sitehost/internal/domain"
)

type UserRepository struct {
	db *sqlx.DB
}

func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	var u domain.User
	query := `SELECT id, role, site_url, website_config, created_at, updated_at FROM users WHERE id = $1`

	if err := r.db.GetContext(ctx, &u, query, id); err != nil {
		return nil, notFound(err)
	}

	return &u, nil
}

// SetSiteURL сохраняет адрес сайта, создавая запись пользователя при первом деплое
func (r *UserRepository) SetSiteURL(ctx context.Context, id string, role domain.Role, siteURL string) error {
	query := `
        INSERT INTO users (id, role, site_url)
        VALUES ($1, $2, $3)
        ON CONFLICT (id) DO UPDATE
        SET site_url = EXCLUDED.site_url,
            updated_at = CURRENT_TIMESTAMP`

	if _, err := r.db.ExecContext(ctx, query, id, role, siteURL); err != nil {
		return fmt.Errorf("failed to update site url: %w", err)
	}

	return nil
}
