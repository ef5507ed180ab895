package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"sitehost/internal/domain"
)

const deploymentColumns = `id, target_prefix, kind, source, status, files_written, bytes_written, error, started_at, finished_at`

type DeploymentRepository struct {
	db *sqlx.DB
}

func NewDeploymentRepository(db *sqlx.DB) *DeploymentRepository {
	return &DeploymentRepository{db: db}
}

// Create записывает намерение со статусом pending до первой мутации хранилища
func (r *DeploymentRepository) Create(ctx context.Context, d *domain.Deployment) error {
	query := `
        INSERT INTO deployments (id, target_prefix, kind, source, status)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING started_at`

	d.Status = domain.DeploymentPending
	err := r.db.QueryRowContext(ctx, query, d.ID, d.TargetPrefix, d.Kind, d.Source, d.Status).Scan(&d.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to create deployment: %w", err)
	}

	return nil
}

func (r *DeploymentRepository) MarkCommitted(ctx context.Context, id uuid.UUID, files int, bytes int64) error {
	return r.finish(ctx, id, domain.DeploymentCommitted, files, bytes, nil)
}

func (r *DeploymentRepository) MarkFailed(ctx context.Context, id uuid.UUID, files int, bytes int64, cause string) error {
	return r.finish(ctx, id, domain.DeploymentFailed, files, bytes, &cause)
}

func (r *DeploymentRepository) finish(ctx context.Context, id uuid.UUID, status domain.DeploymentStatus, files int, bytes int64, cause *string) error {
	query := `
        UPDATE deployments
        SET status = $1,
            files_written = $2,
            bytes_written = $3,
            error = $4,
            finished_at = CURRENT_TIMESTAMP
        WHERE id = $5`

	res, err := r.db.ExecContext(ctx, query, status, files, bytes, cause, id)
	if err != nil {
		return fmt.Errorf("failed to mark deployment %s: %w", status, err)
	}
	return requireAffected(res)
}

// Latest возвращает последнюю запись по префиксу
func (r *DeploymentRepository) Latest(ctx context.Context, prefix string) (*domain.Deployment, error) {
	var d domain.Deployment
	query := `SELECT ` + deploymentColumns + ` FROM deployments WHERE target_prefix = $1 ORDER BY started_at DESC LIMIT 1`

	if err := r.db.GetContext(ctx, &d, query, prefix); err != nil {
		return nil, notFound(err)
	}

	return &d, nil
}

// FailStalePending закрывает записи, брошенные упавшим процессом
func (r *DeploymentRepository) FailStalePending(ctx context.Context, before time.Time) (int64, error) {
	query := `
        UPDATE deployments
        SET status = 'failed',
            error = 'abandoned while pending',
            finished_at = CURRENT_TIMESTAMP
        WHERE status = 'pending' AND started_at < $1`

	res, err := r.db.ExecContext(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep stale deployments: %w", err)
	}
	return res.RowsAffected()
}
