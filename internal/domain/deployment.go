package domain

import (
	"time"

	"github.com/google/uuid"
)

type DeploymentStatus string

const (
	DeploymentPending   DeploymentStatus = "pending"
	DeploymentCommitted DeploymentStatus = "committed"
	DeploymentFailed    DeploymentStatus = "failed"
)

type DeploymentKind string

const (
	DeploymentSiteArchive     DeploymentKind = "site_archive"
	DeploymentTemplateArchive DeploymentKind = "template_archive"
	DeploymentTemplateCopy    DeploymentKind = "template_copy"
)

// Deployment - запись о намерении изменить содержимое префикса.
// Создается до первой мутации хранилища и закрывается после последней.
type Deployment struct {
	ID           uuid.UUID        `json:"id" db:"id"`
	TargetPrefix string           `json:"target_prefix" db:"target_prefix"`
	Kind         DeploymentKind   `json:"kind" db:"kind"`
	Source       string           `json:"source" db:"source"`
	Status       DeploymentStatus `json:"status" db:"status"`
	FilesWritten int              `json:"files_written" db:"files_written"`
	BytesWritten int64            `json:"bytes_written" db:"bytes_written"`
	Error        *string          `json:"error,omitempty" db:"error"`
	StartedAt    time.Time        `json:"started_at" db:"started_at"`
	FinishedAt   *time.Time       `json:"finished_at,omitempty" db:"finished_at"`
}

// Dirty сообщает, что префикс мог остаться в частично записанном состоянии
func (d *Deployment) Dirty() bool {
	return d != nil && d.Status != DeploymentCommitted
}
