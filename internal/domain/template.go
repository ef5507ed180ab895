package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const (
	SitesRoot     = "sites/"
	TemplatesRoot = "web-templates/"
	IndexPage     = "index.html"
)

type Template struct {
	ID          uuid.UUID      `json:"id" db:"id"`
	Name        string         `json:"name" db:"name"`
	Description string         `json:"description" db:"description"`
	Category    string         `json:"category" db:"category"`
	Type        string         `json:"type" db:"type"`
	Tags        pq.StringArray `json:"tags" db:"tags"`
	StoragePath string         `json:"storage_path" db:"storage_path"`
	IsPublic    bool           `json:"is_public" db:"is_public"`
	OwnerScope  *string        `json:"owner_scope,omitempty" db:"owner_scope"` // идентификатор единственного пользователя, которому виден шаблон
	IsActive    bool           `json:"is_active" db:"is_active"`
	TemplateMetadata
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// TemplateMetadata - сводка по файлам шаблона
type TemplateMetadata struct {
	FileCount    int        `json:"file_count" db:"file_count"`
	TotalSize    int64      `json:"total_size" db:"total_size"`
	HasIndexHTML bool       `json:"has_index_html" db:"has_index_html"`
	LastModified *time.Time `json:"last_modified,omitempty" db:"last_modified"`
}

// TemplateFilter задает выборку шаблонов для администратора
type TemplateFilter struct {
	Category        string
	IncludeInactive bool
}

// ValidUserID проверяет, что идентификатор пользователя занимает ровно
// один сегмент ключа и не может указать внутрь чужого префикса
func ValidUserID(id string) bool {
	if strings.TrimSpace(id) == "" || strings.ContainsAny(id, "/\\") {
		return false
	}
	return !strings.Contains(id, "..")
}

// SitePrefix возвращает префикс ключей сайта пользователя
func SitePrefix(userID string) string {
	return SitesRoot + userID + "/"
}

// TemplatePrefix возвращает префикс ключей шаблона
func TemplatePrefix(templateID uuid.UUID) string {
	return TemplatesRoot + templateID.String() + "/"
}
