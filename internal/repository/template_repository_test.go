package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sitehost/internal/domain"
)

var templateRowColumns = []string{
	"id", "name", "description", "category", "type", "tags", "storage_path", "is_public", "owner_scope",
	"is_active", "file_count", "total_size", "has_index_html", "last_modified", "created_at", "updated_at",
}

func TestTemplateCreate(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTemplateRepository(db)

	id := uuid.New()
	now := time.Now()
	tpl := &domain.Template{
		ID:          id,
		Name:        "Landing",
		Category:    "business",
		Type:        "static",
		Tags:        pq.StringArray{"dark", "one-page"},
		StoragePath: domain.TemplatePrefix(id),
		IsPublic:    true,
		IsActive:    true,
	}

	mock.ExpectQuery("INSERT INTO templates").
		WithArgs(id, "Landing", "", "business", "static", pq.StringArray{"dark", "one-page"}, domain.TemplatePrefix(id), true, nil, true).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))

	require.NoError(t, repo.Create(context.Background(), tpl))
	assert.Equal(t, now, tpl.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTemplateGetByID(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTemplateRepository(db)

	id := uuid.New()
	now := time.Now()
	rows := sqlmock.NewRows(templateRowColumns).
		AddRow(id.String(), "Landing", "desc", "business", "static", "{dark,one-page}", domain.TemplatePrefix(id), false, "79990001122",
			true, 3, int64(1200), true, now, now, now)
	mock.ExpectQuery(`SELECT .* FROM templates WHERE id = \$1`).
		WithArgs(id).
		WillReturnRows(rows)

	tpl, err := repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, tpl.ID)
	assert.Equal(t, pq.StringArray{"dark", "one-page"}, tpl.Tags)
	require.NotNil(t, tpl.OwnerScope)
	assert.Equal(t, "79990001122", *tpl.OwnerScope)
	assert.Equal(t, 3, tpl.FileCount)
	assert.True(t, tpl.HasIndexHTML)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTemplateGetByIDNotFound(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTemplateRepository(db)

	id := uuid.New()
	mock.ExpectQuery(`SELECT .* FROM templates WHERE id = \$1`).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(templateRowColumns))

	_, err := repo.GetByID(context.Background(), id)
	require.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTemplateListFilters(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTemplateRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM templates WHERE 1=1 AND is_active = TRUE AND category = $1 ORDER BY created_at DESC")).
		WithArgs("shop").
		WillReturnRows(sqlmock.NewRows(templateRowColumns))

	templates, err := repo.List(context.Background(), domain.TemplateFilter{Category: "shop"})
	require.NoError(t, err)
	assert.Empty(t, templates)

	mock.ExpectQuery(regexp.QuoteMeta("FROM templates WHERE 1=1 ORDER BY created_at DESC")).
		WillReturnRows(sqlmock.NewRows(templateRowColumns))

	_, err = repo.List(context.Background(), domain.TemplateFilter{IncludeInactive: true})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTemplateListVisible(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTemplateRepository(db)

	mock.ExpectQuery(`WHERE is_active = TRUE AND \(is_public = TRUE OR owner_scope = \$1\)`).
		WithArgs("79990001122").
		WillReturnRows(sqlmock.NewRows(templateRowColumns))

	_, err := repo.ListVisible(context.Background(), "79990001122")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTemplateSetActiveNotFound(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTemplateRepository(db)

	id := uuid.New()
	mock.ExpectExec("UPDATE templates SET is_active").
		WithArgs(false, id).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.SetActive(context.Background(), id, false)
	require.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTemplateApplyMetadataDelta(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTemplateRepository(db)

	id := uuid.New()
	now := time.Now().UTC()
	hasIndex := true
	mock.ExpectQuery(`SET file_count = GREATEST\(file_count \+ \$1, 0\)`).
		WithArgs(1, int64(42), &hasIndex, now, id).
		WillReturnRows(sqlmock.NewRows([]string{"file_count", "total_size", "has_index_html", "last_modified"}).
			AddRow(1, int64(42), true, now))

	m, err := repo.ApplyMetadataDelta(context.Background(), id, MetadataDelta{Files: 1, Bytes: 42, HasIndexHTML: &hasIndex, At: now})
	require.NoError(t, err)
	assert.Equal(t, 1, m.FileCount)
	assert.EqualValues(t, 42, m.TotalSize)
	assert.True(t, m.HasIndexHTML)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTemplateDelete(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewTemplateRepository(db)

	id := uuid.New()
	mock.ExpectExec(`DELETE FROM templates WHERE id = \$1`).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Delete(context.Background(), id))
	assert.NoError(t, mock.ExpectationsWereMet())
}
