package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFromErrorKeepsTypedErrors(t *testing.T) {
	wrapped := fmt.Errorf("deploy: %w", Clone(ErrSiteExists, "site for 123 already exists"))

	got := FromError(wrapped)
	require.Equal(t, "SITE_EXISTS", got.Code)
	require.Equal(t, http.StatusConflict, got.Status)
	require.Equal(t, "site for 123 already exists", got.Message)
}

func TestFromErrorUnknownBecomesInternal(t *testing.T) {
	got := FromError(errors.New("connection reset"))
	require.Equal(t, ErrInternal.Code, got.Code)
	require.Equal(t, http.StatusInternalServerError, got.Status)
	require.ErrorContains(t, got, "connection reset")
}

func TestIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("outer: %w", Clone(ErrNotFound, "template not found"))
	require.ErrorIs(t, err, ErrNotFound)
	require.NotErrorIs(t, err, ErrForbidden)
	require.Nil(t, FromError(nil))
}
