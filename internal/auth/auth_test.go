package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"sitehost/internal/domain"
)

func newTestVerifier() *Verifier {
	return NewVerifier(&Config{JWTSecret: "test-secret", Issuer: "sitehost"})
}

// sign выпускает токен так же, как провайдер аутентификации
func sign(v *Verifier, caller domain.Caller, claims jwt.RegisteredClaims) (string, error) {
	claims.Subject = caller.ID
	if claims.Issuer == "" {
		claims.Issuer = v.issuer
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{Role: string(caller.Role), RegisteredClaims: claims})
	return token.SignedString(v.secret)
}

func TestVerifyTokenRoundTrip(t *testing.T) {
	v := newTestVerifier()
	token, err := sign(v, domain.Caller{ID: "+15550001", Role: domain.RoleAdmin}, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+token)

	caller, err := v.VerifyToken(r)
	require.NoError(t, err)
	require.Equal(t, "+15550001", caller.ID)
	require.True(t, caller.IsAdmin())
}

func TestVerifyTokenUnknownRoleBecomesUser(t *testing.T) {
	v := newTestVerifier()
	token, err := sign(v, domain.Caller{ID: "u1", Role: "superuser"}, jwt.RegisteredClaims{})
	require.NoError(t, err)

	caller, err := v.Parse(token)
	require.NoError(t, err)
	require.Equal(t, domain.RoleUser, caller.Role)
}

func TestVerifyTokenRejects(t *testing.T) {
	v := newTestVerifier()

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := v.VerifyToken(r)
	require.ErrorIs(t, err, ErrNoToken)

	r.Header.Set("Authorization", "Token abc")
	_, err = v.VerifyToken(r)
	require.ErrorIs(t, err, ErrInvalidToken)

	expired, err := sign(v, domain.Caller{ID: "u1"}, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	})
	require.NoError(t, err)
	_, err = v.Parse(expired)
	require.ErrorIs(t, err, ErrInvalidToken)

	other := NewVerifier(&Config{JWTSecret: "other-secret", Issuer: "sitehost"})
	foreign, err := sign(other, domain.Caller{ID: "u1"}, jwt.RegisteredClaims{})
	require.NoError(t, err)
	_, err = v.Parse(foreign)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyTokenRejectsSubjectsThatEscapeThePrefix(t *testing.T) {
	v := newTestVerifier()

	for _, subject := range []string{"79990001122/blog", `79990001122\blog`, "..", "a/../b", " "} {
		token, err := sign(v, domain.Caller{ID: subject}, jwt.RegisteredClaims{})
		require.NoError(t, err)

		_, err = v.Parse(token)
		require.ErrorIs(t, err, ErrInvalidToken, subject)
	}
}
