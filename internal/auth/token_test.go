package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := tok.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestVerifyBearerToken(t *testing.T) {
	v := NewVerifier("secret")
	tok := signToken(t, "secret", jwt.MapClaims{"sub": "user-1", "role": RoleAdmin})

	id, err := v.VerifyBearerToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "user-1", id.UserID)
	assert.True(t, id.IsAdmin())
}

func TestVerifyBearerTokenDefaultsRole(t *testing.T) {
	v := NewVerifier("secret")
	tok := signToken(t, "secret", jwt.MapClaims{"sub": "user-2"})

	id, err := v.VerifyBearerToken(tok)
	require.NoError(t, err)
	assert.Equal(t, RoleCustomer, id.Role)
	assert.False(t, id.IsAdmin())
}

func TestVerifyBearerTokenRejects(t *testing.T) {
	v := NewVerifier("secret")

	_, err := v.VerifyBearerToken(signToken(t, "other-secret", jwt.MapClaims{"sub": "user-1"}))
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = v.VerifyBearerToken(signToken(t, "secret", jwt.MapClaims{"role": RoleAdmin}))
	assert.ErrorIs(t, err, ErrInvalidToken, "token without sub")

	expired := signToken(t, "secret", jwt.MapClaims{"sub": "user-1", "exp": time.Now().Add(-time.Hour).Unix()})
	_, err = v.VerifyBearerToken(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = v.VerifyBearerToken("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestMiddleware(t *testing.T) {
	v := NewVerifier("secret")
	var seen Identity
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	h := v.Middleware(next)

	// no header
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders/1", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// bad token
	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/orders/1", nil)
	req.Header.Set("Authorization", "Bearer nope")
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// valid token reaches the handler with the identity attached
	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/orders/1", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "secret", jwt.MapClaims{"sub": "user-1"}))
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "user-1", seen.UserID)
}
