// ABOUTME: Tests for console JWT verification, agent enrollment keys, and HTTP auth.
// ABOUTME: Exercises expiry, claim validation, bcrypt matching, and middleware paths.

package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("test-secret-0123456789")

func newVerifier(t *testing.T) *JWTVerifier {
	t.Helper()
	v, err := NewJWTVerifier(testSecret)
	require.NoError(t, err)
	return v
}

func TestNewJWTVerifier_EmptySecret(t *testing.T) {
	_, err := NewJWTVerifier(nil)
	assert.Error(t, err)
}

func TestJWTVerifier_GenerateVerify(t *testing.T) {
	v := newVerifier(t)

	token, err := v.Generate(Identity{UserID: "u1", OrgID: "org-1", Role: "admin"}, time.Hour)
	require.NoError(t, err)

	id, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", id.UserID)
	assert.Equal(t, "org-1", id.OrgID)
	assert.Equal(t, "admin", id.Role)
}

func TestJWTVerifier_ExpiredToken(t *testing.T) {
	v := newVerifier(t)

	token, err := v.Generate(Identity{UserID: "u1", OrgID: "org-1"}, -time.Minute)
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestJWTVerifier_WrongSecret(t *testing.T) {
	v := newVerifier(t)
	other, err := NewJWTVerifier([]byte("a different secret"))
	require.NoError(t, err)

	token, err := other.Generate(Identity{UserID: "u1", OrgID: "org-1"}, time.Hour)
	require.NoError(t, err)

	_, err = v.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJWTVerifier_MissingOrgClaim(t *testing.T) {
	v := newVerifier(t)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString(testSecret)
	require.NoError(t, err)

	_, err = v.Verify(signed)
	assert.ErrorIs(t, err, ErrMissingClaim)
}

func TestJWTVerifier_RoleDefaultsToOperator(t *testing.T) {
	v := newVerifier(t)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u1",
		"org": "org-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString(testSecret)
	require.NoError(t, err)

	id, err := v.Verify(signed)
	require.NoError(t, err)
	assert.Equal(t, "operator", id.Role)
}

func TestJWTVerifier_RejectsUnsignedToken(t *testing.T) {
	v := newVerifier(t)

	token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": "u1",
		"org": "org-1",
	})
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = v.Verify(signed)
	assert.Error(t, err)
}

func TestAgentVerifier_Disabled(t *testing.T) {
	v := NewAgentVerifier("")
	assert.False(t, v.Enabled())
	assert.NoError(t, v.VerifyKey("anything"))
}

func TestAgentVerifier_KeyMatch(t *testing.T) {
	hash, err := HashEnrollmentKey("enroll-me")
	require.NoError(t, err)

	v := NewAgentVerifier(hash)
	assert.True(t, v.Enabled())
	assert.NoError(t, v.VerifyKey("enroll-me"))
	assert.ErrorIs(t, v.VerifyKey("wrong"), ErrBadEnrollmentKey)
}

func TestHTTPMiddleware_AttachesIdentity(t *testing.T) {
	v := newVerifier(t)
	token, err := v.Generate(Identity{UserID: "u1", OrgID: "org-1"}, time.Hour)
	require.NoError(t, err)

	var seen *Identity
	handler := HTTPMiddleware(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = FromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/computers", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "org-1", seen.OrgID)
}

func TestHTTPMiddleware_QueryTokenFallback(t *testing.T) {
	v := newVerifier(t)
	token, err := v.Generate(Identity{UserID: "u1", OrgID: "org-1"}, time.Hour)
	require.NoError(t, err)

	handler := HTTPMiddleware(v)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/api/computers?token="+token, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHTTPMiddleware_MissingToken(t *testing.T) {
	handler := HTTPMiddleware(newVerifier(t))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/computers", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHTTPMiddleware_BadToken(t *testing.T) {
	handler := HTTPMiddleware(newVerifier(t))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/computers", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
