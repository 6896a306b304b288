package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "middleware-test-secret"

func protected(t *testing.T, scope string) http.Handler {
	t.Helper()
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(GetSubject(r.Context())))
	})
	if scope == "" {
		return Auth(testSecret)(inner)
	}
	return Auth(testSecret)(RequireScope(scope)(inner))
}

func serve(h http.Handler, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAuth(t *testing.T) {
	valid, err := IssueToken(testSecret, "ops@example.com", []string{ScopeAdminRead}, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + valid, http.StatusUnauthorized},
		{"garbage token", "Bearer abc.def.ghi", http.StatusUnauthorized},
		{"valid token", "Bearer " + valid, http.StatusOK},
		{"lowercase scheme", "bearer " + valid, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(protected(t, ""), tt.header)
			assert.Equal(t, tt.want, rec.Code)
		})
	}

	rec := serve(protected(t, ""), "Bearer "+valid)
	assert.Equal(t, "ops@example.com", rec.Body.String())
}

func TestAuthRejectsBadTokens(t *testing.T) {
	t.Run("wrong secret", func(t *testing.T) {
		token, err := IssueToken("another-secret", "ops", []string{ScopeAdminRead}, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, serve(protected(t, ""), "Bearer "+token).Code)
	})

	t.Run("expired", func(t *testing.T) {
		token, err := IssueToken(testSecret, "ops", []string{ScopeAdminRead}, -time.Minute)
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, serve(protected(t, ""), "Bearer "+token).Code)
	})

	t.Run("no expiry", func(t *testing.T) {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: "ops"},
		}).SignedString([]byte(testSecret))
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, serve(protected(t, ""), "Bearer "+token).Code)
	})

	t.Run("empty secret cannot issue", func(t *testing.T) {
		_, err := IssueToken("", "ops", nil, time.Hour)
		assert.Error(t, err)
	})
}

func TestRequireScope(t *testing.T) {
	readOnly, err := IssueToken(testSecret, "viewer", []string{ScopeAdminRead}, time.Hour)
	require.NoError(t, err)
	readWrite, err := IssueToken(testSecret, "ops", []string{ScopeAdminRead, ScopeAdminWrite}, time.Hour)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, serve(protected(t, ScopeAdminRead), "Bearer "+readOnly).Code)
	assert.Equal(t, http.StatusForbidden, serve(protected(t, ScopeAdminWrite), "Bearer "+readOnly).Code)
	assert.Equal(t, http.StatusOK, serve(protected(t, ScopeAdminWrite), "Bearer "+readWrite).Code)
}
