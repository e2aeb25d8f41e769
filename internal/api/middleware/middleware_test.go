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

const testSecret = "test-secret"

func signToken(t *testing.T, method jwt.SigningMethod, key interface{}, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func adminProtected(secret string) (http.Handler, *string) {
	var subject string
	h := AdminAuth(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject, _ = GetAdminSubjectFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	return h, &subject
}

func TestAdminAuth(t *testing.T) {
	valid := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{
		"sub": "moderator-1", "role": "admin", "exp": time.Now().Add(time.Hour).Unix(),
	})
	member := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{
		"sub": "member-1", "role": "member",
	})
	expired := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), jwt.MapClaims{
		"sub": "moderator-1", "role": "admin", "exp": time.Now().Add(-time.Hour).Unix(),
	})
	wrongKey := signToken(t, jwt.SigningMethodHS256, []byte("other"), jwt.MapClaims{"role": "admin"})

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"有効な管理者トークン", "Bearer " + valid, http.StatusNoContent},
		{"ヘッダーなし", "", http.StatusUnauthorized},
		{"Bearer形式ではない", "Token " + valid, http.StatusUnauthorized},
		{"期限切れ", "Bearer " + expired, http.StatusUnauthorized},
		{"異なる鍵", "Bearer " + wrongKey, http.StatusUnauthorized},
		{"管理者ではない", "Bearer " + member, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, subject := adminProtected(testSecret)
			req := httptest.NewRequest(http.MethodPost, "/api/admin/cache/clear", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
			if tt.want == http.StatusNoContent {
				assert.Equal(t, "moderator-1", *subject)
			}
		})
	}
}

func TestAdminAuth_DisabledWithoutSecret(t *testing.T) {
	h, _ := adminProtected("")
	req := httptest.NewRequest(http.MethodPost, "/api/admin/cache/clear", nil)
	req.Header.Set("Authorization", "Bearer anything")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCORSHandler(t *testing.T) {
	h := CORSHandler([]string{"http://localhost:3000"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
