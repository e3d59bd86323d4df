package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/livesync/internal/server/auth"
)

func newAuthenticator(t *testing.T) *auth.Authenticator {
	t.Helper()
	a, err := auth.New("test-secret")
	require.NoError(t, err)
	return a
}

func sign(t *testing.T, a *auth.Authenticator, exp time.Time) string {
	t.Helper()
	token, err := a.Sign(&auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "alice", ExpiresAt: jwt.NewNumericDate(exp)},
		Namespaces:       []string{"garden-dev"},
	})
	require.NoError(t, err)
	return token
}

func TestAuth(t *testing.T) {
	a := newAuthenticator(t)
	logger := zerolog.Nop()

	var got *auth.Claims
	h := Auth(DefaultAuthConfig(), a, &logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = auth.FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name     string
		path     string
		token    string
		status   int
		wantUser string
	}{
		{"public path", "/health", "", http.StatusOK, ""},
		{"webhook is public", "/webhook", "", http.StatusOK, ""},
		{"missing token", "/api/v1/issues", "", http.StatusUnauthorized, ""},
		{"garbage token", "/api/v1/issues", "not-a-jwt", http.StatusUnauthorized, ""},
		{"expired token", "/api/v1/issues", sign(t, a, time.Now().Add(-time.Hour)), http.StatusUnauthorized, ""},
		{"valid token", "/api/v1/issues", sign(t, a, time.Now().Add(time.Hour)), http.StatusOK, "alice"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got = nil
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			if tt.wantUser != "" {
				require.NotNil(t, got)
				assert.Equal(t, tt.wantUser, got.ID())
			}
		})
	}
}

func TestAuthDisabled(t *testing.T) {
	logger := zerolog.Nop()
	h := Auth(AuthConfig{}, nil, &logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/issues", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestIsPublicPath(t *testing.T) {
	paths := []string{"/health", "/static/"}
	assert.True(t, isPublicPath("/health", paths))
	assert.True(t, isPublicPath("/static/app.js", paths))
	assert.False(t, isPublicPath("/healthz", paths))
	assert.False(t, isPublicPath("/api/v1/issues", paths))
}
