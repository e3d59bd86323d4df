package middleware

import (
	"net/http"
	"slices"
	"strings"

	"github.com/rs/zerolog"

	"github.com/agentstation/livesync/internal/server/auth"
	"github.com/agentstation/livesync/internal/server/response"
)

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	Enabled bool
	// PublicPaths are served without a token. Entries ending in "/" match
	// as prefixes.
	PublicPaths []string
}

// DefaultAuthConfig returns default authentication configuration.
func DefaultAuthConfig() AuthConfig {
	return AuthConfig{
		Enabled:     true,
		PublicPaths: []string{"/health", "/metrics", "/webhook", "/api/v1/health", "/api/v1/ready", "/api/v1/events"},
	}
}

// Auth verifies the JWT of every protected request and stores its claims in
// the request context.
func Auth(config AuthConfig, authn *auth.Authenticator, logger *zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !config.Enabled || isPublicPath(r.URL.Path, config.PublicPaths) {
				next.ServeHTTP(w, r)
				return
			}

			claims, err := authn.Verify(auth.TokenFromRequest(r))
			if err != nil {
				logger.Warn().
					Err(err).
					Str("path", r.URL.Path).
					Str("remote_addr", r.RemoteAddr).
					Msg("Authentication failed")
				response.ErrorFromType(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.WithClaims(r.Context(), claims)))
		})
	}
}

// isPublicPath checks if a path is in the public paths list.
func isPublicPath(path string, publicPaths []string) bool {
	if slices.Contains(publicPaths, path) {
		return true
	}
	for _, p := range publicPaths {
		if strings.HasSuffix(p, "/") && strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
