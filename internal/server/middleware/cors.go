package middleware

import (
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"
)

// CORSConfig is the cross-origin policy of the API. The server fills it from
// its own configuration.
type CORSConfig struct {
	// Origins lists the allowed origins. Empty or "*" allows any origin.
	Origins []string
	Methods []string
	Headers []string
	MaxAge  time.Duration
}

func (c CORSConfig) allowAny() bool {
	return len(c.Origins) == 0 || slices.Contains(c.Origins, "*")
}

// CORS answers preflight requests and sets the allow headers on responses
// to accepted origins. Browsers need it for the SSE stream and the REST
// endpoints; websocket upgrades are not subject to CORS.
func CORS(config CORSConfig) func(http.Handler) http.Handler {
	methods := strings.Join(config.Methods, ", ")
	headers := strings.Join(config.Headers, ", ")
	maxAge := strconv.Itoa(int(config.MaxAge / time.Second))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			h := w.Header()
			switch {
			case config.allowAny():
				h.Set("Access-Control-Allow-Origin", "*")
			case origin != "" && slices.Contains(config.Origins, origin):
				h.Set("Access-Control-Allow-Origin", origin)
				h.Add("Vary", "Origin")
			}

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				h.Set("Access-Control-Allow-Methods", methods)
				h.Set("Access-Control-Allow-Headers", headers)
				if config.MaxAge > 0 {
					h.Set("Access-Control-Max-Age", maxAge)
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
