package server

import (
	"net/http"

	"github.com/agentstation/livesync/internal/server/handlers"
	"github.com/agentstation/livesync/internal/server/middleware"
)

// setupRouter creates the HTTP handler with routes and middleware.
func (s *Server) setupRouter() http.Handler {
	mux := http.NewServeMux()

	h := handlers.New(handlers.Deps{
		Ctx:            s.ctx,
		Tickets:        s.tickets,
		Deliveries:     s.deliveries,
		Authenticator:  s.authn,
		Hub:            s.wsHub,
		SSEBroadcaster: s.sseBroadcaster,
		Receiver:       s.receiver,
		Upgrader:       s.upgrader,
		Metrics:        s.metrics,
		Logger:         s.logger,
		Ready:          s.Ready,
		Namespace:      s.config.Namespace,
		WebhookSecret:  s.config.WebhookSecret,
		Client:         s.clientOptions(),
	})

	s.registerRoutes(mux, h)

	return s.applyMiddleware(mux)
}

// registerRoutes registers all HTTP routes.
func (s *Server) registerRoutes(mux *http.ServeMux, h *handlers.Handlers) {
	prefix := s.config.PathPrefix

	// Favicon handler (return 204 No Content to avoid 404 logs)
	mux.HandleFunc("GET /favicon.ico", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	// Public health endpoints (no auth required)
	mux.HandleFunc("GET /health", h.HandleHealth)
	mux.HandleFunc("GET "+prefix+"/health", h.HandleHealth)
	mux.HandleFunc("GET "+prefix+"/ready", h.HandleReady)

	// Realtime endpoints. The websocket handshake authenticates itself.
	mux.HandleFunc("GET "+prefix+"/events", h.HandleWebSocket)
	mux.HandleFunc("GET "+prefix+"/events/stream", h.HandleSSE)

	// Tickets
	mux.HandleFunc("POST "+prefix+"/synchronize/{resource}", h.HandleSynchronize)
	mux.HandleFunc("GET "+prefix+"/issues", h.HandleListIssues)
	mux.HandleFunc("GET "+prefix+"/issues/{number}", h.HandleGetIssue)
	mux.HandleFunc("GET "+prefix+"/issues/{number}/comments", h.HandleListComments)

	// GitHub webhook, authenticated by its signature
	mux.HandleFunc("POST /webhook", h.HandleWebhook)

	if s.config.MetricsEnabled {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
}

// publicPaths are served without a bearer token.
func (s *Server) publicPaths() []string {
	prefix := s.config.PathPrefix
	return []string{
		"/favicon.ico",
		"/health",
		"/metrics",
		"/webhook",
		prefix + "/health",
		prefix + "/ready",
		prefix + "/events",
	}
}

// applyMiddleware wraps handler with middleware chain.
func (s *Server) applyMiddleware(handler http.Handler) http.Handler {
	cfg := s.config

	authConfig := middleware.DefaultAuthConfig()
	authConfig.PublicPaths = s.publicPaths()
	chain := []func(http.Handler) http.Handler{
		middleware.Recovery(s.logger),
		middleware.Logger(s.logger),
	}

	if cfg.CORSEnabled {
		chain = append(chain, middleware.CORS(middleware.CORSConfig{
			Origins: cfg.CORSOrigins,
			Methods: cfg.CORSMethods,
			Headers: cfg.CORSHeaders,
			MaxAge:  cfg.CORSMaxAge,
		}))
	}
	if s.limiter != nil {
		chain = append(chain, middleware.RateLimit(s.limiter))
	}
	chain = append(chain, middleware.Auth(authConfig, s.authn, s.logger))

	return middleware.Chain(chain...)(handler)
}
