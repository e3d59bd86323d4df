// Package handlers provides HTTP request handlers for the livesync API.
package handlers

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/agentstation/livesync/internal/server/auth"
	"github.com/agentstation/livesync/internal/server/cache"
	"github.com/agentstation/livesync/internal/server/events"
	"github.com/agentstation/livesync/internal/server/metrics"
	"github.com/agentstation/livesync/internal/server/sse"
	ws "github.com/agentstation/livesync/internal/server/websocket"
	"github.com/agentstation/livesync/pkg/logging"
	"github.com/agentstation/livesync/pkg/tickets"
)

// WebhookReceiver applies a verified webhook delivery.
type WebhookReceiver interface {
	Handle(ctx context.Context, event string, body []byte) error
}

// Deps are the collaborators of the handlers.
type Deps struct {
	// Ctx bounds the lifetime of websocket sessions.
	Ctx            context.Context
	Tickets        *tickets.Cache
	Deliveries     *cache.Cache
	Authenticator  *auth.Authenticator
	Hub            *ws.Hub
	SSEBroadcaster *sse.Broadcaster
	Receiver       WebhookReceiver
	Upgrader       websocket.Upgrader
	Metrics        *metrics.Metrics
	Logger         *zerolog.Logger

	// Ready reports whether the initial ticket sync finished.
	Ready func() bool
	// Namespace maps a project name to the namespace its rooms use.
	Namespace events.NamespaceFunc
	// WebhookSecret signs GitHub deliveries.
	WebhookSecret string
	// Client limits every websocket connection.
	Client ws.ClientOptions
}

// Handlers provides access to all HTTP handlers.
type Handlers struct {
	Deps
	startTime time.Time
}

// New creates a new Handlers instance.
func New(deps Deps) *Handlers {
	if deps.Ctx == nil {
		deps.Ctx = context.Background()
	}
	if deps.Ready == nil {
		deps.Ready = func() bool { return true }
	}
	if deps.Namespace == nil {
		deps.Namespace = DefaultNamespace
	}
	deps.Logger = logging.OrNop(deps.Logger)
	return &Handlers{Deps: deps, startTime: time.Now()}
}

// DefaultNamespace is the namespace naming convention of projects.
func DefaultNamespace(projectName string) string {
	return "garden-" + projectName
}
