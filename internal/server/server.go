// Package server provides the HTTP server of livesync: the websocket and SSE
// transports, the REST endpoints and the GitHub ticket source feeding them.
package server

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/agentstation/livesync/internal/github"
	"github.com/agentstation/livesync/internal/server/auth"
	"github.com/agentstation/livesync/internal/server/cache"
	"github.com/agentstation/livesync/internal/server/events"
	"github.com/agentstation/livesync/internal/server/events/adapters"
	"github.com/agentstation/livesync/internal/server/metrics"
	"github.com/agentstation/livesync/internal/server/middleware"
	"github.com/agentstation/livesync/internal/server/sse"
	ws "github.com/agentstation/livesync/internal/server/websocket"
	"github.com/agentstation/livesync/pkg/logging"
	"github.com/agentstation/livesync/pkg/tickets"
)

// Server holds the HTTP server state and dependencies.
type Server struct {
	config         Config
	logger         *zerolog.Logger
	tickets        *tickets.Cache
	deliveries     *cache.Cache
	broker         *events.Broker
	wsHub          *ws.Hub
	sseBroadcaster *sse.Broadcaster
	metrics        *metrics.Metrics
	limiter        *middleware.RateLimiter
	authn          *auth.Authenticator
	loader         *github.Loader
	receiver       *github.Receiver
	upgrader       websocket.Upgrader
	syncer         atomic.Pointer[github.SyncManager]
	detach         func()
	ctx            context.Context
	cancel         context.CancelFunc
	wg             sync.WaitGroup
	startTime      time.Time
}

// Option configures a Server.
type Option func(*options)

type options struct {
	upstream github.Upstream
	authOpts []auth.Option
}

// WithUpstream replaces the GitHub client, for tests.
func WithUpstream(u github.Upstream) Option {
	return func(o *options) { o.upstream = u }
}

// WithAuthOptions configures the token authenticator.
func WithAuthOptions(opts ...auth.Option) Option {
	return func(o *options) { o.authOpts = append(o.authOpts, opts...) }
}

// New creates a new server instance with the given configuration.
func New(cfg Config, logger *zerolog.Logger, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger = logging.OrNop(logger)

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.upstream == nil {
		o.upstream = github.NewClient(cfg.GitHub)
	}

	authn, err := auth.New(cfg.AuthSecret, o.authOpts...)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	cacheLogger := logging.Component("tickets")
	store := tickets.New(tickets.WithLogger(cacheLogger))

	broker := events.NewBroker(logger)
	broker.OnDrop(m.EventDropped)
	wsHub := ws.NewHub(logger, m)
	sseBroadcaster := sse.NewBroadcaster(logger, m)
	broker.Subscribe(adapters.NewWebSocketSubscriber(wsHub))
	broker.Subscribe(adapters.NewSSESubscriber(sseBroadcaster))

	loader := github.NewLoader(o.upstream, store, logger)
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		config:         cfg,
		logger:         logger,
		tickets:        store,
		deliveries:     cache.New(cfg.DeliveryTTL, cfg.DeliveryTTL),
		broker:         broker,
		wsHub:          wsHub,
		sseBroadcaster: sseBroadcaster,
		metrics:        m,
		authn:          authn,
		loader:         loader,
		receiver:       github.NewReceiver(store, loader, logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(_ *http.Request) bool {
				return true // token authentication, not origin, guards sessions
			},
		},
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
	}
	if cfg.RateLimit > 0 {
		s.limiter = middleware.NewRateLimiter(cfg.RateLimit, logger)
	}
	s.detach = events.Bridge(store, broker, cfg.Namespace)

	logger.Debug().
		Str("org", cfg.GitHub.Org).
		Str("repository", cfg.GitHub.Repository).
		Msg("Server instance created")
	return s, nil
}

// Start starts the background services and the initial ticket sync. They
// stop when ctx is done or on Shutdown.
func (s *Server) Start(ctx context.Context) {
	context.AfterFunc(ctx, s.cancel)

	s.goRun(s.broker.Run)
	s.goRun(s.wsHub.Run)
	s.goRun(s.sseBroadcaster.Run)
	s.goRun(s.cleanupLoop)

	syncer := github.NewSyncManager(s.ctx, s.syncTickets, github.SyncOptions{
		Interval: s.config.PollInterval,
		Throttle: s.config.SyncThrottle,
		OnSync: func(d time.Duration, err error) {
			s.metrics.ObserveSync(d.Seconds(), err)
			s.metrics.SetCachedIssues(s.tickets.Len())
		},
	}, s.logger)
	s.syncer.Store(syncer)
	syncer.Start()

	s.logger.Debug().Msg("All background services started")
}

func (s *Server) goRun(fn func(context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(s.ctx)
	}()
}

func (s *Server) syncTickets(ctx context.Context) error {
	return s.loader.LoadOpenIssuesAndComments(ctx, s.config.SyncConcurrency)
}

// cleanupLoop evicts idle per-IP rate limiters.
func (s *Server) cleanupLoop(ctx context.Context) {
	if s.limiter == nil {
		return
	}
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.limiter.Cleanup()
		}
	}
}

// Sync requests a ticket sync outside the polling interval.
func (s *Server) Sync() {
	if m := s.syncer.Load(); m != nil {
		m.Sync()
	}
}

// Ready reports whether the first ticket sync succeeded.
func (s *Server) Ready() bool {
	m := s.syncer.Load()
	return m != nil && m.Ready()
}

// Handler returns the configured http.Handler with middleware chain applied.
func (s *Server) Handler() http.Handler {
	return s.setupRouter()
}

// Shutdown stops the background services and waits for them, bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down server background services")
	s.cancel()
	s.detach()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		if m := s.syncer.Load(); m != nil {
			m.Wait()
		}
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info().Msg("Background services shut down successfully")
		return nil
	case <-ctx.Done():
		s.logger.Warn().Msg("Background services shutdown timed out")
		return ctx.Err()
	}
}

// Tickets returns the ticket cache.
func (s *Server) Tickets() *tickets.Cache {
	return s.tickets
}

// Authenticator returns the token authenticator.
func (s *Server) Authenticator() *auth.Authenticator {
	return s.authn
}

// Metrics returns the server's collectors.
func (s *Server) Metrics() *metrics.Metrics {
	return s.metrics
}

func (s *Server) clientOptions() ws.ClientOptions {
	return ws.ClientOptions{SyncRate: rate.Limit(s.config.SyncRate), SyncBurst: s.config.SyncBurst}
}
