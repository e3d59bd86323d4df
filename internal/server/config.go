package server

import (
	"time"

	"github.com/agentstation/livesync/internal/github"
	"github.com/agentstation/livesync/internal/server/cache"
	"github.com/agentstation/livesync/pkg/errors"
)

// Config holds server configuration.
type Config struct {
	// Server settings
	Host string
	Port int

	// API settings
	PathPrefix string

	// CORS settings. An empty origin list allows any origin.
	CORSEnabled bool
	CORSOrigins []string
	CORSMethods []string
	CORSHeaders []string
	CORSMaxAge  time.Duration

	// Authentication settings
	AuthSecret string

	// Performance settings
	RateLimit int     // Requests per minute per IP (0 to disable)
	SyncRate  float64 // Synchronize requests per second per socket (0 to disable)
	SyncBurst int

	// HTTP timeouts. WriteTimeout also bounds SSE streams, so it stays 0
	// unless the server is not used for streaming.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// Features
	MetricsEnabled bool

	// GitHub ticket source
	GitHub          github.Config
	WebhookSecret   string
	PollInterval    time.Duration
	SyncThrottle    time.Duration
	SyncConcurrency int
	DeliveryTTL     time.Duration

	// NamespacePrefix is prepended to a project name to form the
	// namespace its rooms use.
	NamespacePrefix string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "localhost",
		Port:            8080,
		PathPrefix:      "/api/v1",
		CORSEnabled:     false,
		CORSOrigins:     []string{},
		CORSMethods:     []string{"GET", "POST", "OPTIONS"},
		CORSHeaders:     []string{"Authorization", "Content-Type", "Last-Event-ID"},
		CORSMaxAge:      10 * time.Minute,
		RateLimit:       100,
		SyncRate:        2,
		SyncBurst:       5,
		ReadTimeout:     10 * time.Second,
		IdleTimeout:     120 * time.Second,
		MetricsEnabled:  true,
		GitHub:          github.Config{APIURL: github.DefaultAPIURL},
		PollInterval:    5 * time.Minute,
		SyncThrottle:    10 * time.Second,
		SyncConcurrency: github.DefaultConcurrency,
		DeliveryTTL:     cache.DefaultTTL,
		NamespacePrefix: "garden-",
	}
}

// Validate checks the settings the server cannot start without.
func (c Config) Validate() error {
	if c.AuthSecret == "" {
		return errors.NewConfigError("server", "auth secret is required", nil)
	}
	if c.Port < 0 || c.Port > 65535 {
		return errors.NewConfigError("server", "port out of range", nil)
	}
	if c.SyncConcurrency < 0 {
		return errors.NewConfigError("server", "sync concurrency must not be negative", nil)
	}
	return c.GitHub.Validate()
}

// Namespace maps a project name to its namespace.
func (c Config) Namespace(projectName string) string {
	return c.NamespacePrefix + projectName
}
