// Package app wires configuration, logging and commands of the livesync
// CLI together.
package app

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/agentstation/livesync/internal/cmd/application"
	"github.com/agentstation/livesync/internal/config"
	"github.com/agentstation/livesync/pkg/errors"
)

// App represents the livesync application with all its dependencies.
type App struct {
	version string
	commit  string
	date    string
	builtBy string

	config *config.Config

	mu      sync.RWMutex
	logger  *zerolog.Logger
	closers []func(context.Context) error
}

// New creates a new App instance with the given version information.
// Configuration is loaded from the environment and the default config
// file; --config reloads it before a command runs.
func New(version, commit, date, builtBy string, opts ...Option) (*App, error) {
	app := &App{
		version: version,
		commit:  commit,
		date:    date,
		builtBy: builtBy,
	}

	cfg, err := config.Load("")
	if err != nil {
		return nil, errors.NewConfigError("app", "load config", err)
	}
	app.config = cfg

	logger := NewLogger(cfg)
	app.logger = &logger

	for _, opt := range opts {
		if err := opt(app); err != nil {
			return nil, err
		}
	}
	return app, nil
}

// Version returns the version information.
func (a *App) Version() string {
	return a.version
}

// Commit returns the git commit hash.
func (a *App) Commit() string {
	return a.commit
}

// Date returns the build date.
func (a *App) Date() string {
	return a.date
}

// BuiltBy returns the build system identifier.
func (a *App) BuiltBy() string {
	return a.builtBy
}

// Config returns the application configuration.
func (a *App) Config() *config.Config {
	return a.config
}

// OutputFormat returns the --format flag value or the configured default.
func (a *App) OutputFormat() string {
	return a.config.Format
}

// Logger returns the application logger.
func (a *App) Logger() *zerolog.Logger {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.logger
}

func (a *App) setLogger(l *zerolog.Logger) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logger = l
}

// OnShutdown registers fn to run during Shutdown, in reverse order.
func (a *App) OnShutdown(fn func(context.Context) error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closers = append(a.closers, fn)
}

// Shutdown runs the registered shutdown hooks and returns the first error.
func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	closers := a.closers
	a.closers = nil
	a.mu.Unlock()

	var first error
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i](ctx); err != nil {
			a.Logger().Error().Err(err).Msg("Shutdown hook failed")
			if first == nil {
				first = err
			}
		}
	}
	return first
}

// Option is a functional option for configuring the App.
type Option func(*App) error

// WithConfig sets a custom configuration.
func WithConfig(cfg *config.Config) Option {
	return func(a *App) error {
		a.config = cfg
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(a *App) error {
		a.logger = logger
		return nil
	}
}

var _ application.Application = (*App)(nil)
