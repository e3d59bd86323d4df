// Package application provides the interface between the livesync app layer
// and its commands.
//
// Commands accept an Application rather than the concrete App so they can
// be tested with a Mock:
//
//	mock := &application.Mock{
//	    ConfigFunc: func() *config.Config { return cfg },
//	}
//	cmd := serve.NewCommand(mock)
package application

import (
	"github.com/rs/zerolog"

	"github.com/agentstation/livesync/internal/config"
)

// Application provides what commands need from the app.
//
// Thread Safety: All methods must be safe for concurrent access.
type Application interface {
	// Config returns the loaded configuration. Commands may adjust the
	// copy of the sections they own from their flags.
	Config() *config.Config

	// Logger returns the configured logger instance.
	Logger() *zerolog.Logger

	// OutputFormat returns the configured output format (json, yaml, table).
	OutputFormat() string

	// Version returns the application version string.
	Version() string

	// Commit returns the git commit hash.
	Commit() string

	// Date returns the build date.
	Date() string

	// BuiltBy returns the build system identifier.
	BuiltBy() string
}
