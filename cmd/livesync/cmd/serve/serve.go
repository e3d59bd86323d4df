// Package serve provides the livesync server command.
package serve

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/agentstation/livesync/internal/cmd/application"
	"github.com/agentstation/livesync/internal/server"
)

// shutdownTimeout bounds connection draining after a shutdown signal.
const shutdownTimeout = 30 * time.Second

// NewCommand creates the serve command.
func NewCommand(app application.Application) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"server"},
		Short:   "Start the live sync server",
		Long: `Start the livesync server.

The server loads the open issues of the configured GitHub repository and
their comments into memory, keeps them current through the GitHub webhook
and a periodic reconciliation, and pushes change notifications to
authenticated clients:

  - WebSocket sessions (/api/v1/events) with subscribe, synchronize and list
  - Server-Sent Events (/api/v1/events/stream)
  - REST endpoints for issues, comments and synchronize
  - GitHub webhook receiver (/webhook)
  - Health, readiness and Prometheus metrics endpoints`,
		Example: `  # Start with settings from ~/.livesync.yaml and LIVESYNC_* variables
  livesync serve

  # Override the listen address
  livesync serve --host 0.0.0.0 --port 3000

  # Enable CORS for specific origins
  livesync serve --cors-origins "https://dashboard.example.com"`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := parseConfig(cmd, app.Config().Server)
			return run(cmd.Context(), cfg, app.Logger())
		},
	}

	d := server.DefaultConfig()
	cmd.Flags().Int("port", d.Port, "Server port")
	cmd.Flags().String("host", d.Host, "Bind address")
	cmd.Flags().String("prefix", d.PathPrefix, "API path prefix")
	cmd.Flags().Bool("cors", d.CORSEnabled, "Enable CORS")
	cmd.Flags().StringSlice("cors-origins", nil, "Allowed CORS origins (comma-separated)")
	cmd.Flags().Int("rate-limit", d.RateLimit, "Requests per minute per IP (0 to disable)")
	cmd.Flags().Float64("sync-rate", d.SyncRate, "Synchronize requests per second per socket (0 to disable)")
	cmd.Flags().Int("sync-burst", d.SyncBurst, "Synchronize burst per socket")
	cmd.Flags().Duration("poll-interval", d.PollInterval, "Idle interval between GitHub reconciliations")
	cmd.Flags().Duration("read-timeout", d.ReadTimeout, "HTTP read timeout")
	cmd.Flags().Duration("write-timeout", d.WriteTimeout, "HTTP write timeout (0 keeps streams open)")
	cmd.Flags().Duration("idle-timeout", d.IdleTimeout, "HTTP idle timeout")
	cmd.Flags().Bool("metrics", d.MetricsEnabled, "Enable metrics endpoint")

	return cmd
}

// parseConfig overlays the flags the user set on cfg.
func parseConfig(cmd *cobra.Command, cfg server.Config) server.Config {
	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("host") {
		cfg.Host, _ = flags.GetString("host")
	}
	if flags.Changed("prefix") {
		cfg.PathPrefix, _ = flags.GetString("prefix")
	}
	if flags.Changed("cors") {
		cfg.CORSEnabled, _ = flags.GetBool("cors")
	}
	if flags.Changed("cors-origins") {
		cfg.CORSOrigins, _ = flags.GetStringSlice("cors-origins")
		cfg.CORSEnabled = true
	}
	if flags.Changed("rate-limit") {
		cfg.RateLimit, _ = flags.GetInt("rate-limit")
	}
	if flags.Changed("sync-rate") {
		cfg.SyncRate, _ = flags.GetFloat64("sync-rate")
	}
	if flags.Changed("sync-burst") {
		cfg.SyncBurst, _ = flags.GetInt("sync-burst")
	}
	if flags.Changed("poll-interval") {
		cfg.PollInterval, _ = flags.GetDuration("poll-interval")
	}
	if flags.Changed("read-timeout") {
		cfg.ReadTimeout, _ = flags.GetDuration("read-timeout")
	}
	if flags.Changed("write-timeout") {
		cfg.WriteTimeout, _ = flags.GetDuration("write-timeout")
	}
	if flags.Changed("idle-timeout") {
		cfg.IdleTimeout, _ = flags.GetDuration("idle-timeout")
	}
	if flags.Changed("metrics") {
		cfg.MetricsEnabled, _ = flags.GetBool("metrics")
	}
	return cfg
}

// run serves until ctx is cancelled, then drains connections and stops
// the background services.
func run(ctx context.Context, cfg server.Config, logger *zerolog.Logger) error {
	srv, err := server.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return serve(ctx, ln, cfg, srv, logger)
}

func serve(ctx context.Context, ln net.Listener, cfg server.Config, srv *server.Server, logger *zerolog.Logger) error {
	srv.Start(ctx)

	httpServer := &http.Server{
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", ln.Addr().String()).
			Str("prefix", cfg.PathPrefix).
			Str("repository", cfg.GitHub.Org+"/"+cfg.GitHub.Repository).
			Msg("HTTP server listening")
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- fmt.Errorf("server failed: %w", err)
		}
	}()

	select {
	case err := <-serverErr:
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return err
	case <-ctx.Done():
		logger.Info().Msg("Shutdown signal received")

		// the parent context is already cancelled
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("Background services shutdown had issues")
		}
		logger.Info().Msg("Server stopped gracefully")
		return nil
	}
}
