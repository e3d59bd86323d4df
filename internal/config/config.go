// Package config loads livesync settings from flags, environment, .env files
// and an optional YAML config file.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/agentstation/livesync/internal/github"
	"github.com/agentstation/livesync/internal/server"
)

// EnvPrefix prefixes every environment variable, e.g. LIVESYNC_SERVER_PORT.
const EnvPrefix = "LIVESYNC"

// Config holds the application configuration.
type Config struct {
	// Global flags
	Verbose bool
	Quiet   bool
	NoColor bool
	Format  string

	ConfigFile string

	Server server.Config
	Client Client

	// Logging configuration
	LogLevel  string
	LogFormat string
	LogOutput string
}

// Client holds the settings of the watch command.
type Client struct {
	URL        string
	Token      string
	RefreshURL string
	Throttle   time.Duration
}

// Load reads configuration in order of precedence:
// 1. Command-line flags (handled by cobra)
// 2. Environment variables
// 3. .env files
// 4. Config file (~/.livesync.yaml)
// 5. Defaults
func Load(configFile string) (*Config, error) {
	return LoadFrom(viper.New(), configFile)
}

// LoadFrom is Load on an explicit viper instance.
func LoadFrom(v *viper.Viper, configFile string) (*Config, error) {
	loadEnvFiles()

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName(".livesync")
		// a missing default config file is fine
		_ = v.ReadInConfig()
	}

	srv := server.DefaultConfig()
	srv.Host = v.GetString("server.host")
	srv.Port = v.GetInt("server.port")
	srv.PathPrefix = v.GetString("server.path_prefix")
	srv.CORSEnabled = v.GetBool("server.cors_enabled")
	srv.CORSOrigins = v.GetStringSlice("server.cors_origins")
	srv.CORSMethods = v.GetStringSlice("server.cors_methods")
	srv.CORSHeaders = v.GetStringSlice("server.cors_headers")
	srv.CORSMaxAge = v.GetDuration("server.cors_max_age")
	srv.RateLimit = v.GetInt("server.rate_limit")
	srv.SyncRate = v.GetFloat64("server.sync_rate")
	srv.SyncBurst = v.GetInt("server.sync_burst")
	srv.MetricsEnabled = v.GetBool("server.metrics")
	srv.AuthSecret = v.GetString("auth.secret")
	srv.GitHub = github.Config{
		APIURL:     v.GetString("github.api_url"),
		Org:        v.GetString("github.org"),
		Repository: v.GetString("github.repository"),
		Token:      v.GetString("github.token"),
	}
	srv.WebhookSecret = v.GetString("github.webhook_secret")
	srv.PollInterval = v.GetDuration("github.poll_interval")
	srv.SyncThrottle = v.GetDuration("github.sync_throttle")
	srv.SyncConcurrency = v.GetInt("github.sync_concurrency")
	srv.NamespacePrefix = v.GetString("projects.namespace_prefix")

	return &Config{
		Format:     v.GetString("format"),
		ConfigFile: v.ConfigFileUsed(),
		Server:     srv,
		Client: Client{
			URL:        v.GetString("client.url"),
			Token:      v.GetString("client.token"),
			RefreshURL: v.GetString("client.refresh_url"),
			Throttle:   v.GetDuration("client.throttle"),
		},
		LogLevel:  v.GetString("log.level"),
		LogFormat: v.GetString("log.format"),
		LogOutput: v.GetString("log.output"),
	}, nil
}

func setDefaults(v *viper.Viper) {
	d := server.DefaultConfig()
	v.SetDefault("server.host", d.Host)
	v.SetDefault("server.port", d.Port)
	v.SetDefault("server.path_prefix", d.PathPrefix)
	v.SetDefault("server.cors_enabled", d.CORSEnabled)
	v.SetDefault("server.cors_origins", d.CORSOrigins)
	v.SetDefault("server.cors_methods", d.CORSMethods)
	v.SetDefault("server.cors_headers", d.CORSHeaders)
	v.SetDefault("server.cors_max_age", d.CORSMaxAge)
	v.SetDefault("server.rate_limit", d.RateLimit)
	v.SetDefault("server.sync_rate", d.SyncRate)
	v.SetDefault("server.sync_burst", d.SyncBurst)
	v.SetDefault("server.metrics", d.MetricsEnabled)
	v.SetDefault("github.api_url", d.GitHub.APIURL)
	v.SetDefault("github.poll_interval", d.PollInterval)
	v.SetDefault("github.sync_throttle", d.SyncThrottle)
	v.SetDefault("github.sync_concurrency", d.SyncConcurrency)
	v.SetDefault("projects.namespace_prefix", d.NamespacePrefix)
	v.SetDefault("client.url", "ws://localhost:8080/api/v1/events")
	v.SetDefault("client.throttle", 500*time.Millisecond)
	v.SetDefault("log.format", "auto")
	v.SetDefault("log.output", "stderr")
}

// UpdateFromFlags updates config values from parsed command flags.
// This should be called after cobra parses flags to ensure flag
// values take precedence over config file and env vars.
func (c *Config) UpdateFromFlags(verbose, quiet, noColor bool, format, logLevel string) {
	c.Verbose = verbose
	c.Quiet = quiet
	c.NoColor = noColor
	if format != "" {
		c.Format = format
	}
	if logLevel != "" {
		c.LogLevel = logLevel
	}
}

// loadEnvFiles loads environment variables from .env files.
// .env.local overrides .env
func loadEnvFiles() {
	for _, envFile := range []string{".env.local", ".env"} {
		_ = godotenv.Load(envFile)
	}
}
