// Package config loads BAP's process configuration from the environment
// via envconfig struct tags, with defaults for every field so the server
// runs out of the box in development.
//
// Grounded on Watchdog's internal/config/config.go: the nested
// sub-config-struct-per-concern layout, envconfig tag usage, and the
// Load()+validate() split are carried over directly.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config is BAP's top-level process configuration.
type Config struct {
	Server ServerConfig
	Log LogConfig
	Session SessionConfig
	Engine EngineConfig
	Security SecurityConfig
}

// ServerConfig holds the WebSocket/HTTP listener configuration.
type ServerConfig struct {
	Host string `envconfig:"BAP_HOST" default:"0.0.0.0"`
	Port int `envconfig:"BAP_PORT" default:"8877"`
	ReadTimeout time.Duration `envconfig:"BAP_READ_TIMEOUT" default:"30s"`
	WriteTimeout time.Duration `envconfig:"BAP_WRITE_TIMEOUT" default:"10s"`
	MaxFrameSize int64 `envconfig:"BAP_MAX_FRAME_SIZE" default:"10485760"`
}

func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LogConfig controls zap's output.
type LogConfig struct {
	Level string `envconfig:"BAP_LOG_LEVEL" default:"info"`
	Format string `envconfig:"BAP_LOG_FORMAT" default:"json"`
}

// SessionConfig controls per-session resource bounds.
type SessionConfig struct {
	MaxContexts int `envconfig:"BAP_MAX_CONTEXTS" default:"10"`
	MaxPagesPerCtx int `envconfig:"BAP_MAX_PAGES_PER_CONTEXT" default:"20"`
	IdleTimeout time.Duration `envconfig:"BAP_SESSION_IDLE_TIMEOUT" default:"5m"`
	MaxLifetime time.Duration `envconfig:"BAP_SESSION_MAX_LIFETIME" default:"2h"`
}

// EngineConfig controls the BrowserEngine adapter.
type EngineConfig struct {
	Kind string `envconfig:"BAP_ENGINE" default:"rod"`
	ChromeBinary string `envconfig:"BAP_CHROME_BIN"`
	DownloadsPath string `envconfig:"BAP_DOWNLOADS_PATH" default:"./downloads"`
	Headless bool `envconfig:"BAP_HEADLESS" default:"true"`
}

// SecurityConfig controls the policy stack's allow/deny lists and the
// scopes a session is granted at initialize.
type SecurityConfig struct {
	AllowedHosts []string `envconfig:"BAP_ALLOWED_HOSTS"`
	DeniedHosts []string `envconfig:"BAP_DENIED_HOSTS"`
	RequireAuth bool `envconfig:"BAP_REQUIRE_AUTH" default:"false"`
	AuthToken string `envconfig:"BAP_AUTH_TOKEN"`

	// Scopes, if non-empty, is the explicit comma-separated scope grant
	// for every session; it takes priority over ScopeProfile. Neither is
	// ever overridden by a client's initialize params.scopes.
	Scopes []string `envconfig:"BAP_SCOPES"`
	ScopeProfile string `envconfig:"BAP_SCOPE_PROFILE" default:"standard"`

	AllowedOrigins []string `envconfig:"BAP_ALLOWED_ORIGINS"`
	AllowedDownloadDirs []string `envconfig:"BAP_ALLOWED_DOWNLOAD_DIRS"`
	MaxConnectionsPerIP int `envconfig:"BAP_MAX_CONNECTIONS_PER_IP" default:"10"`

	Debug bool `envconfig:"BAP_DEBUG" default:"false"`
	NodeEnv string `envconfig:"NODE_ENV" default:"production"`
}

// Load reads configuration from the environment, then overlays a JSON
// file named by BAP_CONFIG_FILE if set (file values win over env values
// for fields present in the file, matching the layering order common
// deployment configs document).
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if path := os.Getenv("BAP_CONFIG_FILE"); path != "" {
		if err := overlayFile(&cfg, path); err != nil {
			return nil, fmt.Errorf("config: overlay %s: %w", path, err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &cfg, nil
}

func overlayFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, cfg)
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("BAP_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Security.RequireAuth && c.Security.AuthToken == "" {
		return fmt.Errorf("BAP_REQUIRE_AUTH is set but BAP_AUTH_TOKEN is empty")
	}
	switch c.Engine.Kind {
	case "rod", "fake":
	default:
		return fmt.Errorf("BAP_ENGINE must be %q or %q, got %q", "rod", "fake", c.Engine.Kind)
	}
	switch c.Security.ScopeProfile {
	case "readonly", "standard", "full", "privileged":
	default:
		return fmt.Errorf("BAP_SCOPE_PROFILE must be one of readonly, standard, full, privileged, got %q", c.Security.ScopeProfile)
	}
	if c.Security.MaxConnectionsPerIP <= 0 {
		return fmt.Errorf("BAP_MAX_CONNECTIONS_PER_IP must be positive, got %d", c.Security.MaxConnectionsPerIP)
	}
	return nil
}

// RequireTLS reports whether the server must refuse to accept plaintext
// WebSocket upgrades: production deployments (NODE_ENV=production, the
// default) always require TLS unless BAP_DEBUG opts out for local dev.
func (c *Config) RequireTLS() bool {
	return c.Security.NodeEnv == "production" && !c.Security.Debug
}
