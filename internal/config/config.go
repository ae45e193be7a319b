// Package config maps environment variables (optionally from a .env file) onto
// the settings shared by the nexus daemon and nexusctl.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/pysugar/session-nexus/internal/auth/session"
	"github.com/pysugar/session-nexus/internal/backend"
	"github.com/pysugar/session-nexus/internal/storage"
)

// Config holds runtime configuration.
type Config struct {
	Host          string `env:"HOST" envDefault:"127.0.0.1"`
	Port          string `env:"PORT"`
	Mode          string `env:"NEXUS_MODE" envDefault:"dev"`
	AdminPassword string `env:"NEXUS_ADMIN_PASSWORD"`
	APIKeyAuth    bool   `env:"NEXUS_API_KEY_AUTH" envDefault:"false"`
	MaskSensitive bool   `env:"NEXUS_MASK_SENSITIVE" envDefault:"true"`
	EventLog      bool   `env:"NEXUS_EVENT_LOG" envDefault:"true"`

	DBPath string `env:"NEXUS_DB_PATH" envDefault:"nexus.db"`

	// Session persistence
	SessionBackend string        `env:"NEXUS_SESSION_BACKEND" envDefault:"db"`
	SessionKey     string        `env:"NEXUS_SESSION_KEY" envDefault:"userSession"`
	SessionDir     string        `env:"NEXUS_SESSION_DIR"`
	PollInterval   time.Duration `env:"NEXUS_SESSION_POLL_INTERVAL" envDefault:"2s"`
	RedisURL       string        `env:"NEXUS_REDIS_URL"`
	PruneInterval  time.Duration `env:"NEXUS_PRUNE_INTERVAL" envDefault:"0"` // opt-in; expiry is otherwise checked on demand

	BackendURLs []string `env:"NEXUS_BACKEND_URLS" envSeparator:"," envDefault:"https://api.techquanta.tech"`
}

// Load reads envFiles (default ".env"; missing files are skipped) and then
// parses the environment. Variables already set win over file entries.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: failed to load %s: %w", f, err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: failed to parse environment variables: %w", err)
	}
	if cfg.Port == "" {
		cfg.Port = cfg.defaultPort()
	}
	if len(cfg.BackendURLs) == 0 {
		cfg.BackendURLs = []string{backend.DefaultBaseURL}
	}
	if cfg.SessionKey == "" {
		cfg.SessionKey = session.DefaultKey
	}
	return cfg, nil
}

// IsRelease reports whether NEXUS_MODE is release.
func (c *Config) IsRelease() bool {
	return c.Mode == "release"
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return c.Host + ":" + c.Port
}

// DisplayURL is the address to print for humans.
func (c *Config) DisplayURL() string {
	if c.Host == "0.0.0.0" {
		return "<your-ip>:" + c.Port
	}
	return "localhost:" + c.Port
}

// Storage returns the backend configuration for the session store.
func (c *Config) Storage() storage.Config {
	dir := c.SessionDir
	if dir == "" && c.SessionBackend == storage.KindFile {
		dir = DefaultSessionDir()
	}
	return storage.Config{
		Kind:         c.SessionBackend,
		Dir:          dir,
		DBPath:       c.DBPath,
		PollInterval: c.PollInterval,
		RedisURL:     c.RedisURL,
	}
}

// DefaultSessionDir is ~/.nexus/sessions, or ./sessions without a home directory.
func DefaultSessionDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "sessions"
	}
	return filepath.Join(home, ".nexus", "sessions")
}

// release builds (Homebrew, etc.) listen on 8086, development on 8080
func (c *Config) defaultPort() string {
	if c.IsRelease() {
		return "8086"
	}
	return "8080"
}
