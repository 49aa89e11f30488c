// Package config provides configuration management for ZeroBuild.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Provider selects the sandbox backend.
type Provider string

const (
	// ProviderAuto picks E2B when an API key is present, Docker otherwise.
	ProviderAuto Provider = "auto"
	// ProviderE2B runs sandboxes as E2B cloud MicroVMs.
	ProviderE2B Provider = "e2b"
	// ProviderDocker runs sandboxes as local Docker containers.
	ProviderDocker Provider = "docker"
)

// Config holds all configuration for the ZeroBuild server.
type Config struct {
	// ServerAddr is the address the HTTP server listens on (e.g., ":7090").
	ServerAddr string

	// DataDir is the directory for persistent data (SQLite DB, etc.).
	DataDir string

	// DatabasePath is the full path to the SQLite database file.
	DatabasePath string

	// Provider selects the sandbox backend: auto, e2b, or docker.
	Provider Provider

	// E2BAPIKey authenticates against the E2B cloud API.
	E2BAPIKey string

	// E2BAPIBase overrides the E2B API endpoint. Empty means the default.
	E2BAPIBase string

	// Template is the E2B template ID used when creating cloud sandboxes.
	Template string

	// DockerImage is the base sandbox Docker image name.
	DockerImage string

	// SandboxPort is the container/MicroVM port preview servers listen on.
	SandboxPort int

	// CommandTimeout is the default per-command execution bound.
	CommandTimeout time.Duration

	// SandboxTimeout is the lifetime hint passed to cloud sandboxes.
	SandboxTimeout time.Duration

	// DefaultWorkdir is the working directory commands run in when the
	// caller does not name one.
	DefaultWorkdir string
}

// Load creates a Config from the config file and environment variables.
// Values are resolved in order: environment variable > config file > default.
func Load() (*Config, error) {
	// Load ~/.zerobuild/config.env into the environment. godotenv never
	// overrides variables that are already set, so env vars win.
	_ = godotenv.Load(filepath.Join(defaultDataDir(), "config.env"))

	dataDir := envOr("ZEROBUILD_DATA_DIR", defaultDataDir())
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	cfg := &Config{
		ServerAddr:     envOr("ZEROBUILD_ADDR", ":7090"),
		DataDir:        dataDir,
		DatabasePath:   filepath.Join(dataDir, "zerobuild.db"),
		Provider:       Provider(envOr("ZEROBUILD_PROVIDER", string(ProviderAuto))),
		E2BAPIKey:      os.Getenv("E2B_API_KEY"),
		E2BAPIBase:     os.Getenv("E2B_API_BASE"),
		Template:       envOr("ZEROBUILD_TEMPLATE", "base"),
		DockerImage:    envOr("ZEROBUILD_DOCKER_IMAGE", "node:20-slim"),
		SandboxPort:    envOrInt("ZEROBUILD_SANDBOX_PORT", 3000),
		CommandTimeout: envOrDuration("ZEROBUILD_COMMAND_TIMEOUT", 2*time.Minute),
		SandboxTimeout: envOrDuration("ZEROBUILD_SANDBOX_TIMEOUT", 10*time.Minute),
		DefaultWorkdir: envOr("ZEROBUILD_WORKDIR", "/home/user/app"),
	}

	return cfg, nil
}

// Validate checks that the configuration names a usable backend.
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderAuto, ProviderDocker:
		return nil
	case ProviderE2B:
		if c.E2BAPIKey == "" {
			return fmt.Errorf("ZEROBUILD_PROVIDER=e2b requires E2B_API_KEY")
		}
		return nil
	default:
		return fmt.Errorf("unknown provider %q (want auto, e2b, or docker)", c.Provider)
	}
}

// ResolveProvider collapses ProviderAuto into a concrete backend: E2B when
// an API key is configured, Docker otherwise.
func (c *Config) ResolveProvider() Provider {
	if c.Provider != ProviderAuto {
		return c.Provider
	}
	if c.E2BAPIKey != "" {
		return ProviderE2B
	}
	return ProviderDocker
}

func envOrDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".zerobuild"
	}
	return filepath.Join(home, ".zerobuild")
}
