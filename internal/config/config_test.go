package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/zerobuild/zerobuild/internal/config"
)

// clearConfigEnv unsets all environment variables that Load reads so each
// sub-test starts from a clean slate.  t.Setenv already restores values
// after the test, but we also need to make sure variables from the outer
// process don't leak into "defaults" tests.
func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"ZEROBUILD_ADDR",
		"ZEROBUILD_DATA_DIR",
		"ZEROBUILD_PROVIDER",
		"ZEROBUILD_TEMPLATE",
		"ZEROBUILD_DOCKER_IMAGE",
		"ZEROBUILD_SANDBOX_PORT",
		"ZEROBUILD_COMMAND_TIMEOUT",
		"ZEROBUILD_SANDBOX_TIMEOUT",
		"ZEROBUILD_WORKDIR",
		"E2B_API_KEY",
		"E2B_API_BASE",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

// ---------------------------------------------------------------------------
// Load
// ---------------------------------------------------------------------------

func TestLoad_Defaults(t *testing.T) {
	clearConfigEnv(t)

	// Use a temp dir so MkdirAll does not fail and we don't pollute $HOME.
	tmpDir := t.TempDir()
	t.Setenv("ZEROBUILD_DATA_DIR", tmpDir)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}

	if cfg.ServerAddr != ":7090" {
		t.Errorf("ServerAddr = %q, want %q", cfg.ServerAddr, ":7090")
	}
	if cfg.DataDir != tmpDir {
		t.Errorf("DataDir = %q, want %q", cfg.DataDir, tmpDir)
	}
	wantDB := filepath.Join(tmpDir, "zerobuild.db")
	if cfg.DatabasePath != wantDB {
		t.Errorf("DatabasePath = %q, want %q", cfg.DatabasePath, wantDB)
	}
	if cfg.Provider != config.ProviderAuto {
		t.Errorf("Provider = %q, want %q", cfg.Provider, config.ProviderAuto)
	}
	if cfg.Template != "base" {
		t.Errorf("Template = %q, want %q", cfg.Template, "base")
	}
	if cfg.DockerImage != "node:20-slim" {
		t.Errorf("DockerImage = %q, want %q", cfg.DockerImage, "node:20-slim")
	}
	if cfg.SandboxPort != 3000 {
		t.Errorf("SandboxPort = %d, want 3000", cfg.SandboxPort)
	}
	if cfg.CommandTimeout != 2*time.Minute {
		t.Errorf("CommandTimeout = %v, want 2m", cfg.CommandTimeout)
	}
	if cfg.SandboxTimeout != 10*time.Minute {
		t.Errorf("SandboxTimeout = %v, want 10m", cfg.SandboxTimeout)
	}
	if cfg.DefaultWorkdir != "/home/user/app" {
		t.Errorf("DefaultWorkdir = %q, want %q", cfg.DefaultWorkdir, "/home/user/app")
	}
	if cfg.E2BAPIKey != "" {
		t.Errorf("E2BAPIKey = %q, want empty", cfg.E2BAPIKey)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearConfigEnv(t)
	tmpDir := t.TempDir()
	t.Setenv("ZEROBUILD_DATA_DIR", tmpDir)
	t.Setenv("ZEROBUILD_ADDR", ":9999")
	t.Setenv("ZEROBUILD_PROVIDER", "docker")
	t.Setenv("ZEROBUILD_SANDBOX_PORT", "8080")
	t.Setenv("ZEROBUILD_COMMAND_TIMEOUT", "45s")
	t.Setenv("E2B_API_KEY", "e2b_test_key")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}

	if cfg.ServerAddr != ":9999" {
		t.Errorf("ServerAddr = %q, want %q", cfg.ServerAddr, ":9999")
	}
	if cfg.Provider != config.ProviderDocker {
		t.Errorf("Provider = %q, want %q", cfg.Provider, config.ProviderDocker)
	}
	if cfg.SandboxPort != 8080 {
		t.Errorf("SandboxPort = %d, want 8080", cfg.SandboxPort)
	}
	if cfg.CommandTimeout != 45*time.Second {
		t.Errorf("CommandTimeout = %v, want 45s", cfg.CommandTimeout)
	}
	if cfg.E2BAPIKey != "e2b_test_key" {
		t.Errorf("E2BAPIKey = %q, want %q", cfg.E2BAPIKey, "e2b_test_key")
	}
}

func TestLoad_MalformedValuesFallBack(t *testing.T) {
	clearConfigEnv(t)
	tmpDir := t.TempDir()
	t.Setenv("ZEROBUILD_DATA_DIR", tmpDir)
	t.Setenv("ZEROBUILD_SANDBOX_PORT", "not-a-number")
	t.Setenv("ZEROBUILD_COMMAND_TIMEOUT", "soonish")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}
	if cfg.SandboxPort != 3000 {
		t.Errorf("SandboxPort = %d, want default 3000", cfg.SandboxPort)
	}
	if cfg.CommandTimeout != 2*time.Minute {
		t.Errorf("CommandTimeout = %v, want default 2m", cfg.CommandTimeout)
	}
}

// ---------------------------------------------------------------------------
// Validate / ResolveProvider
// ---------------------------------------------------------------------------

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     config.Config
		wantErr bool
	}{
		{"auto", config.Config{Provider: config.ProviderAuto}, false},
		{"docker", config.Config{Provider: config.ProviderDocker}, false},
		{"e2b with key", config.Config{Provider: config.ProviderE2B, E2BAPIKey: "k"}, false},
		{"e2b without key", config.Config{Provider: config.ProviderE2B}, true},
		{"unknown", config.Config{Provider: "podman"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestResolveProvider(t *testing.T) {
	cases := []struct {
		name string
		cfg  config.Config
		want config.Provider
	}{
		{"explicit docker wins over key", config.Config{Provider: config.ProviderDocker, E2BAPIKey: "k"}, config.ProviderDocker},
		{"explicit e2b", config.Config{Provider: config.ProviderE2B, E2BAPIKey: "k"}, config.ProviderE2B},
		{"auto with key", config.Config{Provider: config.ProviderAuto, E2BAPIKey: "k"}, config.ProviderE2B},
		{"auto without key", config.Config{Provider: config.ProviderAuto}, config.ProviderDocker},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.cfg.ResolveProvider(); got != tc.want {
				t.Errorf("ResolveProvider() = %q, want %q", got, tc.want)
			}
		})
	}
}
