package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

// configKey describes a single configuration value.
type configKey struct {
	Key    string
	Desc   string
	Secret bool
}

// allConfigKeys lists every configurable value in display order.
var allConfigKeys = []configKey{
	{"E2B_API_KEY", "E2B API key (enables the cloud provider)", true},
	{"ZEROBUILD_PROVIDER", "Sandbox provider: auto, e2b, or docker", false},
	{"ZEROBUILD_TEMPLATE", "E2B template ID", false},
	{"ZEROBUILD_DOCKER_IMAGE", "Docker sandbox image", false},
	{"ZEROBUILD_ADDR", "Server listen address", false},
	{"ZEROBUILD_SANDBOX_PORT", "Sandbox app port", false},
	{"ZEROBUILD_WORKDIR", "Default working directory in the sandbox", false},
	{"ZEROBUILD_COMMAND_TIMEOUT", "Per-command execution bound (e.g. 2m)", false},
	{"ZEROBUILD_SANDBOX_TIMEOUT", "Sandbox lifetime hint (e.g. 10m)", false},
}

// ---------------------------------------------------------------------------
// Cobra commands
// ---------------------------------------------------------------------------

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage ZeroBuild configuration",
	Long: `Manage ZeroBuild configuration (API keys, provider, timeouts).

Configuration is stored in ~/.zerobuild/config.env and can be overridden
by environment variables.

  zerobuild config set KEY VALUE      Set a single config value
  zerobuild config show               Show current configuration
  zerobuild config path               Print config file path`,
}

var configSetCmd = &cobra.Command{
	Use:   "set KEY VALUE",
	Short: "Set a config value",
	Long: `Set a single configuration value. Example:
  zerobuild config set E2B_API_KEY e2b_xxxxxxxxxxxx`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  "Display all configured values. Secrets are masked.",
	RunE:  runConfigShow,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print config file path",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(configFilePath())
		return nil
	},
}

func init() {
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPathCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key, value := args[0], args[1]

	values, err := loadConfigFile()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	values[key] = value
	if err := saveConfigFile(values); err != nil {
		return err
	}
	fmt.Printf("Set %s in %s\n", key, configFilePath())
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	values, err := loadConfigFile()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	fmt.Printf("Configuration (%s):\n\n", configFilePath())
	for _, ck := range allConfigKeys {
		v := effectiveValue(ck.Key, values)
		display := "(not set)"
		if v != "" {
			display = v
			if ck.Secret {
				display = maskSecret(v)
			}
		}
		fmt.Printf("  %-28s %s\n", ck.Key, display)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Config file helpers
// ---------------------------------------------------------------------------

// configFilePath returns ~/.zerobuild/config.env.
func configFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".zerobuild", "config.env")
	}
	return filepath.Join(home, ".zerobuild", "config.env")
}

// loadConfigFile reads key=value pairs from the config file.
func loadConfigFile() (map[string]string, error) {
	values := make(map[string]string)

	f, err := os.Open(configFilePath())
	if err != nil {
		if os.IsNotExist(err) {
			return values, nil
		}
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) == 2 {
			values[parts[0]] = parts[1]
		}
	}
	return values, scanner.Err()
}

// saveConfigFile writes key=value pairs to the config file.
func saveConfigFile(values map[string]string) error {
	path := configFilePath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("opening config file: %w", err)
	}
	defer f.Close()

	fmt.Fprintln(f, "# ZeroBuild configuration")
	fmt.Fprintln(f, "# Managed by: zerobuild config")
	fmt.Fprintln(f, "# Environment variables override these values.")
	fmt.Fprintln(f)

	// Write in a stable order: known keys first, then any extras.
	written := make(map[string]bool)
	for _, ck := range allConfigKeys {
		if v, ok := values[ck.Key]; ok && v != "" {
			fmt.Fprintf(f, "%s=%s\n", ck.Key, v)
			written[ck.Key] = true
		}
	}

	var extras []string
	for k := range values {
		if !written[k] && values[k] != "" {
			extras = append(extras, k)
		}
	}
	sort.Strings(extras)
	for _, k := range extras {
		fmt.Fprintf(f, "%s=%s\n", k, values[k])
	}

	return nil
}

// effectiveValue returns the current value for a key, preferring env vars
// over the config file.
func effectiveValue(key string, fileValues map[string]string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fileValues[key]
}

// maskSecret masks a secret string, showing only the first 4 and last 4
// characters.
func maskSecret(s string) string {
	if len(s) <= 12 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}
