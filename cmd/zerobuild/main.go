// ZeroBuild
//
// A provider-agnostic sandbox runtime for app-building agents. One command
// surface over E2B cloud MicroVMs and local Docker containers.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	serverURL string
)

var rootCmd = &cobra.Command{
	Use:   "zerobuild",
	Short: "ZeroBuild - Sandbox Runtime",
	Long: `ZeroBuild runs application sandboxes behind one interface, on E2B
cloud MicroVMs or local Docker containers.

  zerobuild serve                          Start the server
  zerobuild sandbox create                 Provision a sandbox
  zerobuild sandbox run "npm run build"    Execute a command
  zerobuild sandbox write app.js           Write a file from stdin
  zerobuild sandbox preview                Get the preview URL
  zerobuild snapshot create                Capture the workspace
  zerobuild config set KEY VALUE           Set a config value`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("ZEROBUILD_SERVER", "http://localhost:7090"), "ZeroBuild server URL")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
