package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zerobuild/zerobuild/internal/config"
	"github.com/zerobuild/zerobuild/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the ZeroBuild server",
	Long: `Start the HTTP API server. The sandbox backend is selected from
configuration: E2B when an API key is present, local Docker otherwise.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	srv, err := server.New(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return srv.Start(ctx)
}
