package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/t-kalinowski/positron/host"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the session API",
	Long: `Serve the session API until interrupted.

Each StartSession call binds the configured sockets, writes a connection
file, and runs the kernel command for the requested language. On SIGINT or
SIGTERM every session is shut down before the command exits.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		h, err := host.New(cfg)
		if err != nil {
			return fmt.Errorf("failed to create host: %w", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return h.Serve(ctx)
	},
}
