package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/driftlab/driftsync/internal/config"
	"github.com/driftlab/driftsync/internal/schema"
	"github.com/driftlab/driftsync/internal/service"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the sync runtime until interrupted",
	Long: `Run the full driftsync runtime: connectivity probing, queue draining
against the configured API, and the realtime channel client.

Configuration is read from driftsync.yaml (see --config-dir) plus
DRIFTSYNC_* environment variables, and is re-applied on file changes where
possible. Logs rotate via the log.file settings.

Example usage:
  driftsync daemon
  driftsync daemon --config-dir /etc/driftsync
  DRIFTSYNC_API_TOKEN=... driftsync daemon`,
	RunE: func(cmd *cobra.Command, args []string) error {
		loader, cfg, err := loadConfig(cmd, nil)
		if err != nil {
			return err
		}

		logger, closeLogs := buildLogger(cfg)
		defer closeLogs()

		svc, err := service.New(service.Options{Config: cfg, Logger: logger})
		if err != nil {
			return fmt.Errorf("failed to build service: %w", err)
		}

		svc.OnConnectivityChange(func(online bool) {
			logger.Printf("Connectivity changed: online=%v", online)
		})
		svc.OnPermanentFailure(func(op schema.Operation) {
			logger.Printf("Operation %s permanently failed after %d attempts: %s %s",
				op.ID, op.RetryCount, op.Method, op.Endpoint)
		})

		channels, _ := cmd.Flags().GetStringSlice("subscribe")
		for _, ch := range channels {
			ch := ch
			svc.Channel().Subscribe(ch, func(data json.RawMessage) {
				logger.Printf("Event on %s: %s", ch, data)
			})
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := svc.Start(ctx); err != nil {
			return err
		}

		// Live-reload is limited to settings the components re-read; a
		// restart picks up the rest.
		loader.Watch(func(next *config.Config) {
			logger.Printf("Config file changed; some settings require a restart")
		})

		fmt.Printf("driftsync daemon started (data dir %s)\n", cfg.DataDir)
		fmt.Println("Press Ctrl+C to stop...")

		<-ctx.Done()

		fmt.Println("\nShutting down...")
		if err := svc.Stop(); err != nil {
			return fmt.Errorf("shutdown failed: %w", err)
		}
		fmt.Println("driftsync daemon stopped")
		return nil
	},
}

func init() {
	daemonCmd.Flags().StringSlice("subscribe", nil, "Realtime channels to subscribe and log")
	rootCmd.AddCommand(daemonCmd)
}
