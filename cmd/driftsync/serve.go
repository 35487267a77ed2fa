package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/driftlab/driftsync/internal/hub"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a local channel hub for development",
	Long: `Start a WebSocket hub compatible with the realtime client. Clients
subscribe to named channels; events emitted on a channel are forwarded to
every other subscriber.

Example usage:
  driftsync serve               # Listen on default port 8080
  driftsync serve --port 9000

Point clients at:
  ws://localhost:<port>/ws`,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetInt("port")

		server := hub.NewServer(&hub.Config{
			Port:   port,
			Logger: log.New(os.Stderr, "[hub] ", log.LstdFlags),
		})
		if err := server.Start(); err != nil {
			return fmt.Errorf("failed to start hub: %w", err)
		}

		fmt.Printf("Channel hub listening on ws://%s/ws\n", server.Addr())
		fmt.Println("Press Ctrl+C to stop...")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		<-ctx.Done()

		fmt.Println("\nShutting down hub...")
		return server.Stop()
	},
}

func init() {
	serveCmd.Flags().IntP("port", "p", 8080, "Port to listen on")
	rootCmd.AddCommand(serveCmd)
}
