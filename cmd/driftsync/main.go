// Command driftsync runs the offline-first sync runtime: a durable
// operation queue drained when the network allows, a TTL read cache, and a
// realtime channel client.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/driftlab/driftsync/internal/ui"
)

var rootCmd = &cobra.Command{
	Use:   "driftsync",
	Short: "Offline-first operation queue and sync runtime",
	Long: `driftsync queues mutations while the network is unavailable and replays
them in priority order once connectivity returns. Queued operations and
cached reads survive restarts in a local SQLite database.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().String("config-dir", "", "Directory containing driftsync.yaml (default: working directory)")
	rootCmd.PersistentFlags().String("data-dir", "", "Override the data directory")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ui.Errorf("Error: %v", err))
		os.Exit(1)
	}
}
