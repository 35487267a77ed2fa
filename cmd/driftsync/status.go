package main

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/driftlab/driftsync/internal/store"
	"github.com/driftlab/driftsync/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queued operations and connectivity",
	Long: `Inspect the durable state: how many operations are waiting for
delivery, what they are, and whether the configured probe address is
currently reachable.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, cfg, err := loadConfig(cmd, nil)
		if err != nil {
			return err
		}

		st, err := store.Open(filepath.Join(cfg.DataDir, "driftsync.db"))
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		defer st.Close()

		ctx := context.Background()
		ops, err := st.LoadQueue(ctx)
		if err != nil {
			return fmt.Errorf("failed to load queue: %w", err)
		}

		online := probeOnce(cfg.Network.ProbeAddr)

		fmt.Println(ui.Title("driftsync status"))
		fmt.Printf("%s %s\n", ui.Label("network:"), ui.ConnState(online))
		fmt.Printf("%s %s\n", ui.Label("pending:"), ui.Pending(len(ops)))

		if len(ops) > 0 {
			verbose, _ := cmd.Flags().GetBool("verbose")
			fmt.Println()
			for _, op := range ops {
				fmt.Printf("  %s %-6s %-7s %s", op.ID[:8], op.Method, op.Priority, op.Endpoint)
				if op.RetryCount > 0 {
					fmt.Printf(" (%d retries)", op.RetryCount)
				}
				fmt.Println()
				if verbose && len(op.Payload) > 0 {
					fmt.Printf("           %s\n", op.Payload)
				}
			}
		}
		return nil
	},
}

// probeOnce is a one-shot reachability check for the status display.
func probeOnce(addr string) bool {
	conn, err := net.DialTimeout("tcp", addr, 3*time.Second)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

func init() {
	statusCmd.Flags().BoolP("verbose", "v", false, "Include operation payloads")
	rootCmd.AddCommand(statusCmd)
}
