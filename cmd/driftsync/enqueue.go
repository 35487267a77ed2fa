package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/driftlab/driftsync/internal/queue"
	"github.com/driftlab/driftsync/internal/sched"
	"github.com/driftlab/driftsync/internal/schema"
	"github.com/driftlab/driftsync/internal/store"
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <method> <endpoint> [payload]",
	Short: "Queue an operation for delivery",
	Long: `Append an operation to the durable queue. A running daemon picks it up
on its next drain; without a daemon the operation waits in the store.

Example usage:
  driftsync enqueue CREATE /notes '{"title":"offline note"}'
  driftsync enqueue DELETE /notes/42 --priority high`,
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, cfg, err := loadConfig(cmd, nil)
		if err != nil {
			return err
		}

		method := schema.Method(args[0])
		var payload []byte
		if len(args) == 3 {
			payload = []byte(args[2])
		}

		prioFlag, _ := cmd.Flags().GetString("priority")
		priority := schema.ParsePriority(prioFlag)

		st, err := store.Open(filepath.Join(cfg.DataDir, "driftsync.db"))
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		defer st.Close()

		q, err := queue.New(st, sched.Real(), log.New(io.Discard, "", 0))
		if err != nil {
			return fmt.Errorf("failed to load queue: %w", err)
		}

		op, err := q.Enqueue(context.Background(), queue.Draft{
			Method:   method,
			Endpoint: args[1],
			Payload:  payload,
			Priority: priority,
		})
		if err != nil {
			return err
		}

		fmt.Printf("Queued %s (%d pending)\n", op.ID, q.Len())
		return nil
	},
}

func init() {
	enqueueCmd.Flags().StringP("priority", "p", "medium", "Priority: low, medium, or high")
	rootCmd.AddCommand(enqueueCmd)
}
