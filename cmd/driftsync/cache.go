package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/driftlab/driftsync/internal/cache"
	"github.com/driftlab/driftsync/internal/sched"
	"github.com/driftlab/driftsync/internal/store"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and manage the read cache",
}

var cacheGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print a cached value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, st, err := openCache(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		raw, ok := c.GetRaw(context.Background(), args[0])
		if !ok {
			return fmt.Errorf("no cached value for %q", args[0])
		}
		fmt.Println(string(raw))
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop all cached values",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, st, err := openCache(cmd)
		if err != nil {
			return err
		}
		defer st.Close()

		n, err := c.Clear(context.Background())
		if err != nil {
			return err
		}
		fmt.Printf("Cleared %d cache entries\n", n)
		return nil
	},
}

func openCache(cmd *cobra.Command) (*cache.Cache, *store.Store, error) {
	_, cfg, err := loadConfig(cmd, nil)
	if err != nil {
		return nil, nil, err
	}

	st, err := store.Open(filepath.Join(cfg.DataDir, "driftsync.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open store: %w", err)
	}
	return cache.New(st, sched.Real(), log.New(io.Discard, "", 0)), st, nil
}

func init() {
	cacheCmd.AddCommand(cacheGetCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}
