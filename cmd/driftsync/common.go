package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/driftlab/driftsync/internal/config"
)

// loadConfig resolves configuration for a command, applying the persistent
// flag overrides.
func loadConfig(cmd *cobra.Command, logger *log.Logger) (*config.Loader, *config.Config, error) {
	dir, _ := cmd.Flags().GetString("config-dir")

	loader := config.NewLoader(dir, logger)
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, err
	}

	if dataDir, _ := cmd.Flags().GetString("data-dir"); dataDir != "" {
		cfg.DataDir = dataDir
	}
	return loader, cfg, nil
}

// buildLogger returns a logger writing to the configured rotating file, or
// stderr when no file is set.
func buildLogger(cfg *config.Config) (*log.Logger, func()) {
	if cfg.Log.File == "" {
		return log.New(os.Stderr, "", log.LstdFlags), func() {}
	}

	rotator := &lumberjack.Logger{
		Filename:   cfg.Log.File,
		MaxSize:    cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAgeDays,
		Compress:   true,
	}
	// Mirror to stderr so interactive runs still show activity.
	w := io.MultiWriter(os.Stderr, rotator)
	return log.New(w, "", log.LstdFlags), func() {
		if err := rotator.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close log file: %v\n", err)
		}
	}
}
