// Package main is the entry point for the corpus daemon.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/combiphar/corpus/internal/config"
	"github.com/combiphar/corpus/internal/daemon"
	"github.com/combiphar/corpus/internal/observability"
)

var (
	// Version is set at build time
	Version = "dev"
	// BuildTime is set at build time
	BuildTime = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "corpusd",
		Short: "Corpus daemon - document ingestion and retrieval service",
		Long: `Corpusd ingests documents from the employee portal, the public
websites, and operator uploads, embeds them into pgvector, and serves
hybrid retrieval over an HTTP API.`,
		Version: fmt.Sprintf("%s (built %s)", Version, BuildTime),
		RunE:    runDaemon,
	}

	// Flags
	rootCmd.Flags().String("data-dir", "", "Data directory (default: ~/.corpus)")
	rootCmd.Flags().String("listen", "", "HTTP listen address (default: 127.0.0.1:8085)")
	rootCmd.Flags().String("log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.Flags().String("log-format", "json", "Log format: json, console")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Override with command line flags
	if dataDir, _ := cmd.Flags().GetString("data-dir"); dataDir != "" {
		cfg.DataDir = dataDir
	}
	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		cfg.Server.Listen = listen
	}
	if logLevel, _ := cmd.Flags().GetString("log-level"); logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if logFormat, _ := cmd.Flags().GetString("log-format"); logFormat != "" {
		cfg.LogFormat = logFormat
	}

	// Setup logging
	observability.SetupLogging(cfg.LogLevel, cfg.LogFormat, os.Stderr)

	// Set version info for daemon handlers
	daemon.Version = Version
	daemon.BuildTime = BuildTime

	// Create and run daemon
	d, err := daemon.New(cfg)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}

	return d.Run()
}
