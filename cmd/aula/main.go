package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/aula/internal/config"
)

// Version is set at build time via ldflags
var Version = "dev"

var (
	// configDir overrides ~/.aula
	configDir string
	cfg       *config.Config

	rootCmd = &cobra.Command{
		Use:   "aula",
		Short: "Exercise content generation and submission review",
		Long: `aula generates exercise content with an LLM, grades student submissions
with an AI judge and routes them to instructors for review.`,
		Version:           Version,
		SilenceUsage:      true,
		PersistentPreRunE: loadConfig,
	}
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "", "configuration directory (default ~/.aula)")

	rootCmd.AddCommand(startCmd, stopCmd, statusCmd, logsCmd)
	rootCmd.AddCommand(migrateCmd, importCmd)
	rootCmd.AddCommand(mcpCmd, listenCmd, historyCmd)
	rootCmd.AddCommand(versionCmd)

	listenCmd.Flags().StringVarP(&listenQueue, "queue", "q", "grades", "queue to consume: grades or audit")
	listenCmd.Flags().IntVarP(&listenWorkers, "workers", "w", 1, "concurrent consumers")
	migrateCmd.Flags().StringVar(&catalogPath, "catalog", "", "catalog YAML to import after migrating")
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "aula %s\n", Version)
	},
}

// loadConfig reads configuration and sends logs to stderr, leaving
// stdout to command output and the MCP stdio transport.
func loadConfig(cmd *cobra.Command, args []string) error {
	c, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg = c

	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(cfg.Daemon.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})))
	return nil
}
