package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/SAP-F-2025/attempt-tracking-service/internal/config"
	"github.com/SAP-F-2025/attempt-tracking-service/internal/utils"
	"github.com/spf13/cobra"
)

var (
	cfg    *config.Config
	logger *slog.Logger

	rootCmd = &cobra.Command{
		Use:   "attempt-service",
		Short: "Tracks exam and quiz attempts from start to submission",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.LoadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cfg = loaded
			logger = utils.NewLogger(cfg.Environment, os.Stdout)
			slog.SetDefault(logger)
			return nil
		},
		SilenceUsage: true,
	}
)

func init() {
	rootCmd.AddCommand(serveCmd, migrateCmd, sweepCmd, flushCacheCmd, simulateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
