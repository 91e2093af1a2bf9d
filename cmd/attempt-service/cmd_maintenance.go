package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/SAP-F-2025/attempt-tracking-service/internal/repositories/postgres"
	"github.com/SAP-F-2025/attempt-tracking-service/internal/services"
	"github.com/SAP-F-2025/attempt-tracking-service/pkg"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the attempt tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := pkg.InitDatabase(cfg)
		if err != nil {
			return err
		}
		if err := postgres.AutoMigrate(db); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		logger.Info("Database migrated")
		return nil
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Expire and abandon stale attempts once",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := pkg.InitDatabase(cfg)
		if err != nil {
			return err
		}

		publisher, err := cfg.Events.CreateEventPublisher(logger)
		if err != nil {
			return fmt.Errorf("create event publisher: %w", err)
		}
		defer publisher.Close()

		sweeper := services.NewAttemptSweeper(
			postgres.NewRepository(db),
			newAttemptCache(cmd.Context()),
			publisher,
			logger,
			serviceConfig().Sweep,
		)
		result, err := sweeper.Sweep(cmd.Context())
		if err != nil {
			return err
		}
		return json.NewEncoder(os.Stdout).Encode(result)
	},
}

var flushCacheCmd = &cobra.Command{
	Use:   "flush-cache",
	Short: "Drop every cached attempt snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		attemptCache := newAttemptCache(cmd.Context())
		if err := attemptCache.Flush(cmd.Context()); err != nil {
			return fmt.Errorf("flush attempt cache: %w", err)
		}
		logger.Info("Attempt cache flushed", "cache", attemptCache.Status())
		return nil
	},
}
