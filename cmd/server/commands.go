package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ifuryst/murmur/internal/service"
	"github.com/ifuryst/murmur/internal/store"
)

var migrateSteps int

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, appLogger, err := loadConfig()
		if err != nil {
			return err
		}
		defer appLogger.Sync()

		if err := store.MigrateUp(cfg.Database.URL()); err != nil {
			return err
		}
		return printVersion(cfg.Database.URL())
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, appLogger, err := loadConfig()
		if err != nil {
			return err
		}
		defer appLogger.Sync()

		if err := store.MigrateDown(cfg.Database.URL(), migrateSteps); err != nil {
			return err
		}
		return printVersion(cfg.Database.URL())
	},
}

func printVersion(url string) error {
	v, dirty, err := store.MigrationVersion(url)
	if err != nil {
		return err
	}
	fmt.Printf("Schema version: %d (dirty: %t)\n", v, dirty)
	return nil
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one reconciliation pass and queue due scheduled publishes",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, appLogger, err := loadConfig()
		if err != nil {
			return err
		}
		defer appLogger.Sync()

		db, err := store.NewDatabase(&cfg.Database)
		if err != nil {
			return err
		}
		pipeline := service.NewPipeline(cfg, db, appLogger)

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
		defer cancel()

		resumed, err := pipeline.Scheduler.RunOnce(ctx)
		if err != nil {
			appLogger.Warn("Sweep finished with errors", zap.Error(err))
		}
		queued, dueErr := pipeline.Scheduler.PublishDue(ctx)
		if dueErr != nil {
			appLogger.Warn("Scheduled publish check finished with errors", zap.Error(dueErr))
		}
		fmt.Printf("Resumed %d content(s), queued %d scheduled publish(es)\n", resumed, queued)
		return multierr.Append(err, dueErr)
	},
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <content-id>",
	Short: "Show a content with its tasks and publications",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, appLogger, err := loadConfig()
		if err != nil {
			return err
		}
		defer appLogger.Sync()

		db, err := store.NewDatabase(&cfg.Database)
		if err != nil {
			return err
		}
		report, err := buildReport(cmd.Context(), store.NewGormStore(db), args[0])
		if err != nil {
			return err
		}
		fmt.Println(report.Render())
		return nil
	},
}

func init() {
	migrateDownCmd.Flags().IntVar(&migrateSteps, "steps", 1, "number of migrations to roll back")
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd)
}
