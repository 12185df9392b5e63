package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"scopekeeper/api/internal/store"
)

func migrateCmd() *cobra.Command {
	var down bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply (or with --down revert) the database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx := context.Background()
			db, dialect, err := openDatabase(ctx, cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			if down {
				if err := store.RevertMigrations(ctx, db, dialect); err != nil {
					return fmt.Errorf("revert migrations: %w", err)
				}
				logger.Info("migrations reverted", zap.String("driver", string(dialect)))
				return nil
			}
			if err := store.ApplyMigrations(ctx, db, dialect); err != nil {
				return fmt.Errorf("apply migrations: %w", err)
			}
			logger.Info("migrations applied", zap.String("driver", string(dialect)))
			return nil
		},
	}
	cmd.Flags().BoolVar(&down, "down", false, "revert every applied migration")
	return cmd
}
