package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/docsort/internal/logging"
	pgstore "github.com/JakeFAU/docsort/internal/storage/postgres"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending Postgres migrations",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Database.Backend != "postgres" {
				return errors.New("migrate requires database.backend=postgres")
			}
			logger, err := logging.New(cfg.Logging.Development, "migrate")
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			if err := pgstore.RunMigrations(cfg.Database.DSN, logger); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			logger.Info("migrations applied", zap.String("backend", cfg.Database.Backend))
			return nil
		},
	}
}
