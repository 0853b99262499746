package cmd

import (
	"errors"
	"fmt"

	"github.com/WeWhiskie/WeWhiskie-Beta-sub000/internal/application"
	"github.com/WeWhiskie/WeWhiskie-Beta-sub000/internal/database"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations (postgres: database/migrations, sqlite: entity schema)",
	RunE:  runMigrateUp,
}

func runMigrateUp(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	switch cfg.DB.Driver {
	case "postgres":
		return database.MigrateUp(cfg.DatabaseURL(), log)
	case "sqlite":
		db, err := application.OpenDatabase(cfg, log)
		if err != nil {
			return err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return errors.New("migrate: unsupported driver " + cfg.DB.Driver)
}
