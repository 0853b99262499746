package cmd

import (
	"fmt"

	"github.com/WeWhiskie/WeWhiskie-Beta-sub000/internal/application"
	"github.com/WeWhiskie/WeWhiskie-Beta-sub000/internal/database"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Prepare the schema and load demo sessions from database/seeds",
	RunE:  runSeed,
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	db, err := application.OpenDatabase(cfg, log)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()
	if err := database.RunSeeds(db, log); err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	log.Info("seeds applied", zap.String("driver", cfg.DB.Driver))
	return nil
}
