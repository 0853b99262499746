package database

import (
	"fmt"

	"github.com/WeWhiskie/WeWhiskie-Beta-sub000/internal/model"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open opens a GORM connection for the given driver ("postgres" or "sqlite").
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres", "":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	return db, nil
}

// AutoMigrate creates the schema from the GORM entities. Used for sqlite,
// where the SQL migrations (postgres dialect) do not apply.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.LiveSession{},
		&model.StreamConfig{},
		&model.StreamStats{},
		&model.ViewerAnalytics{},
	)
}
