package database

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RunSeeds executes every *.sql from database/seeds in lexical order.
func RunSeeds(db *gorm.DB, log *zap.Logger) error {
	dir := findDir("seeds")
	if dir == "" {
		return errors.New("seeds dir not found (tried database/seeds)")
	}
	return runSeedsFrom(db, dir, log)
}

func runSeedsFrom(db *gorm.DB, dir string, log *zap.Logger) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	for _, f := range files {
		body, err := os.ReadFile(filepath.Join(dir, f))
		if err != nil {
			return fmt.Errorf("seed %s: %w", f, err)
		}
		if err := db.Exec(string(body)).Error; err != nil {
			return fmt.Errorf("seed %s: %w", f, err)
		}
		log.Info("seed applied", zap.String("file", f))
	}
	return nil
}
