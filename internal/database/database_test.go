package database

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/WeWhiskie/WeWhiskie-Beta-sub000/internal/model"
	"go.uber.org/zap/zaptest"
)

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open("oracle", "x"); err == nil {
		t.Error("Expected error for unknown driver")
	}
}

func TestSeedsApplyOnSqlite(t *testing.T) {
	db, err := Open("sqlite", filepath.Join(t.TempDir(), "relay.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	if err := runSeedsFrom(db, filepath.Join("..", "..", "database", "seeds"), zaptest.NewLogger(t)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	var s model.LiveSession
	if err := db.Where("id = ?", "42").First(&s).Error; err != nil {
		t.Fatalf("seeded session missing: %v", err)
	}
	if s.Status != string(model.SessionStatusLive) {
		t.Errorf("Expected seeded session to be live, got %s", s.Status)
	}
}

func TestCreateMigration(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	if err := CreateMigration("add_index"); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(filepath.Join(dir, "database", "migrations"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 migration files, got %d", len(entries))
	}
	for _, e := range entries {
		if !strings.Contains(e.Name(), "_add_index.") {
			t.Errorf("Unexpected migration file %s", e.Name())
		}
	}
}
