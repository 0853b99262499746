package application

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/WeWhiskie/WeWhiskie-Beta-sub000/internal/config"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
)

func sqliteConfig(t *testing.T) *config.Config {
	t.Helper()
	chdir(t, t.TempDir())
	cfg, err := config.Load()
	if err != nil {
		t.Fatal(err)
	}
	cfg.DB.Driver = "sqlite"
	cfg.DB.Path = filepath.Join(t.TempDir(), "relay.db")
	cfg.AppHost = "127.0.0.1"
	cfg.HTTPPort = "0"
	cfg.Transcode.OutputDir = t.TempDir()
	return cfg
}

func TestNewLogger(t *testing.T) {
	cfg := &config.Config{AppEnv: "production", LogLevel: "warn"}
	log, err := NewLogger(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if log.Core().Enabled(zapcore.DebugLevel) {
		t.Error("Expected debug disabled at warn level")
	}
	cfg.LogLevel = "loud"
	if _, err := NewLogger(cfg); err == nil {
		t.Error("Expected error for unknown level")
	}
}

func TestAPIStartsAndStops(t *testing.T) {
	cfg := sqliteConfig(t)
	api, err := NewAPI(cfg, zaptest.NewLogger(t))
	if err != nil {
		t.Fatal(err)
	}
	if api.transcoder == nil {
		t.Error("Expected transcoder wired when enabled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- api.Run(ctx) }()
	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected clean shutdown, got %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("api did not stop")
	}
}

func TestNewAPIRejectsInvalidConfig(t *testing.T) {
	cfg := sqliteConfig(t)
	cfg.DB.Driver = "oracle"
	if _, err := NewAPI(cfg, zaptest.NewLogger(t)); err == nil {
		t.Error("Expected config error")
	}
}
