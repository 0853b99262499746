package application

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/WeWhiskie/WeWhiskie-Beta-sub000/internal/analytics"
	"github.com/WeWhiskie/WeWhiskie-Beta-sub000/internal/config"
	"github.com/WeWhiskie/WeWhiskie-Beta-sub000/internal/database"
	"github.com/WeWhiskie/WeWhiskie-Beta-sub000/internal/handler"
	"github.com/WeWhiskie/WeWhiskie-Beta-sub000/internal/healthcheck"
	"github.com/WeWhiskie/WeWhiskie-Beta-sub000/internal/relay"
	"github.com/WeWhiskie/WeWhiskie-Beta-sub000/internal/router"
	"github.com/WeWhiskie/WeWhiskie-Beta-sub000/internal/service"
	"github.com/WeWhiskie/WeWhiskie-Beta-sub000/internal/transcode"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/gorm"
)

// API is the HTTP + WebSocket relay application.
type API struct {
	cfg        *config.Config
	log        *zap.Logger
	srv        *http.Server
	db         *gorm.DB
	hub        *relay.Hub
	recorder   *analytics.Recorder
	transcoder *transcode.Controller // nil when disabled
	health     *healthcheck.Server
}

// NewLogger builds the process logger: development output in development,
// JSON otherwise.
func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.AppEnv == "development" {
		zcfg = zap.NewDevelopmentConfig()
	}
	if cfg.LogLevel != "" {
		level, err := zapcore.ParseLevel(cfg.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		zcfg.Level = zap.NewAtomicLevelAt(level)
	}
	return zcfg.Build()
}

// OpenDatabase opens the configured database and brings its schema up to
// date: SQL migrations for postgres, entity migration for sqlite.
func OpenDatabase(cfg *config.Config, log *zap.Logger) (*gorm.DB, error) {
	if cfg.DB.Driver == "postgres" {
		if err := database.MigrateUp(cfg.DatabaseURL(), log); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	db, err := database.Open(cfg.DB.Driver, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	if cfg.DB.Driver == "sqlite" {
		if err := database.AutoMigrate(db); err != nil {
			return nil, fmt.Errorf("auto migrate: %w", err)
		}
	}
	return db, nil
}

// NewAPI creates the API application: validates config, prepares the
// database and wires the relay.
func NewAPI(cfg *config.Config, log *zap.Logger) (*API, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	db, err := OpenDatabase(cfg, log)
	if err != nil {
		return nil, err
	}

	recorder := analytics.NewRecorder(analytics.NewGormSink(db), 0, log.Named("analytics"))
	health := healthcheck.NewServer(log.Named("grpc"))

	var transcoder *transcode.Controller
	if cfg.Transcode.Enabled {
		launcher, err := transcode.NewFFmpegLauncher(cfg.Transcode.FFmpegPath, cfg.Transcode.ExtraArgs, cfg.Transcode.SegmentSeconds, log.Named("ffmpeg"))
		if err != nil {
			return nil, err
		}
		transcoder = transcode.NewController(transcode.Options{
			OutputDir:      cfg.Transcode.OutputDir,
			HealthInterval: cfg.Transcode.HealthInterval,
			StaleSegment:   cfg.Transcode.StaleSegment,
		}, launcher, recorder, log.Named("transcode"))
		transcoder.SetHealthReporter(health)
	}

	sessions := service.NewSessionService(db, nil)
	hubOpts := relay.Options{
		RateLimitWindow:   cfg.Relay.RateLimitWindow,
		RateLimitMax:      cfg.Relay.RateLimitMax,
		HeartbeatInterval: cfg.Relay.HeartbeatInterval,
		MetricsInterval:   cfg.Relay.MetricsInterval,
		SessionCapacity:   cfg.Relay.SessionCapacity,
		SendBuffer:        cfg.WSSendBuffer,
	}
	var hub *relay.Hub
	if transcoder != nil {
		hub = relay.NewHub(hubOpts, sessions, transcoder, recorder, log.Named("relay"))
		transcoder.OnFailure(hub.TranscodeFailed)
	} else {
		hub = relay.NewHub(hubOpts, sessions, nil, recorder, log.Named("relay"))
	}
	sessions.SetCloser(hub)

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("database handle: %w", err)
	}

	if cfg.AppEnv != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := router.New(
		handler.NewSessionHandler(sessions, hub, cfg.WSBaseURL),
		handler.NewRelayWSHandler(hub, handler.WSOptions{
			ReadBufferSize:  cfg.WSReadBufferSize,
			WriteBufferSize: cfg.WSWriteBufferSize,
			MaxMessageSize:  cfg.WSMaxMessageSize,
			WriteTimeout:    cfg.WSWriteTimeout,
		}, log.Named("ws")),
		handler.NewHealthHandler(hub, sqlDB),
	)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &API{
		cfg:        cfg,
		log:        log,
		srv:        srv,
		db:         db,
		hub:        hub,
		recorder:   recorder,
		transcoder: transcoder,
		health:     health,
	}, nil
}

// Run starts the HTTP server and background loops and blocks until ctx is
// cancelled; then shuts down gracefully.
func (a *API) Run(ctx context.Context) error {
	host := a.cfg.AppHost
	if host == "0.0.0.0" {
		host = "localhost"
	}
	base := "http://" + host + ":" + a.cfg.HTTPPort
	a.log.Info("HTTP server listening",
		zap.String("addr", a.srv.Addr),
		zap.String("health", base+"/health"),
		zap.String("sessions", base+"/sessions"),
		zap.String("ws", "ws://"+host+":"+a.cfg.HTTPPort+"/ws"))

	go a.recorder.Run()

	loopCtx, stopLoops := context.WithCancel(context.Background())
	var loops sync.WaitGroup
	loops.Add(1)
	go func() {
		defer loops.Done()
		a.hub.Run(loopCtx)
	}()
	if a.transcoder != nil {
		loops.Add(1)
		go func() {
			defer loops.Done()
			a.transcoder.Run(loopCtx)
		}()
	}
	if addr := a.cfg.GRPCHealthAddr(); addr != "" {
		loops.Add(1)
		go func() {
			defer loops.Done()
			if err := a.health.Serve(loopCtx, addr); err != nil {
				a.log.Error("grpc health", zap.Error(err))
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		runErr = fmt.Errorf("http: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.srv.Shutdown(shutdownCtx); err != nil {
		a.log.Warn("http shutdown", zap.Error(err))
	}
	stopLoops()
	loops.Wait()
	if a.transcoder != nil {
		a.transcoder.Wait()
	}
	if err := a.recorder.Close(shutdownCtx); err != nil {
		a.log.Warn("analytics drain", zap.Error(err))
	}
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	a.log.Info("relay stopped")
	return runErr
}
