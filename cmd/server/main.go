package main

import (
	// Standard library
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	// External dependencies
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	// Internal packages
	"github.com/codedocs/server/cmd/server/internal/api"
	"github.com/codedocs/server/cmd/server/internal/config"
	"github.com/codedocs/server/cmd/server/internal/document"
	"github.com/codedocs/server/cmd/server/internal/middleware"
	"github.com/codedocs/server/cmd/server/internal/room"
	"github.com/codedocs/server/cmd/server/internal/runner"
	"github.com/codedocs/server/cmd/server/internal/storage/postgres"
	"github.com/codedocs/server/cmd/server/internal/users"
	"github.com/codedocs/server/pkg/logger"
)

const (
	tokenTTL        = 24 * time.Hour
	shutdownTimeout = 30 * time.Second
)

func main() {
	logInstance, err := logger.Init(logger.Config{
		Level:       os.Getenv("LOG_LEVEL"),
		Environment: os.Getenv("ENV"),
		WithSource:  !strings.EqualFold(os.Getenv("ENV"), "prod"),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	appLogger := logInstance.With("component", "web-server")

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		appLogger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Validate configuration
	if err := config.ValidateConfig(cfg); err != nil {
		appLogger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	appLogger.Info("configuration loaded", "env", cfg.Server.Env, "port", cfg.Server.Port)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	// Select document and user stores: PostgreSQL when DATABASE_URL is
	// set, file-backed stores under the data directory otherwise.
	var (
		docStore  document.Store
		userStore users.Store
	)
	if cfg.Database.URL != "" {
		pg, err := postgres.New(ctx, cfg.Database.URL)
		if err != nil {
			appLogger.Error("postgres init failed", "error", err)
			os.Exit(1)
		}
		defer pg.Close()
		docStore, userStore = pg, pg
		appLogger.Info("stores ready", "backend", "postgres")
	} else {
		fileDocs, err := document.NewFileStore(filepath.Join(cfg.Data.Dir, "documents"))
		if err != nil {
			appLogger.Error("document store init failed", "error", err)
			os.Exit(1)
		}
		fileUsers, err := users.NewFileStore(filepath.Join(cfg.Data.Dir, "users"))
		if err != nil {
			appLogger.Error("user store init failed", "error", err)
			os.Exit(1)
		}
		docStore, userStore = fileDocs, fileUsers
		appLogger.Info("stores ready", "backend", "file", "dir", cfg.Data.Dir)
	}

	// Initialize user manager
	userManager, err := users.NewManager(userStore, []byte(cfg.Security.JWTSecret), tokenTTL)
	if err != nil {
		appLogger.Error("user manager init failed", "error", err)
		os.Exit(1)
	}

	// Initialize execution supervisor
	whitelist, err := config.LoadSandboxWhitelist(cfg.Sandbox.WhitelistPath)
	if err != nil {
		appLogger.Error("sandbox whitelist init failed", "error", err)
		os.Exit(1)
	}
	runManager, err := runner.NewManager(runner.Options{
		Dir:        cfg.Sandbox.Dir,
		Command:    whitelist.Command,
		ImageFor:   whitelist.Image,
		MaxRunTime: cfg.Sandbox.MaxRunTime,
		IdleFlush:  cfg.Sandbox.IdleFlush,
	}, logInstance.With("component", "runner"), runner.NewAuditLogger(cfg.Sandbox.AuditLogPath))
	if err != nil {
		appLogger.Error("runner init failed", "error", err)
		os.Exit(1)
	}
	appLogger.Info("execution supervisor ready",
		"dir", cfg.Sandbox.Dir, "maxRunTime", cfg.Sandbox.MaxRunTime)

	// Optional Redis mirror for room events
	var mirror *room.Mirror
	if cfg.Redis.Addr != "" {
		mirror = room.NewMirror(cfg.Redis.Addr, logInstance.With("component", "mirror"))
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := mirror.Ping(pingCtx); err != nil {
			appLogger.Error("redis ping failed", "addr", cfg.Redis.Addr, "error", err)
			cancel()
			os.Exit(1)
		}
		cancel()
		defer mirror.Close()
		appLogger.Info("room event mirror ready", "addr", cfg.Redis.Addr)
	}

	hub := room.NewHub(docStore, userManager, runManager, mirror,
		logInstance.With("component", "room"), room.Config{
			LinkAccessOwnerOnly: cfg.Room.LinkAccessOwnerOnly,
		})

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger())

	startTime := time.Now()
	r.GET("/health", healthCheckHandler(cfg, startTime))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api.RegisterRoutes(r, api.Deps{
		Users: userManager,
		Store: docStore,
		Hub:   hub,
		Log:   logInstance.With("component", "api"),
	})

	srv := &http.Server{
		Addr:    cfg.GetServerAddr(),
		Handler: r,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		appLogger.Info("server starting", "addr", srv.Addr, "env", cfg.Server.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		appLogger.Info("shutdown signal received, shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		// Stop accepting connections first, then kill live sandboxes so
		// their rooms can deliver final events before the hub drains.
		err := srv.Shutdown(shutdownCtx)
		runManager.StopAll()
		return err
	})

	if err := g.Wait(); err != nil {
		appLogger.Error("server failed", "error", err)
		os.Exit(1)
	}
	appLogger.Info("server shutdown complete")
}

func healthCheckHandler(cfg *config.Config, startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"env":     cfg.Server.Env,
			"uptime":  time.Since(startTime).Round(time.Second).String(),
			"version": version,
		})
	}
}

// version is stamped at build time via -ldflags.
var version = "dev"
