package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lumalytics/luma/internal/config"
	"github.com/lumalytics/luma/internal/database"
	"github.com/lumalytics/luma/internal/httpserver"
	"github.com/lumalytics/luma/internal/metrics"
	"github.com/lumalytics/luma/internal/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	logger := setupLogger(cfg)
	defer logger.Sync()

	logger.Info("starting Luma analytics",
		zap.String("env", cfg.Server.Env),
		zap.String("addr", cfg.Server.Addr),
	)

	m := metrics.NewMetrics("luma")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// ClickHouse is the event store; without it there is nothing to serve.
	ch, err := database.NewClickHouseDB(ctx, cfg.ClickHouse, logger)
	if err != nil {
		logger.Fatal("ClickHouse not available", zap.Error(err))
	}
	defer ch.Close()

	// PostgreSQL holds saved charts/dashboards; fall back to in-memory.
	db, err := database.NewPostgresDB(ctx, cfg.Database, logger)
	if err != nil {
		logger.Warn("PostgreSQL not available, using in-memory chart storage", zap.Error(err))
		db = nil
	} else {
		defer db.Close()
	}

	// Redis backs the result cache; computations work without it.
	redis, err := database.NewRedisDB(ctx, cfg.Redis, logger)
	if err != nil {
		logger.Warn("Redis not available, result caching disabled", zap.Error(err))
		redis = nil
	} else {
		defer redis.Close()
	}

	deps := &httpserver.Dependencies{
		ClickHouse: ch,
		DB:         db,
		Redis:      redis,
		Config:     cfg,
		Logger:     logger,
		Metrics:    m,
	}

	handler := httpserver.NewServer(deps)

	// Middleware chain, outermost first: recovery, logging, rate limit, auth.
	rateLimit := middleware.NewRateLimitMiddleware(cfg.RateLimit, logger)
	rateLimit.SetMetrics(m)
	auth := middleware.NewAuthMiddleware(cfg.Auth, logger)
	logging := middleware.NewLoggingMiddleware(logger)
	recovery := middleware.NewRecoveryMiddleware(logger)

	handler = auth.Handler(handler)
	handler = rateLimit.Handler(handler)
	handler = logging.Handler(handler)
	handler = recovery.Handler(handler)

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}

func setupLogger(cfg *config.Config) *zap.Logger {
	var zapCfg zap.Config

	if cfg.IsDevelopment() {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	switch cfg.Log.Level {
	case "debug":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapCfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	}

	logger, err := zapCfg.Build()
	if err != nil {
		panic(fmt.Sprintf("failed to create logger: %v", err))
	}

	return logger
}
