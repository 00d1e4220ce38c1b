package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"example.com/meal-planner/backend/internal/cache"
	"example.com/meal-planner/backend/internal/config"
	"example.com/meal-planner/backend/internal/database"
	"example.com/meal-planner/backend/internal/metrics"
	"example.com/meal-planner/backend/internal/server"
)

func main() {
	ensureEnvFile()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	ctx := context.Background()

	db, err := database.Open(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer func() {
		db.Close()
	}()

	if cfg.Database.Migrate {
		if err := database.Migrate(cfg.Database); err != nil {
			logger.Error("failed to apply migrations", slog.String("error", err.Error()))
			db.Close()
			os.Exit(1)
		}
		logger.Info("database migrations applied")
	}

	deps := server.Deps{DB: db}

	if cfg.Redis.Enabled() {
		redisCache, err := cache.Connect(ctx, cfg.Redis)
		if err != nil {
			logger.Warn("redis unavailable, meal type cache disabled", slog.String("error", err.Error()))
		} else {
			deps.Cache = redisCache
			defer func() {
				_ = redisCache.Close()
			}()
		}
	}

	if cfg.Metrics.Enabled {
		deps.Metrics = metrics.NewRecorder()
	}

	e := server.New(cfg, logger, deps)
	httpServer := server.NewHTTPServer(cfg.Server, e)

	go func() {
		logger.Info("http server started", slog.String("addr", httpServer.Addr))
		if err := e.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	shutdownSignal := make(chan os.Signal, 1)
	signal.Notify(shutdownSignal, syscall.SIGINT, syscall.SIGTERM)
	<-shutdownSignal

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.String("error", err.Error()))
	}
}

func ensureEnvFile() {
	if os.Getenv("ENV_FILE") != "" {
		return
	}

	if _, err := os.Stat(".env"); err == nil {
		_ = os.Setenv("ENV_FILE", ".env")
		return
	}

	if _, err := os.Stat("../.env"); err == nil {
		_ = os.Setenv("ENV_FILE", "../.env")
	}
}
