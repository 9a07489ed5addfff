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

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/warden-rbac/warden/internal/app"
	jobmetrics "github.com/warden-rbac/warden/internal/jobs"
	"github.com/warden-rbac/warden/internal/platform/cache"
	"github.com/warden-rbac/warden/internal/platform/db"
	"github.com/warden-rbac/warden/internal/rbac"
	"github.com/warden-rbac/warden/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr, cache.NewBreakerHook(cache.DefaultBreakerConfig(), logger))
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	graph := rbac.NewRepository(pool)
	versions := rbac.NewVersions(redisClient, cfg.VersionTTL)
	whitelist := rbac.NewWhitelist(cfg.APIWhitelist, redisClient, graph, 0)
	menus := rbac.NewMenus(graph, graph, versions, cache.NewAside(redisClient), cfg.MenuCacheTTL, logger)
	metrics := jobmetrics.NewMetrics(nil)

	registry := jobs.NewRegistry()
	if err := jobs.RegisterDefaults(registry,
		&jobs.WhitelistRefreshJob{Whitelist: whitelist, Logger: logger, Metrics: metrics},
		&jobs.MenuWarmupJob{Menus: menus, Logger: logger, Metrics: metrics},
		&jobs.HeartbeatJob{Redis: redisClient, Metrics: metrics},
	); err != nil {
		logger.Error("register jobs", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		Redis:           redisClient,
		Logger:          logger,
		Registry:        registry,
		Concurrency:     cfg.WorkerConcurrency,
		EnableScheduler: cfg.SchedulerEnabled,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	metricsServer := &http.Server{
		Addr:              cfg.WorkerMetricsAddr,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := worker.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		logger.Info("worker metrics listening", slog.String("addr", cfg.WorkerMetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(shutdownCtx)
	})
	if err := group.Wait(); err != nil {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
