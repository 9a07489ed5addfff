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

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/warden-rbac/warden/internal/app"
	"github.com/warden-rbac/warden/internal/auth"
	"github.com/warden-rbac/warden/internal/observability"
	"github.com/warden-rbac/warden/internal/platform/cache"
	"github.com/warden-rbac/warden/internal/platform/db"
	"github.com/warden-rbac/warden/internal/rbac"
	"github.com/warden-rbac/warden/internal/roles"
	"github.com/warden-rbac/warden/internal/users"
	"github.com/warden-rbac/warden/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	if cfg.MigrateOnStart {
		if err := db.Migrate(ctx, cfg.PGDSN); err != nil {
			logger.Error("migrate database", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("database migrated")
	}

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	breaker := cache.NewBreakerHook(cache.DefaultBreakerConfig(), logger)
	redisClient, err := cache.New(ctx, cfg.RedisAddr, breaker)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	aside := cache.NewAside(redisClient)

	graph := rbac.NewRepository(dbpool)
	versions := rbac.NewVersions(redisClient, cfg.VersionTTL)
	whitelist := rbac.NewWhitelist(cfg.APIWhitelist, redisClient, graph, 0)
	menus := rbac.NewMenus(graph, graph, versions, aside, cfg.MenuCacheTTL, logger)
	resolver := rbac.NewResolver(graph, versions, whitelist, aside, logger, rbac.ResolverConfig{
		DemoMode: cfg.DemoMode,
		CacheTTL: cfg.PermissionCacheTTL,
	}, rbac.WithObserver(metrics))
	rbacService := rbac.NewService(versions, menus, logger)

	usersService := users.NewService(users.NewRepository(dbpool), rbacService, logger)
	rolesService := roles.NewService(roles.NewRepository(dbpool), rbacService, logger)

	blacklist := auth.NewBlacklist(redisClient, cfg.JWTRefreshTTL)
	codec, err := auth.NewTokenCodec(auth.TokenConfig{
		AccessSecret:  cfg.JWTAccessSecret,
		RefreshSecret: cfg.JWTRefreshSecret,
		Algorithm:     cfg.JWTAlgorithm,
		AccessTTL:     cfg.JWTAccessTTL,
		RefreshTTL:    cfg.JWTRefreshTTL,
	}, blacklist)
	if err != nil {
		logger.Error("token codec", slog.Any("error", err))
		os.Exit(1)
	}
	throttle := auth.NewThrottle(redisClient, auth.ThrottleConfig{
		MaxAttempts:      cfg.LoginMaxAttempts,
		AttemptWindow:    cfg.LoginAttemptWindow,
		IPLockout:        cfg.IPLockout,
		AccountThreshold: cfg.AccountLockThreshold,
		AccountWindow:    cfg.AccountLockWindow,
		RefreshLimit:     cfg.RefreshLimit,
		RefreshWindow:    cfg.RefreshWindow,
	})
	authService := auth.NewService(usersService, codec, blacklist, throttle, rbacService, logger)
	authMiddleware := auth.NewMiddleware(codec, usersService, resolver, logger)

	inspector := asynq.NewInspectorFromRedisClient(redisClient)
	jobClient := jobs.NewClient(redisClient)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	for _, task := range []string{jobs.TaskWhitelistRefresh, jobs.TaskMenuWarmup} {
		if _, err := jobClient.Enqueue(ctx, task, asynq.Unique(time.Minute)); err != nil && !errors.Is(err, asynq.ErrDuplicateTask) {
			logger.Warn("enqueue startup task", slog.String("task", task), slog.Any("error", err))
		}
	}

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		AuthHandler:    auth.NewHandler(logger, authService, authMiddleware, menus),
		AuthMiddleware: authMiddleware,
		UsersHandler:   users.NewHandler(logger, usersService, authService),
		RolesHandler:   roles.NewHandler(logger, rolesService),
		JobHandler:     jobs.NewHandler(inspector, redisClient, logger),
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if err := group.Wait(); err != nil {
		logger.Error("http server", slog.Any("error", err))
		os.Exit(1)
	}
}
