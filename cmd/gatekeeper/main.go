package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/gatekeeper/internal/app"
	"github.com/odyssey-erp/gatekeeper/internal/authz"
	"github.com/odyssey-erp/gatekeeper/internal/hierarchy"
	"github.com/odyssey-erp/gatekeeper/internal/invalidation"
	"github.com/odyssey-erp/gatekeeper/internal/observability"
	"github.com/odyssey-erp/gatekeeper/internal/platform/cache"
	"github.com/odyssey-erp/gatekeeper/internal/platform/db"
	"github.com/odyssey-erp/gatekeeper/internal/protect"
	"github.com/odyssey-erp/gatekeeper/internal/shared"
	"github.com/odyssey-erp/gatekeeper/internal/teams"
	"github.com/odyssey-erp/gatekeeper/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, running without persistent cache", slog.Any("error", err))
		redisClient = nil
	}
	defer func() {
		if redisClient == nil {
			return
		}
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	tagged := cache.NewTagged(redisClient, "gatekeeper")
	metrics := observability.NewMetrics()

	hierarchyRepo := hierarchy.NewSQLRepository(pool)
	hierarchyService := hierarchy.NewService(logger, hierarchyRepo, tagged, cfg.HierarchyDepthCap, cfg.HierarchyTTL)

	authzRepo := authz.NewSQLRepository(pool)
	for _, key := range shared.CoreKeys() {
		if _, err := authzRepo.EnsurePermission(ctx, authz.Permission{Key: key, Section: "core", Name: key, FromSystem: true}); err != nil {
			logger.Warn("seed permission", slog.String("key", key), slog.Any("error", err))
		}
	}
	resolver := authz.NewResolver(logger, authzRepo, hierarchyService, tagged, metrics, authz.Config{
		BypassAll:       cfg.AuthzBypassAll,
		UndefinedDenied: cfg.AuthzUndefinedDenied,
		ResolutionTTL:   cfg.ResolutionTTL,
	})

	manager := invalidation.NewManager(logger, tagged, metrics)

	queueClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init queue client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Warn("queue client close", slog.Any("error", err))
		}
	}()

	// Mutations invalidate the local cache immediately and enqueue the same
	// event for other instances.
	emitter := teams.Fanout(
		teams.EmitterFunc(manager.Handle),
		queueClient,
	)

	teamsRepo := teams.NewSQLRepository(pool)
	teamsService := teams.NewService(logger, teamsRepo, hierarchyService, resolver, emitter)

	protectService := protect.NewService(logger, resolver, protect.Config{
		BypassAll:            cfg.AuthzBypassAll,
		LazyDefault:          cfg.AuthzLazyProtection,
		ValidateOwnedDefault: cfg.AuthzValidateOwned,
		GlobalOnly:           !cfg.AuthzRestrictByTeam,
	})
	protector := protect.NewBatch(logger, protectService, resolver)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		AuthzHandler:     authz.NewHandler(logger, resolver),
		HierarchyHandler: hierarchy.NewHandler(logger, hierarchyService),
		TeamsHandler:     teams.NewHandler(logger, teamsService, protector),
		Metrics:          metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
