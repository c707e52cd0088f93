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
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/logistics-ledger/internal/app"
	"github.com/odyssey-erp/logistics-ledger/internal/auth"
	"github.com/odyssey-erp/logistics-ledger/internal/ledger"
	"github.com/odyssey-erp/logistics-ledger/internal/observability"
	"github.com/odyssey-erp/logistics-ledger/internal/platform/cache"
	"github.com/odyssey-erp/logistics-ledger/internal/platform/db"
	"github.com/odyssey-erp/logistics-ledger/internal/rbac"
	"github.com/odyssey-erp/logistics-ledger/internal/shared"
	"github.com/odyssey-erp/logistics-ledger/jobs"
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

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	if err := db.Migrate(ctx, dbpool); err != nil {
		logger.Error("migrate schema", slog.Any("error", err))
		os.Exit(1)
	}

	var redisClient *redis.Client
	if cfg.LockBackend == app.LockBackendRedis {
		redisClient, err = cache.New(ctx, cfg.RedisAddr)
		if err != nil {
			logger.Error("connect redis", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	rbacService := rbac.NewService(rbac.NewRepository(dbpool), logger)
	if err := rbacService.SyncCatalog(ctx); err != nil {
		logger.Error("sync permission catalog", slog.Any("error", err))
		os.Exit(1)
	}
	gate, err := rbacService.LoadGate(ctx)
	if err != nil {
		logger.Error("load access gate", slog.Any("error", err))
		os.Exit(1)
	}
	rbacMiddleware := rbac.Middleware{Gate: gate, Logger: logger}

	metrics := observability.NewMetrics()

	tokens := auth.NewTokenIssuer(cfg.JWTSecret, cfg.JWTTTL)
	authHandler := auth.NewHandler(logger, auth.NewService(auth.NewRepository(dbpool), tokens))

	engine := ledger.NewEngine(ledger.NewRepository(dbpool), gate, app.NewLocker(cfg, redisClient, logger), logger).
		WithMetrics(metrics)
	ledgerHandler := ledger.NewHandler(logger, engine, shared.NewIdempotencyStore(dbpool))

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger).WithEnqueuer(jobClient)

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		Tokens:         tokens,
		AuthHandler:    authHandler,
		LedgerHandler:  ledgerHandler,
		RBACHandler:    rbac.NewHandler(logger, rbacService, gate, rbacMiddleware),
		RBACMiddleware: rbacMiddleware,
		JobHandler:     jobHandler,
		Metrics:        metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("lock_backend", cfg.LockBackend))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
