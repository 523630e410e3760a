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

	allocationhttp "github.com/odyssey-erp/hospital-costing/internal/allocation/http"
	"github.com/odyssey-erp/hospital-costing/internal/app"
	costcenterhttp "github.com/odyssey-erp/hospital-costing/internal/costcenter/http"
	"github.com/odyssey-erp/hospital-costing/internal/masterdata/statistics"
	"github.com/odyssey-erp/hospital-costing/internal/observability"
	"github.com/odyssey-erp/hospital-costing/internal/platform/cache"
	"github.com/odyssey-erp/hospital-costing/internal/platform/db"
	"github.com/odyssey-erp/hospital-costing/internal/rbac"
	"github.com/odyssey-erp/hospital-costing/jobs"
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

	dbpool, err := db.New(ctx, cfg.PGDSN, db.PoolConfig{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
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

	metrics := observability.NewMetrics()
	notifier := jobs.NewBatchNotifier(jobClient, cfg.NotifyRecipients, cfg.NotifyLocale, logger)
	services := app.BuildServices(app.ServiceDeps{
		Config:   cfg,
		Pool:     dbpool,
		Redis:    redisClient,
		Logger:   logger,
		Notifier: notifier,
		Metrics:  metrics,
	})

	rbacMiddleware := rbac.Middleware{Service: services.RBAC, Logger: logger}

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		Authenticator:     services.Auth,
		CostCenterHandler: costcenterhttp.NewHandler(logger, services.CostCenters, rbacMiddleware),
		StatisticsHandler: statistics.NewHandler(logger, services.Statistics, rbacMiddleware),
		AllocationHandler: allocationhttp.NewHandler(logger, services.Allocation, rbacMiddleware),
		JobHandler:        jobs.NewHandler(inspector, logger),
		Metrics:           metrics,
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
