package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/hospital-costing/internal/app"
	jobmetrics "github.com/odyssey-erp/hospital-costing/internal/jobs"
	"github.com/odyssey-erp/hospital-costing/internal/platform/cache"
	"github.com/odyssey-erp/hospital-costing/internal/platform/db"
	"github.com/odyssey-erp/hospital-costing/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolConfig{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

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
	client, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer client.Close()

	metrics := jobmetrics.NewMetrics(nil)
	notifier := jobs.NewBatchNotifier(client, cfg.NotifyRecipients, cfg.NotifyLocale, logger)
	services := app.BuildServices(app.ServiceDeps{
		Config:   cfg,
		Pool:     pool,
		Redis:    redisClient,
		Logger:   logger,
		Notifier: notifier,
	})

	mailer := jobs.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.SMTPFrom)
	emailJob := jobs.NewEmailJob(mailer, logger, metrics)
	executeJob := jobs.NewAllocationExecuteJob(services.Allocation, logger, metrics)
	integrityJob := jobs.NewAllocationIntegrityJob(jobs.PGIntegritySource{Pool: pool}, cfg.Tolerance(), logger, metrics)

	executeTask, err := jobs.NewAllocationExecuteTask("previous")
	if err != nil {
		logger.Error("build allocation task", slog.Any("error", err))
		os.Exit(1)
	}
	integrityTask, err := jobs.NewAllocationIntegrityTask()
	if err != nil {
		logger.Error("build integrity task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewIdempotencyCleanupTask(0)
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   redisOpts,
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTypeSendEmail, Handler: emailJob.Handle},
			{Type: jobs.TaskAllocationExecute, Handler: executeJob.Handle},
			{Type: jobs.TaskAllocationIntegrity, Handler: integrityJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: jobs.IdempotencyCleanupHandler(services.Idempotency, logger)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: jobs.AllocationExecuteCron, Task: executeTask},
			{Spec: jobs.AllocationIntegrityCron, Task: integrityTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: jobs.IdempotencyCleanupCron, Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(1)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
