// Command costingctl runs allocation batches and maintenance tasks from a shell.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/hospital-costing/cmd/costingctl/cli"
	"github.com/odyssey-erp/hospital-costing/internal/app"
	"github.com/odyssey-erp/hospital-costing/internal/auth"
	"github.com/odyssey-erp/hospital-costing/internal/platform/cache"
	"github.com/odyssey-erp/hospital-costing/internal/platform/db"
	"github.com/odyssey-erp/hospital-costing/internal/seed"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := NewCLIApp(connect, os.Stdout).Execute(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func connect(ctx context.Context) (*Env, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, err
	}
	logger := app.NewLogger(cfg)
	pool, err := db.New(ctx, cfg.PGDSN, db.PoolConfig{MaxConns: 2})
	if err != nil {
		return nil, err
	}
	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		pool.Close()
		return nil, err
	}
	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	jobsCLI, err := cli.NewJobsCLI(redisOpts)
	if err != nil {
		_ = redisClient.Close()
		pool.Close()
		return nil, err
	}

	services := app.BuildServices(app.ServiceDeps{Config: cfg, Pool: pool, Redis: redisClient, Logger: logger})
	return &Env{
		Batches: services.Allocation,
		Tokens:  services.Auth,
		Seeder: &seed.Seeder{
			CostCenters: services.CostCenters,
			Statistics:  services.Statistics,
			Rules:       services.Allocation,
			Access:      services.RBAC,
			Users:       auth.NewRepository(pool),
			Logger:      logger,
		},
		Jobs: jobsCLI,
		Close: func() error {
			_ = jobsCLI.Close()
			_ = redisClient.Close()
			pool.Close()
			return nil
		},
	}, nil
}
