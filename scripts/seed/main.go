// Command seed loads development fixtures into the costing database.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/hospital-costing/internal/app"
	"github.com/odyssey-erp/hospital-costing/internal/auth"
	"github.com/odyssey-erp/hospital-costing/internal/seed"
)

func main() {
	path := flag.String("fixtures", "scripts/seed/fixtures.yaml", "fixture file")
	flag.Parse()

	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.PGDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	fx, err := seed.Load(*path)
	if err != nil {
		log.Fatalf("load fixtures: %v", err)
	}

	// execution is never needed while seeding, so no redis lease manager
	svc := app.BuildServices(app.ServiceDeps{Config: cfg, Pool: pool, Logger: app.NewLogger(cfg)})
	seeder := &seed.Seeder{
		CostCenters: svc.CostCenters,
		Statistics:  svc.Statistics,
		Rules:       svc.Allocation,
		Access:      svc.RBAC,
		Users:       auth.NewRepository(pool),
	}
	sum, err := seeder.Apply(ctx, fx)
	if err != nil {
		log.Fatalf("seed: %v", err)
	}
	fmt.Printf("✓ Seed complete at %s: %d cost centers, %d transactions, %d rules\n",
		time.Now().Format(time.RFC3339), sum.CostCenters, sum.Transactions, sum.Rules)
}
