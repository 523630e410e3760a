package app

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/hospital-costing/internal/allocation"
	"github.com/odyssey-erp/hospital-costing/internal/auth"
	"github.com/odyssey-erp/hospital-costing/internal/costcenter"
	"github.com/odyssey-erp/hospital-costing/internal/masterdata/statistics"
	"github.com/odyssey-erp/hospital-costing/internal/rbac"
	"github.com/odyssey-erp/hospital-costing/internal/shared"
)

// Services bundles the domain services shared by the API, worker and CLI.
type Services struct {
	CostCenters *costcenter.Service
	Statistics  *statistics.Service
	Allocation  *allocation.Service
	Auth        *auth.Service
	RBAC        *rbac.Service
	Idempotency *shared.IdempotencyStore
}

// ServiceDeps carries the infrastructure handles and optional ports.
type ServiceDeps struct {
	Config   *Config
	Pool     *pgxpool.Pool
	Redis    *redis.Client
	Logger   *slog.Logger
	Notifier allocation.Notifier
	Metrics  allocation.MetricsPort
}

// BuildServices wires repositories and services against postgres and redis.
func BuildServices(deps ServiceDeps) *Services {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	auditLogger := shared.NewAuditLogger(deps.Pool)
	approvals := shared.NewApprovalRecorder(deps.Pool, logger)
	idempotency := shared.NewIdempotencyStore(deps.Pool)

	costCenters := costcenter.NewService(costcenter.NewRepository(deps.Pool), auditLogger).WithLogger(logger)
	stats := statistics.NewService(statistics.NewRepository(deps.Pool), auditLogger).WithLogger(logger)

	engine := allocation.NewEngine(costCenters, costCenters, stats)
	leases := shared.NewLeaseManager(deps.Redis, deps.Config.AllocationLockTTL)
	alloc := allocation.NewService(allocation.NewRepository(deps.Pool), engine, leases, logger).
		WithTolerance(deps.Config.Tolerance()).
		WithIdempotency(idempotency).
		WithApprovals(approvals).
		WithAudit(auditLogger)
	if deps.Notifier != nil {
		alloc = alloc.WithNotifier(deps.Notifier)
	}
	if deps.Metrics != nil {
		alloc = alloc.WithMetrics(deps.Metrics)
	}

	return &Services{
		CostCenters: costCenters,
		Statistics:  stats,
		Allocation:  alloc,
		Auth:        auth.NewService(auth.NewRepository(deps.Pool)),
		RBAC:        rbac.NewService(deps.Pool),
		Idempotency: idempotency,
	}
}
