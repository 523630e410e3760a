package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	jobmetrics "github.com/odyssey-erp/hospital-costing/internal/jobs"
	"github.com/odyssey-erp/hospital-costing/internal/shared"
)

const (
	// TaskAllocationIntegrity scans live batches for zero-sum violations.
	TaskAllocationIntegrity = "allocation:integrity"
	// AllocationIntegrityCron runs the scan nightly.
	AllocationIntegrityCron = "30 3 * * *"
)

// AllocationIntegrityPayload optionally overrides the tolerance ("0.01").
type AllocationIntegrityPayload struct {
	Tolerance string `json:"tolerance,omitempty"`
}

// BatchImbalance is one source group whose totals disagree.
type BatchImbalance struct {
	BatchID            string
	Status             string
	SourceCostCenterID int64
	SourceAmount       decimal.Decimal
	AllocatedAmount    decimal.Decimal
}

// Difference returns source minus allocated.
func (b BatchImbalance) Difference() decimal.Decimal {
	return b.SourceAmount.Sub(b.AllocatedAmount)
}

// IntegritySource lists source groups outside tolerance.
type IntegritySource interface {
	UnbalancedBatches(ctx context.Context, tolerance decimal.Decimal) ([]BatchImbalance, error)
}

// PGIntegritySource queries allocation_journals directly.
type PGIntegritySource struct {
	Pool *pgxpool.Pool
}

// UnbalancedBatches aggregates draft and posted run batches per source cost center,
// counting each rule's source amount once.
func (s PGIntegritySource) UnbalancedBatches(ctx context.Context, tolerance decimal.Decimal) ([]BatchImbalance, error) {
	if s.Pool == nil {
		return nil, errors.New("allocation integrity: pool not configured")
	}
	rows, err := s.Pool.Query(ctx, `WITH per_rule AS (
	SELECT batch_id, status, source_cost_center_id, rule_id,
	       MAX(source_amount) AS source_amount, SUM(allocated_amount) AS allocated_amount
	FROM allocation_journals
	WHERE status <> 'reversed' AND reversal_of_batch IS NULL
	GROUP BY batch_id, status, source_cost_center_id, rule_id
)
SELECT batch_id, status, source_cost_center_id, SUM(source_amount), SUM(allocated_amount)
FROM per_rule
GROUP BY batch_id, status, source_cost_center_id
HAVING ABS(SUM(source_amount) - SUM(allocated_amount)) > $1
ORDER BY batch_id, source_cost_center_id`, tolerance)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []BatchImbalance
	for rows.Next() {
		var b BatchImbalance
		if err := rows.Scan(&b.BatchID, &b.Status, &b.SourceCostCenterID, &b.SourceAmount, &b.AllocatedAmount); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// AllocationIntegrityJob reports batches that would fail the zero-sum check.
type AllocationIntegrityJob struct {
	Source    IntegritySource
	Tolerance decimal.Decimal
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewAllocationIntegrityJob initialises the integrity handler.
func NewAllocationIntegrityJob(source IntegritySource, tolerance decimal.Decimal, logger *slog.Logger, metrics *jobmetrics.Metrics) *AllocationIntegrityJob {
	return &AllocationIntegrityJob{Source: source, Tolerance: tolerance, Logger: logger, Metrics: metrics}
}

// NewAllocationIntegrityTask builds the scheduled task.
func NewAllocationIntegrityTask() (*asynq.Task, error) {
	body, err := json.Marshal(AllocationIntegrityPayload{})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAllocationIntegrity, body, asynq.Queue(QueueDefault)), nil
}

// Handle runs the scan.
func (j *AllocationIntegrityJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Source == nil {
		return errors.New("allocation integrity: handler not configured")
	}
	var payload AllocationIntegrityPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tolerance := j.Tolerance
	if payload.Tolerance != "" {
		parsed, err := decimal.NewFromString(payload.Tolerance)
		if err != nil || parsed.IsNegative() {
			return asynq.SkipRetry
		}
		tolerance = parsed
	}
	if tolerance.IsZero() && payload.Tolerance == "" {
		tolerance = shared.DefaultTolerance
	}

	start := time.Now()
	tracker := j.metrics().Track(TaskAllocationIntegrity)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger().With(slog.String("tolerance", tolerance.String()))
	imbalances, err := j.Source.UnbalancedBatches(ctx, tolerance)
	if err != nil {
		resultErr = err
		logger.Error("integrity scan failed", slog.Any("error", err))
		return resultErr
	}

	byStatus := make(map[string]int)
	for _, b := range imbalances {
		logger.Warn("allocation batch out of balance",
			slog.String("batch_id", b.BatchID),
			slog.String("status", b.Status),
			slog.Int64("source_cost_center_id", b.SourceCostCenterID),
			slog.String("difference", b.Difference().StringFixed(shared.MoneyScale)))
		byStatus[b.Status]++
	}
	for status, count := range byStatus {
		j.metrics().AddImbalances(status, count)
	}
	logger.Info("completed integrity scan", slog.Int("imbalances", len(imbalances)), slog.Duration("duration", time.Since(start)))
	return resultErr
}

func (j *AllocationIntegrityJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskAllocationIntegrity))
	}
	return slog.Default().With(slog.String("job", TaskAllocationIntegrity))
}

func (j *AllocationIntegrityJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
