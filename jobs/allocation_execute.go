package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/hospital-costing/internal/allocation"
	jobmetrics "github.com/odyssey-erp/hospital-costing/internal/jobs"
	"github.com/odyssey-erp/hospital-costing/internal/shared"
)

const (
	// TaskAllocationExecute runs the allocation rules for a closed month.
	TaskAllocationExecute = "allocation:execute"
	// AllocationExecuteCron fires at 02:00 UTC on the first day of each month.
	AllocationExecuteCron = "0 2 1 * *"
)

// AllocationExecutePayload selects the month to allocate. An empty period or
// "previous" means the month before the job runs.
type AllocationExecutePayload struct {
	Period string `json:"period"`
}

// AllocationExecutor runs an allocation batch.
type AllocationExecutor interface {
	Execute(ctx context.Context, in allocation.ExecuteInput) (allocation.ExecutionResult, error)
}

// AllocationExecuteJob runs scheduled allocation batches.
type AllocationExecuteJob struct {
	Service AllocationExecutor
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewAllocationExecuteJob constructs the job handler.
func NewAllocationExecuteJob(service AllocationExecutor, logger *slog.Logger, metrics *jobmetrics.Metrics) *AllocationExecuteJob {
	return &AllocationExecuteJob{
		Service: service,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// NewAllocationExecuteTask creates an Asynq task for a month (YYYY-MM) or "previous".
func NewAllocationExecuteTask(period string) (*asynq.Task, error) {
	if period == "" {
		period = "previous"
	}
	body, err := json.Marshal(AllocationExecutePayload{Period: period})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAllocationExecute, body, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}

// Handle executes the allocation batch.
func (j *AllocationExecuteJob) Handle(ctx context.Context, task *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("allocation execute: dependencies not configured")
	}
	var payload AllocationExecutePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	period, err := j.resolvePeriod(payload.Period)
	if err != nil {
		j.log().Error("resolve period", slog.String("period", payload.Period), slog.Any("error", err))
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	tracker := j.metrics().Track(TaskAllocationExecute)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := j.now()
	result, err := j.Service.Execute(ctx, allocation.ExecuteInput{
		Period:         period,
		IdempotencyKey: "scheduled-" + period.Key(),
	})
	switch {
	case err == nil:
		j.log().Info("allocation batch created",
			slog.String("batch_id", result.BatchID),
			slog.String("period", period.String()),
			slog.Int("journals", len(result.Journals)),
			slog.Int("skipped", len(result.Skipped)),
			slog.Duration("duration", time.Since(start)))
	case errors.Is(err, allocation.ErrNothingToAllocate):
		j.log().Info("no allocation rule produced journals", slog.String("period", period.String()), slog.Int("skipped", len(result.Skipped)))
	case errors.Is(err, allocation.ErrBatchExists), errors.Is(err, shared.ErrIdempotencyConflict):
		j.log().Info("allocation batch already exists", slog.String("period", period.String()), slog.Any("error", err))
	default:
		resultErr = err
		j.log().Error("execute allocation", slog.String("period", period.String()), slog.Any("error", err))
	}
	return resultErr
}

func (j *AllocationExecuteJob) resolvePeriod(raw string) (shared.Period, error) {
	if raw == "" || raw == "previous" {
		prev := j.now().AddDate(0, 0, -j.now().Day())
		return shared.MonthPeriod(prev.Year(), prev.Month()), nil
	}
	return shared.ParseMonth(raw)
}

func (j *AllocationExecuteJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *AllocationExecuteJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskAllocationExecute))
	}
	return slog.Default().With(slog.String("job", TaskAllocationExecute))
}

func (j *AllocationExecuteJob) now() time.Time {
	if j != nil && j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

// WithClock overrides the internal clock for deterministic tests.
func (j *AllocationExecuteJob) WithClock(clock func() time.Time) {
	if j != nil && clock != nil {
		j.clock = clock
	}
}
