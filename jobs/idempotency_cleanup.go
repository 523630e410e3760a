package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// TaskIdempotencyCleanup purges stale idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
	// IdempotencyCleanupCron runs the purge daily.
	IdempotencyCleanupCron = "15 4 * * *"
	defaultKeyRetention    = 72 * time.Hour
)

// IdempotencyCleanupPayload configures the retention window.
type IdempotencyCleanupPayload struct {
	OlderThanHours int `json:"older_than_hours"`
}

// IdempotencyCleaner removes keys older than the window.
type IdempotencyCleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) (int64, error)
}

// NewIdempotencyCleanupTask builds the scheduled task.
func NewIdempotencyCleanupTask(olderThan time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{OlderThanHours: int(olderThan.Hours())})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}

// IdempotencyCleanupHandler returns the asynq handler for TaskIdempotencyCleanup.
func IdempotencyCleanupHandler(store IdempotencyCleaner, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		if store == nil {
			return errors.New("idempotency cleanup: store not configured")
		}
		var payload IdempotencyCleanupPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		window := defaultKeyRetention
		if payload.OlderThanHours > 0 {
			window = time.Duration(payload.OlderThanHours) * time.Hour
		}
		tracker := defaultJobMetrics.Track(TaskIdempotencyCleanup)
		purged, err := store.Cleanup(ctx, window)
		if err != nil {
			if logger != nil {
				logger.Error("idempotency cleanup", slog.Any("error", err))
			}
			return tracker.End(err)
		}
		if logger != nil {
			logger.Info("idempotency keys purged", slog.String("job", TaskIdempotencyCleanup),
				slog.Duration("older_than", window), slog.Int64("purged", purged))
		}
		return tracker.End(nil)
	}
}
