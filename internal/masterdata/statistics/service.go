package statistics

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/hospital-costing/internal/shared"
)

// AuditPort records statistic changes.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service maintains driver statistics and serves them to allocation runs.
type Service struct {
	repo   Repository
	audit  AuditPort
	logger *slog.Logger
	now    func() time.Time
}

func NewService(repo Repository, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit, logger: slog.Default(), now: time.Now}
}

// WithLogger sets the logger used for audit failures.
func (s *Service) WithLogger(logger *slog.Logger) *Service {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// RecordStatistic upserts the value for the cost center, metric and window start.
func (s *Service) RecordStatistic(ctx context.Context, in RecordInput) (Statistic, error) {
	if err := s.validate(in); err != nil {
		return Statistic{}, err
	}
	in.PeriodStart = dateOnly(in.PeriodStart)
	in.PeriodEnd = dateOnly(in.PeriodEnd)
	st, err := s.repo.Upsert(ctx, in)
	if err != nil {
		return Statistic{}, err
	}
	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  in.ActorID,
			Action:   "statistic.record",
			Entity:   "cost_center",
			EntityID: strconv.FormatInt(in.CostCenterID, 10),
			Meta: map[string]any{
				"metric":       string(in.Metric),
				"period_start": in.PeriodStart.Format("2006-01-02"),
				"value":        in.Value.String(),
			},
			At: s.now(),
		}); err != nil {
			s.logger.Warn("audit statistic", slog.Int64("cost_center_id", in.CostCenterID), slog.Any("error", err))
		}
	}
	return st, nil
}

// ListStatistics returns statistics overlapping the filter window.
func (s *Service) ListStatistics(ctx context.Context, filter ListFilter) ([]Statistic, error) {
	if filter.Metric != "" && !filter.Metric.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMetric, filter.Metric)
	}
	return s.repo.List(ctx, filter)
}

// MetricValues resolves driver values for the period. The row whose window
// covers the period start wins; cost centers without a row are absent.
func (s *Service) MetricValues(ctx context.Context, metric string, period shared.Period, ids []int64) (map[int64]decimal.Decimal, error) {
	m := Metric(metric)
	if !m.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMetric, metric)
	}
	if err := period.Validate(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return map[int64]decimal.Decimal{}, nil
	}
	return s.repo.ValuesAt(ctx, m, period.Start, ids)
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
