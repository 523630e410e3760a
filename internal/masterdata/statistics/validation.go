package statistics

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidStatistic wraps input validation failures.
	ErrInvalidStatistic = errors.New("statistics: invalid statistic")
	// ErrUnknownMetric indicates an unsupported driver metric.
	ErrUnknownMetric = errors.New("statistics: unknown metric")
	// ErrUnknownCostCenter indicates the referenced cost center does not exist.
	ErrUnknownCostCenter = errors.New("statistics: unknown cost center")
)

func (s *Service) validate(in RecordInput) error {
	if in.CostCenterID <= 0 {
		return fmt.Errorf("%w: cost center required", ErrInvalidStatistic)
	}
	if !in.Metric.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownMetric, in.Metric)
	}
	if in.PeriodStart.IsZero() || in.PeriodEnd.IsZero() || in.PeriodEnd.Before(in.PeriodStart) {
		return fmt.Errorf("%w: period window", ErrInvalidStatistic)
	}
	if in.Value.IsNegative() {
		return fmt.Errorf("%w: value must not be negative", ErrInvalidStatistic)
	}
	return nil
}
