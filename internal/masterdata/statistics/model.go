package statistics

import (
	"time"

	"github.com/shopspring/decimal"
)

// Metric names a non-financial allocation driver.
type Metric string

const (
	MetricHeadcount     Metric = "headcount"
	MetricSquareFootage Metric = "square_footage"
	MetricPatientDays   Metric = "patient_days"
	MetricServiceVolume Metric = "service_volume"
)

// Valid reports whether m is a known metric.
func (m Metric) Valid() bool {
	switch m {
	case MetricHeadcount, MetricSquareFootage, MetricPatientDays, MetricServiceVolume:
		return true
	}
	return false
}

// Statistic is a driver value measured for a cost center over a window.
type Statistic struct {
	ID           int64           `json:"id"`
	CostCenterID int64           `json:"cost_center_id"`
	Metric       Metric          `json:"metric"`
	PeriodStart  time.Time       `json:"period_start"`
	PeriodEnd    time.Time       `json:"period_end"`
	Value        decimal.Decimal `json:"value"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// RecordInput upserts a statistic for (cost center, metric, period start).
type RecordInput struct {
	CostCenterID int64
	Metric       Metric
	PeriodStart  time.Time
	PeriodEnd    time.Time
	Value        decimal.Decimal
	ActorID      int64
}

// ListFilter narrows statistic listings.
type ListFilter struct {
	CostCenterID int64
	Metric       Metric
	Start        time.Time
	End          time.Time
}
