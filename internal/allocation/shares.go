package allocation

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/hospital-costing/internal/shared"
)

// ShareInput is one target as seen by a share computer.
type ShareInput struct {
	TargetCostCenterID int64
	Percentage         *decimal.Decimal
	Weight             *decimal.Decimal
	DriverValue        decimal.Decimal
}

// Share is the amount assigned to one target.
type Share struct {
	TargetCostCenterID int64
	Amount             decimal.Decimal
	BaseValue          decimal.Decimal
	Detail             CalculationDetail
}

// ShareComputer splits a source amount across targets. Implementations round
// each share to cents and hand the rounding residual to the largest share, so
// the shares always add up to the rounded source amount.
type ShareComputer interface {
	Base() Base
	ComputeShares(source decimal.Decimal, targets []ShareInput) ([]Share, error)
}

// ShareComputerFor resolves the computer for a base.
func ShareComputerFor(base Base) (ShareComputer, error) {
	switch base {
	case BasePercentage:
		return percentageShares{}, nil
	case BaseWeight:
		return weightShares{}, nil
	case BaseHeadcount, BaseSquareFootage, BasePatientDays, BaseServiceVolume, BaseRevenue:
		return driverShares{base: base}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownBase, base)
}

type percentageShares struct{}

func (percentageShares) Base() Base { return BasePercentage }

func (percentageShares) ComputeShares(source decimal.Decimal, targets []ShareInput) ([]Share, error) {
	if len(targets) == 0 {
		return nil, ErrNoTargets
	}
	values := make([]decimal.Decimal, len(targets))
	sum := decimal.Zero
	for i, t := range targets {
		if t.Percentage == nil || t.Percentage.IsNegative() {
			return nil, fmt.Errorf("%w: cost center %d", ErrPercentageSum, t.TargetCostCenterID)
		}
		values[i] = *t.Percentage
		sum = sum.Add(*t.Percentage)
	}
	if !sum.Sub(hundred).Abs().LessThanOrEqual(percentageEpsilon) {
		return nil, fmt.Errorf("%w: got %s", ErrPercentageSum, sum.String())
	}
	return distribute(BasePercentage, source, targets, values, hundred), nil
}

type weightShares struct{}

func (weightShares) Base() Base { return BaseWeight }

func (weightShares) ComputeShares(source decimal.Decimal, targets []ShareInput) ([]Share, error) {
	if len(targets) == 0 {
		return nil, ErrNoTargets
	}
	values := make([]decimal.Decimal, len(targets))
	total := decimal.Zero
	for i, t := range targets {
		if t.Weight == nil || !t.Weight.IsPositive() {
			return nil, fmt.Errorf("%w: cost center %d", ErrInvalidWeight, t.TargetCostCenterID)
		}
		values[i] = *t.Weight
		total = total.Add(*t.Weight)
	}
	return distribute(BaseWeight, source, targets, values, total), nil
}

type driverShares struct {
	base Base
}

func (d driverShares) Base() Base { return d.base }

func (d driverShares) ComputeShares(source decimal.Decimal, targets []ShareInput) ([]Share, error) {
	if len(targets) == 0 {
		return nil, ErrNoTargets
	}
	values := make([]decimal.Decimal, len(targets))
	total := decimal.Zero
	for i, t := range targets {
		if t.DriverValue.IsNegative() {
			return nil, fmt.Errorf("%w: negative %s for cost center %d", ErrZeroBase, d.base, t.TargetCostCenterID)
		}
		values[i] = t.DriverValue
		total = total.Add(t.DriverValue)
	}
	if !total.IsPositive() {
		return nil, fmt.Errorf("%w: %s", ErrZeroBase, d.base)
	}
	return distribute(d.base, source, targets, values, total), nil
}

// distribute applies amount = source × value / total, rounds half away from
// zero to cents and assigns the residual to the largest share. Ties go to the
// first target in input order.
func distribute(base Base, source decimal.Decimal, targets []ShareInput, values []decimal.Decimal, total decimal.Decimal) []Share {
	source = shared.RoundMoney(source)
	shares := make([]Share, len(targets))
	allocated := decimal.Zero
	largest := 0
	for i, t := range targets {
		ratio := values[i].Div(total)
		amount := shared.RoundMoney(source.Mul(values[i]).Div(total))
		allocated = allocated.Add(amount)
		detail := CalculationDetail{
			Method:       base,
			SourceAmount: source,
			BaseValue:    values[i],
			TotalBase:    total,
			Ratio:        ratio.Round(8),
			Residual:     decimal.Zero,
		}
		switch base {
		case BasePercentage:
			detail.Percentage = t.Percentage
		case BaseWeight:
			detail.Weight = t.Weight
		}
		shares[i] = Share{TargetCostCenterID: t.TargetCostCenterID, Amount: amount, BaseValue: values[i], Detail: detail}
		if amount.Abs().GreaterThan(shares[largest].Amount.Abs()) {
			largest = i
		}
	}
	if residual := source.Sub(allocated); !residual.IsZero() {
		shares[largest].Amount = shares[largest].Amount.Add(residual)
		shares[largest].Detail.Residual = residual
	}
	return shares
}
