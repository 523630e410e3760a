package allocation

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/hospital-costing/internal/shared"
)

// CostCenterLookup reports which cost centers exist and are active.
type CostCenterLookup interface {
	CostCenterStates(ctx context.Context, ids []int64) (map[int64]bool, error)
}

// TransactionSource reads cost center actuals for a period.
type TransactionSource interface {
	SourceAmount(ctx context.Context, costCenterID int64, period shared.Period) (decimal.Decimal, error)
	RevenueByCostCenter(ctx context.Context, ids []int64, period shared.Period) (map[int64]decimal.Decimal, error)
}

// StatisticsSource reads non-financial driver metrics for a period.
type StatisticsSource interface {
	MetricValues(ctx context.Context, metric string, period shared.Period, ids []int64) (map[int64]decimal.Decimal, error)
}

// Engine evaluates allocation rules against period actuals.
type Engine struct {
	costCenters  CostCenterLookup
	transactions TransactionSource
	statistics   StatisticsSource
}

// NewEngine wires the collaborators used during computation.
func NewEngine(costCenters CostCenterLookup, transactions TransactionSource, statistics StatisticsSource) *Engine {
	return &Engine{costCenters: costCenters, transactions: transactions, statistics: statistics}
}

// skipError marks rule level problems that skip a rule instead of failing the run.
type skipError struct {
	reason string
}

func (e skipError) Error() string { return e.reason }

func skip(format string, args ...any) error {
	return skipError{reason: fmt.Sprintf(format, args...)}
}

// Compute evaluates the rules in code order. Rules that cannot be allocated
// are reported in Skipped; infrastructure failures abort the computation.
func (e *Engine) Compute(ctx context.Context, period shared.Period, rules []Rule) (Computation, error) {
	if err := period.Validate(); err != nil {
		return Computation{}, err
	}
	out := Computation{Period: period, Lines: []ComputedLine{}, Skipped: []SkippedRule{}}
	if len(rules) == 0 {
		return out, nil
	}
	ordered := append([]Rule(nil), rules...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Code < ordered[j].Code })

	states, err := e.costCenters.CostCenterStates(ctx, referencedCostCenters(ordered))
	if err != nil {
		return Computation{}, fmt.Errorf("allocation: load cost center states: %w", err)
	}
	for _, rule := range ordered {
		lines, err := e.computeRule(ctx, period, rule, states)
		if err != nil {
			var se skipError
			if errors.As(err, &se) {
				out.Skipped = append(out.Skipped, SkippedRule{RuleID: rule.ID, Code: rule.Code, Reason: se.reason})
				continue
			}
			return Computation{}, fmt.Errorf("allocation: rule %s: %w", rule.Code, err)
		}
		out.Lines = append(out.Lines, lines...)
	}
	return out, nil
}

func (e *Engine) computeRule(ctx context.Context, period shared.Period, rule Rule, states map[int64]bool) ([]ComputedLine, error) {
	if len(rule.Targets) == 0 {
		return nil, skip("no targets")
	}
	if !states[rule.SourceCostCenterID] {
		return nil, skip("source cost center %d is inactive or missing", rule.SourceCostCenterID)
	}
	for _, t := range rule.Targets {
		if !states[t.TargetCostCenterID] {
			return nil, skip("target cost center %d is inactive or missing", t.TargetCostCenterID)
		}
	}
	computer, err := ShareComputerFor(rule.Base)
	if err != nil {
		return nil, skip("%s", err.Error())
	}
	source, err := e.transactions.SourceAmount(ctx, rule.SourceCostCenterID, period)
	if err != nil {
		return nil, err
	}
	source = shared.RoundMoney(source)
	if source.IsNegative() {
		return nil, skip("negative source amount %s", source.StringFixed(shared.MoneyScale))
	}
	if source.IsZero() {
		return nil, skip("zero source amount")
	}

	inputs := make([]ShareInput, 0, len(rule.Targets))
	for _, t := range rule.Targets {
		inputs = append(inputs, ShareInput{TargetCostCenterID: t.TargetCostCenterID, Percentage: t.Percentage, Weight: t.Weight})
	}
	if rule.Base.IsDriver() {
		if err := e.attachDrivers(ctx, rule.Base, period, inputs); err != nil {
			return nil, err
		}
	}
	shares, err := computer.ComputeShares(source, inputs)
	if err != nil {
		if isRuleError(err) {
			return nil, skip("%s", err.Error())
		}
		return nil, err
	}
	lines := make([]ComputedLine, 0, len(shares))
	for _, sh := range shares {
		lines = append(lines, ComputedLine{
			RuleID:             rule.ID,
			RuleCode:           rule.Code,
			SourceCostCenterID: rule.SourceCostCenterID,
			TargetCostCenterID: sh.TargetCostCenterID,
			Base:               rule.Base,
			SourceAmount:       source,
			AllocatedAmount:    sh.Amount,
			BaseValue:          sh.BaseValue,
			Detail:             sh.Detail,
		})
	}
	return lines, nil
}

// DriverValues resolves per cost center driver values. Revenue is read from
// transactions; every other driver base comes from statistics.
func (e *Engine) DriverValues(ctx context.Context, base Base, period shared.Period, ids []int64) (map[int64]decimal.Decimal, error) {
	switch {
	case base == BaseRevenue:
		return e.transactions.RevenueByCostCenter(ctx, ids, period)
	case base.IsDriver():
		if e.statistics == nil {
			return nil, fmt.Errorf("%w: no statistics source for %s", ErrMissingDriver, base)
		}
		return e.statistics.MetricValues(ctx, string(base), period, ids)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownBase, base)
}

func (e *Engine) attachDrivers(ctx context.Context, base Base, period shared.Period, inputs []ShareInput) error {
	ids := make([]int64, 0, len(inputs))
	for _, in := range inputs {
		ids = append(ids, in.TargetCostCenterID)
	}
	values, err := e.DriverValues(ctx, base, period, ids)
	if err != nil {
		if errors.Is(err, ErrMissingDriver) {
			return skip("%s", err.Error())
		}
		return err
	}
	for i := range inputs {
		v, ok := values[inputs[i].TargetCostCenterID]
		if !ok && base != BaseRevenue {
			return skip("missing %s value for cost center %d", base, inputs[i].TargetCostCenterID)
		}
		inputs[i].DriverValue = v
	}
	return nil
}

func isRuleError(err error) bool {
	for _, target := range []error{ErrNoTargets, ErrPercentageSum, ErrInvalidWeight, ErrZeroBase, ErrMissingDriver, ErrUnknownBase} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func referencedCostCenters(rules []Rule) []int64 {
	seen := make(map[int64]struct{})
	var ids []int64
	add := func(id int64) {
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	for _, r := range rules {
		add(r.SourceCostCenterID)
		for _, t := range r.Targets {
			add(t.TargetCostCenterID)
		}
	}
	return ids
}
