package allocation

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/hospital-costing/internal/shared"
)

// Base selects how a rule splits its source amount across targets.
type Base string

const (
	BasePercentage    Base = "percentage"
	BaseWeight        Base = "weight"
	BaseHeadcount     Base = "headcount"
	BaseSquareFootage Base = "square_footage"
	BasePatientDays   Base = "patient_days"
	BaseServiceVolume Base = "service_volume"
	BaseRevenue       Base = "revenue"
)

// Valid reports whether b is a supported allocation base.
func (b Base) Valid() bool {
	switch b {
	case BasePercentage, BaseWeight, BaseHeadcount, BaseSquareFootage, BasePatientDays, BaseServiceVolume, BaseRevenue:
		return true
	}
	return false
}

// IsDriver reports whether the base reads per-target values from an external metric.
func (b Base) IsDriver() bool {
	return b.Valid() && b != BasePercentage && b != BaseWeight
}

// ApprovalStatus tracks the rule approval workflow.
type ApprovalStatus string

const (
	ApprovalDraft    ApprovalStatus = "draft"
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// JournalStatus is the lifecycle state shared by every journal of a batch.
type JournalStatus string

const (
	StatusDraft    JournalStatus = "draft"
	StatusPosted   JournalStatus = "posted"
	StatusReversed JournalStatus = "reversed"
)

// Rule distributes the cost of one source cost center across targets.
type Rule struct {
	ID                 int64          `json:"id"`
	Code               string         `json:"code"`
	Name               string         `json:"name"`
	SourceCostCenterID int64          `json:"source_cost_center_id"`
	Base               Base           `json:"allocation_base"`
	ApprovalStatus     ApprovalStatus `json:"approval_status"`
	EffectiveDate      time.Time      `json:"effective_date"`
	EndDate            *time.Time     `json:"end_date,omitempty"`
	IsActive           bool           `json:"is_active"`
	Description        string         `json:"description,omitempty"`
	ApprovedBy         *int64         `json:"approved_by,omitempty"`
	ApprovedAt         *time.Time     `json:"approved_at,omitempty"`
	RejectionReason    string         `json:"rejection_reason,omitempty"`
	CreatedBy          int64          `json:"created_by"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
	Targets            []Target       `json:"targets"`
}

// Editable reports whether definition and targets may still change.
func (r Rule) Editable() bool {
	return r.ApprovalStatus == ApprovalDraft || r.ApprovalStatus == ApprovalRejected
}

// Target is one receiving cost center of a rule.
type Target struct {
	ID                 int64            `json:"id"`
	RuleID             int64            `json:"rule_id"`
	TargetCostCenterID int64            `json:"target_cost_center_id"`
	Percentage         *decimal.Decimal `json:"allocation_percentage,omitempty"`
	Weight             *decimal.Decimal `json:"allocation_weight,omitempty"`
}

// CalculationDetail records the method and inputs behind one allocated amount.
type CalculationDetail struct {
	Method       Base             `json:"method"`
	SourceAmount decimal.Decimal  `json:"source_amount"`
	Percentage   *decimal.Decimal `json:"percentage,omitempty"`
	Weight       *decimal.Decimal `json:"weight,omitempty"`
	BaseValue    decimal.Decimal  `json:"base_value"`
	TotalBase    decimal.Decimal  `json:"total_base"`
	Ratio        decimal.Decimal  `json:"ratio"`
	Residual     decimal.Decimal  `json:"residual"`
}

// Journal is one allocation ledger row.
type Journal struct {
	ID                 int64             `json:"id"`
	BatchID            string            `json:"batch_id"`
	RuleID             int64             `json:"rule_id"`
	RuleCode           string            `json:"rule_code,omitempty"`
	PeriodStart        time.Time         `json:"period_start"`
	PeriodEnd          time.Time         `json:"period_end"`
	SourceCostCenterID int64             `json:"source_cost_center_id"`
	TargetCostCenterID int64             `json:"target_cost_center_id"`
	Base               Base              `json:"allocation_base"`
	SourceAmount       decimal.Decimal   `json:"source_amount"`
	AllocatedAmount    decimal.Decimal   `json:"allocated_amount"`
	BaseValue          decimal.Decimal   `json:"allocation_base_value"`
	Detail             CalculationDetail `json:"calculation_detail"`
	Status             JournalStatus     `json:"status"`
	ReversalOfBatch    *string           `json:"reversal_of_batch,omitempty"`
	CreatedBy          int64             `json:"created_by"`
	CreatedAt          time.Time         `json:"created_at"`
	PostedAt           *time.Time        `json:"posted_at,omitempty"`
	PostedBy           *int64            `json:"posted_by,omitempty"`
	ReversedAt         *time.Time        `json:"reversed_at,omitempty"`
	ReversedBy         *int64            `json:"reversed_by,omitempty"`
}

// Batch summarises the journals sharing a batch id.
type Batch struct {
	BatchID         string          `json:"batch_id"`
	Status          JournalStatus   `json:"status"`
	PeriodStart     time.Time       `json:"period_start"`
	PeriodEnd       time.Time       `json:"period_end"`
	RuleCount       int             `json:"rule_count"`
	JournalCount    int             `json:"journal_count"`
	TotalAllocated  decimal.Decimal `json:"total_allocated"`
	ReversalOfBatch *string         `json:"reversal_of_batch,omitempty"`
	CreatedBy       int64           `json:"created_by"`
	CreatedAt       time.Time       `json:"created_at"`
	PostedBy        *int64          `json:"posted_by,omitempty"`
	PostedAt        *time.Time      `json:"posted_at,omitempty"`
	ReversedBy      *int64          `json:"reversed_by,omitempty"`
	ReversedAt      *time.Time      `json:"reversed_at,omitempty"`
}

// SourceGroup aggregates a batch per source cost center.
type SourceGroup struct {
	SourceCostCenterID int64           `json:"source_cost_center_id"`
	RuleCount          int             `json:"rule_count"`
	JournalCount       int             `json:"journal_count"`
	SourceAmount       decimal.Decimal `json:"source_amount"`
	AllocatedAmount    decimal.Decimal `json:"allocated_amount"`
	Difference         decimal.Decimal `json:"difference"`
}

// Review is the zero-sum check shown before posting.
type Review struct {
	BatchID        string          `json:"batch_id"`
	Status         JournalStatus   `json:"status"`
	PeriodStart    time.Time       `json:"period_start"`
	PeriodEnd      time.Time       `json:"period_end"`
	Groups         []SourceGroup   `json:"groups"`
	TotalSource    decimal.Decimal `json:"total_source"`
	TotalAllocated decimal.Decimal `json:"total_allocated"`
	Difference     decimal.Decimal `json:"difference"`
	Tolerance      decimal.Decimal `json:"tolerance"`
	Balanced       bool            `json:"balanced"`
	CanPost        bool            `json:"can_post"`
}

// SkippedRule explains why a rule produced no journals in a run.
type SkippedRule struct {
	RuleID int64  `json:"rule_id"`
	Code   string `json:"code"`
	Reason string `json:"reason"`
}

// ComputedLine is one target share before persistence.
type ComputedLine struct {
	RuleID             int64             `json:"rule_id"`
	RuleCode           string            `json:"rule_code"`
	SourceCostCenterID int64             `json:"source_cost_center_id"`
	TargetCostCenterID int64             `json:"target_cost_center_id"`
	Base               Base              `json:"allocation_base"`
	SourceAmount       decimal.Decimal   `json:"source_amount"`
	AllocatedAmount    decimal.Decimal   `json:"allocated_amount"`
	BaseValue          decimal.Decimal   `json:"allocation_base_value"`
	Detail             CalculationDetail `json:"calculation_detail"`
}

// Computation is the outcome of evaluating rules for a period.
type Computation struct {
	Period  shared.Period  `json:"-"`
	Lines   []ComputedLine `json:"lines"`
	Skipped []SkippedRule  `json:"skipped"`
}

// ExecutionResult is returned by Execute.
type ExecutionResult struct {
	BatchID  string        `json:"batch_id"`
	Journals []Journal     `json:"journals"`
	Skipped  []SkippedRule `json:"skipped"`
	Review   Review        `json:"review"`
}

// RollbackResult is returned by Rollback.
type RollbackResult struct {
	BatchID         string        `json:"batch_id"`
	PreviousStatus  JournalStatus `json:"previous_status"`
	ReversalBatchID string        `json:"reversal_batch_id,omitempty"`
	Reversed        int64         `json:"reversed"`
}

// TargetInput describes a target when creating or replacing targets.
type TargetInput struct {
	TargetCostCenterID int64
	Percentage         *decimal.Decimal
	Weight             *decimal.Decimal
}

// CreateRuleInput captures a new rule definition.
type CreateRuleInput struct {
	Code               string
	Name               string
	SourceCostCenterID int64
	Base               Base
	EffectiveDate      time.Time
	EndDate            *time.Time
	Description        string
	Targets            []TargetInput
	ActorID            int64
}

// Validate checks the rule header and the structural shape of its targets.
func (in CreateRuleInput) Validate() error {
	if strings.TrimSpace(in.Code) == "" {
		return invalid("rule code required")
	}
	header := UpdateRuleInput{
		Name:               in.Name,
		SourceCostCenterID: in.SourceCostCenterID,
		Base:               in.Base,
		EffectiveDate:      in.EffectiveDate,
		EndDate:            in.EndDate,
	}
	if err := header.Validate(); err != nil {
		return err
	}
	return checkTargetShape(in.Base, in.SourceCostCenterID, in.Targets)
}

// UpdateRuleInput mutates an editable rule.
type UpdateRuleInput struct {
	Name               string
	SourceCostCenterID int64
	Base               Base
	EffectiveDate      time.Time
	EndDate            *time.Time
	Description        string
	ActorID            int64
}

// Validate checks the rule header.
func (in UpdateRuleInput) Validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return invalid("rule name required")
	}
	if in.SourceCostCenterID <= 0 {
		return invalid("source cost center required")
	}
	if !in.Base.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownBase, in.Base)
	}
	if in.EffectiveDate.IsZero() {
		return invalid("effective date required")
	}
	if in.EndDate != nil && in.EndDate.Before(in.EffectiveDate) {
		return invalid("end date before effective date")
	}
	return nil
}

// checkTargetShape validates targets independent of completeness: no duplicates,
// no self allocation and no negative or misplaced amounts.
func checkTargetShape(base Base, sourceID int64, targets []TargetInput) error {
	seen := make(map[int64]struct{}, len(targets))
	for _, t := range targets {
		if t.TargetCostCenterID <= 0 {
			return invalid("target cost center required")
		}
		if t.TargetCostCenterID == sourceID {
			return ErrSelfAllocation
		}
		if _, dup := seen[t.TargetCostCenterID]; dup {
			return fmt.Errorf("%w: %d", ErrDuplicateTarget, t.TargetCostCenterID)
		}
		seen[t.TargetCostCenterID] = struct{}{}
		switch base {
		case BasePercentage:
			if t.Percentage == nil {
				return invalid("percentage required for every target")
			}
			if t.Percentage.IsNegative() || t.Percentage.GreaterThan(hundred) {
				return invalid("percentage must be between 0 and 100")
			}
		case BaseWeight:
			if t.Weight == nil {
				return invalid("weight required for every target")
			}
			if t.Weight.IsNegative() {
				return invalid("weight must not be negative")
			}
		}
	}
	return nil
}

// checkTargetsComplete is the submit-time validation of a target set.
func checkTargetsComplete(base Base, sourceID int64, targets []TargetInput) error {
	if len(targets) == 0 {
		return ErrNoTargets
	}
	if err := checkTargetShape(base, sourceID, targets); err != nil {
		return err
	}
	switch base {
	case BasePercentage:
		sum := decimal.Zero
		for _, t := range targets {
			sum = sum.Add(*t.Percentage)
		}
		if !sum.Sub(hundred).Abs().LessThanOrEqual(percentageEpsilon) {
			return fmt.Errorf("%w: got %s", ErrPercentageSum, sum.String())
		}
	case BaseWeight:
		for _, t := range targets {
			if !t.Weight.IsPositive() {
				return fmt.Errorf("%w: weight for cost center %d", ErrInvalidWeight, t.TargetCostCenterID)
			}
		}
	}
	return nil
}

func targetInputs(targets []Target) []TargetInput {
	out := make([]TargetInput, 0, len(targets))
	for _, t := range targets {
		out = append(out, TargetInput{TargetCostCenterID: t.TargetCostCenterID, Percentage: t.Percentage, Weight: t.Weight})
	}
	return out
}

// RuleFilter narrows rule listings.
type RuleFilter struct {
	Status     ApprovalStatus
	SourceID   int64
	ActiveOnly bool
}

// BatchFilter narrows batch listings.
type BatchFilter struct {
	Status  JournalStatus
	Period  *shared.Period
	Page    int
	PerPage int
}

// ExecuteInput requests an allocation run.
type ExecuteInput struct {
	Period         shared.Period
	ActorID        int64
	IdempotencyKey string
}

var (
	// ErrRuleNotFound indicates a missing rule.
	ErrRuleNotFound = errors.New("allocation: rule not found")
	// ErrDuplicateRuleCode indicates the rule code is taken.
	ErrDuplicateRuleCode = errors.New("allocation: rule code already exists")
	// ErrInvalidRule wraps rule validation failures.
	ErrInvalidRule = errors.New("allocation: invalid rule")
	// ErrRuleNotEditable blocks edits outside draft and rejected.
	ErrRuleNotEditable = errors.New("allocation: rule can only change while draft or rejected")
	// ErrInvalidRuleStatus indicates an approval transition not allowed from the current status.
	ErrInvalidRuleStatus = errors.New("allocation: invalid rule status for this action")
	// ErrNoTargets indicates a rule without targets.
	ErrNoTargets = errors.New("allocation: rule has no targets")
	// ErrSelfAllocation indicates a target equal to the source.
	ErrSelfAllocation = errors.New("allocation: target must differ from source")
	// ErrDuplicateTarget indicates a cost center listed twice.
	ErrDuplicateTarget = errors.New("allocation: duplicate target cost center")
	// ErrPercentageSum indicates percentages not summing to 100.
	ErrPercentageSum = errors.New("allocation: target percentages must sum to 100")
	// ErrInvalidWeight indicates a missing or non-positive weight.
	ErrInvalidWeight = errors.New("allocation: target weights must be positive")
	// ErrZeroBase indicates the total driver or weight base is zero.
	ErrZeroBase = errors.New("allocation: total allocation base is zero")
	// ErrMissingDriver indicates a target without a driver value for the period.
	ErrMissingDriver = errors.New("allocation: missing driver value")
	// ErrUnknownBase indicates an unsupported allocation base.
	ErrUnknownBase = errors.New("allocation: unknown allocation base")

	// ErrBatchNotFound indicates no journals carry the batch id.
	ErrBatchNotFound = errors.New("allocation: batch not found")
	// ErrBatchExists indicates a live batch already covers the period.
	ErrBatchExists = errors.New("allocation: a draft or posted batch already exists for this period")
	// ErrExecutionInProgress indicates another execute holds the period lease.
	ErrExecutionInProgress = errors.New("allocation: execution already in progress for this period")
	// ErrNothingToAllocate indicates every rule was skipped.
	ErrNothingToAllocate = errors.New("allocation: no rule produced journals")
	// ErrInvalidStatus indicates a batch transition not allowed from the current status.
	ErrInvalidStatus = errors.New("allocation: invalid batch status for this action")
	// ErrUnbalancedBatch indicates the zero-sum check failed.
	ErrUnbalancedBatch = errors.New("allocation: batch difference exceeds tolerance")
)

var (
	hundred           = decimal.NewFromInt(100)
	percentageEpsilon = decimal.New(1, -4)
)

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidRule, msg)
}
