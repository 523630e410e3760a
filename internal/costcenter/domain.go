package costcenter

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/hospital-costing/internal/shared"
)

// Type classifies cost centers for reporting and allocation policy.
type Type string

const (
	TypeMedical        Type = "medical"
	TypeNonMedical     Type = "non_medical"
	TypeAdministrative Type = "administrative"
	TypeProfitCenter   Type = "profit_center"
)

// Valid reports whether t is a known cost center type.
func (t Type) Valid() bool {
	switch t {
	case TypeMedical, TypeNonMedical, TypeAdministrative, TypeProfitCenter:
		return true
	}
	return false
}

// TransactionType enumerates ledger entry kinds recorded per cost center.
type TransactionType string

const (
	TransactionDirectCost    TransactionType = "direct_cost"
	TransactionAllocatedCost TransactionType = "allocated_cost"
	TransactionRevenue       TransactionType = "revenue"
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionDirectCost, TransactionAllocatedCost, TransactionRevenue:
		return true
	}
	return false
}

// CostCenter models a node in the cost center hierarchy.
type CostCenter struct {
	ID          int64        `json:"id"`
	Code        string       `json:"code"`
	Name        string       `json:"name"`
	Type        Type         `json:"type"`
	ParentID    *int64       `json:"parent_id,omitempty"`
	IsActive    bool         `json:"is_active"`
	Description string       `json:"description,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	Children    []CostCenter `json:"children,omitempty"`
}

// Transaction stores a single cost or revenue amount booked to a cost center.
type Transaction struct {
	ID              int64           `json:"id"`
	CostCenterID    int64           `json:"cost_center_id"`
	Category        string          `json:"category"`
	Type            TransactionType `json:"type"`
	Amount          decimal.Decimal `json:"amount"`
	TransactionDate time.Time       `json:"transaction_date"`
	Reference       string          `json:"reference,omitempty"`
	Description     string          `json:"description,omitempty"`
	CreatedBy       int64           `json:"created_by"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Budget is a monthly budget line per category.
type Budget struct {
	ID           int64           `json:"id"`
	CostCenterID int64           `json:"cost_center_id"`
	FiscalYear   int             `json:"fiscal_year"`
	Month        int             `json:"month"`
	Category     string          `json:"category"`
	Amount       decimal.Decimal `json:"amount"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// BudgetVariance compares budgeted cost with actual cost for a month.
type BudgetVariance struct {
	CostCenterID int64           `json:"cost_center_id"`
	FiscalYear   int             `json:"fiscal_year"`
	Month        int             `json:"month"`
	Budget       decimal.Decimal `json:"budget"`
	Actual       decimal.Decimal `json:"actual"`
	Variance     decimal.Decimal `json:"variance"`
	Utilization  decimal.Decimal `json:"utilization_pct"`
	OverBudget   bool            `json:"over_budget"`
}

// CreateInput captures fields for a new cost center.
type CreateInput struct {
	Code        string
	Name        string
	Type        Type
	ParentID    *int64
	Description string
	ActorID     int64
}

// Validate ensures the request is coherent.
func (in CreateInput) Validate() error {
	if strings.TrimSpace(in.Code) == "" {
		return invalid("code required")
	}
	if strings.TrimSpace(in.Name) == "" {
		return invalid("name required")
	}
	if !in.Type.Valid() {
		return ErrInvalidType
	}
	if in.ParentID != nil && *in.ParentID <= 0 {
		return invalid("parent id must be positive")
	}
	return nil
}

// UpdateInput mutates cost center metadata.
type UpdateInput struct {
	Name        string
	Type        Type
	ParentID    *int64
	Description string
	ActorID     int64
}

// Validate ensures update input remains valid.
func (in UpdateInput) Validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return invalid("name required")
	}
	if !in.Type.Valid() {
		return ErrInvalidType
	}
	return nil
}

// TransactionInput describes a cost or revenue booking.
type TransactionInput struct {
	CostCenterID    int64
	Category        string
	Type            TransactionType
	Amount          decimal.Decimal
	TransactionDate time.Time
	Reference       string
	Description     string
	ActorID         int64
}

// Validate checks amount sign, type and mandatory fields.
func (in TransactionInput) Validate() error {
	if in.CostCenterID == 0 {
		return invalid("transaction cost center required")
	}
	if strings.TrimSpace(in.Category) == "" {
		return invalid("transaction category required")
	}
	if !in.Type.Valid() {
		return fmt.Errorf("%w: unknown transaction type %q", ErrInvalidInput, in.Type)
	}
	if !in.Amount.IsPositive() {
		return invalid("transaction amount must be positive")
	}
	if !in.Amount.Equal(shared.RoundMoney(in.Amount)) {
		return invalid("transaction amount supports two decimals")
	}
	if in.TransactionDate.IsZero() {
		return invalid("transaction date required")
	}
	return nil
}

// BudgetInput upserts a monthly budget line.
type BudgetInput struct {
	CostCenterID int64
	FiscalYear   int
	Month        int
	Category     string
	Amount       decimal.Decimal
	ActorID      int64
}

// Validate checks the budget window and amount.
func (in BudgetInput) Validate() error {
	if in.CostCenterID == 0 {
		return invalid("budget cost center required")
	}
	if in.FiscalYear < 2000 || in.FiscalYear > 2100 {
		return invalid("budget fiscal year out of range")
	}
	if in.Month < 1 || in.Month > 12 {
		return invalid("budget month must be 1-12")
	}
	if strings.TrimSpace(in.Category) == "" {
		return invalid("budget category required")
	}
	if in.Amount.IsNegative() {
		return invalid("budget amount must not be negative")
	}
	return nil
}

// ListFilter narrows cost center listings.
type ListFilter struct {
	Type       Type
	ActiveOnly bool
	Search     string
	Page       int
	PerPage    int
}

// TransactionFilter narrows transaction listings.
type TransactionFilter struct {
	CostCenterID int64
	Type         TransactionType
	Period       shared.Period
	Limit        int
}

var (
	// ErrCostCenterNotFound indicates missing cost center.
	ErrCostCenterNotFound = errors.New("costcenter: cost center not found")
	// ErrInactiveCostCenter blocks writes against deactivated cost centers.
	ErrInactiveCostCenter = errors.New("costcenter: cost center is inactive")
	// ErrDuplicateCode indicates the code is already taken.
	ErrDuplicateCode = errors.New("costcenter: code already exists")
	// ErrHierarchyCycle indicates a parent assignment would create a loop.
	ErrHierarchyCycle = errors.New("costcenter: parent would create a cycle")
	// ErrInvalidType indicates an unknown cost center type.
	ErrInvalidType = errors.New("costcenter: invalid cost center type")
	// ErrBudgetNotFound indicates no budget exists for the requested month.
	ErrBudgetNotFound = errors.New("costcenter: budget not found")
)

// ErrInvalidInput wraps request validation failures.
var ErrInvalidInput = errors.New("costcenter: invalid input")

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, msg)
}
