package costcenter

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/hospital-costing/internal/shared"
)

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// AuditPort records master data events for compliance.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates cost center master data, transactions and budgets.
type Service struct {
	repo   RepositoryPort
	audit  AuditPort
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs the cost center service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit, logger: slog.Default(), now: time.Now}
}

// WithLogger sets the logger used for audit failures.
func (s *Service) WithLogger(logger *slog.Logger) *Service {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Create validates and persists a new cost center.
func (s *Service) Create(ctx context.Context, in CreateInput) (CostCenter, error) {
	if err := in.Validate(); err != nil {
		return CostCenter{}, err
	}
	var cc CostCenter
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if in.ParentID != nil {
			parent, err := tx.GetCostCenter(ctx, *in.ParentID)
			if err != nil {
				return fmt.Errorf("costcenter: parent %d: %w", *in.ParentID, err)
			}
			if !parent.IsActive {
				return fmt.Errorf("costcenter: parent %s: %w", parent.Code, ErrInactiveCostCenter)
			}
		}
		var err error
		cc, err = tx.InsertCostCenter(ctx, in)
		return err
	})
	if err != nil {
		return CostCenter{}, err
	}
	s.record(ctx, in.ActorID, "cost_center.create", cc.ID, map[string]any{"code": cc.Code, "type": string(cc.Type)})
	return cc, nil
}

// Update mutates metadata and parent while keeping the hierarchy acyclic.
func (s *Service) Update(ctx context.Context, id int64, in UpdateInput) (CostCenter, error) {
	if err := in.Validate(); err != nil {
		return CostCenter{}, err
	}
	var cc CostCenter
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetCostCenter(ctx, id); err != nil {
			return err
		}
		if in.ParentID != nil {
			if *in.ParentID == id {
				return ErrHierarchyCycle
			}
			if _, err := tx.GetCostCenter(ctx, *in.ParentID); err != nil {
				return fmt.Errorf("costcenter: parent %d: %w", *in.ParentID, err)
			}
			ancestors, err := tx.AncestorIDs(ctx, *in.ParentID)
			if err != nil {
				return err
			}
			for _, a := range ancestors {
				if a == id {
					return ErrHierarchyCycle
				}
			}
		}
		var err error
		cc, err = tx.UpdateCostCenter(ctx, id, in)
		return err
	})
	if err != nil {
		return CostCenter{}, err
	}
	s.record(ctx, in.ActorID, "cost_center.update", cc.ID, map[string]any{"name": cc.Name})
	return cc, nil
}

// Deactivate blocks further transactions and allocation against the cost center.
func (s *Service) Deactivate(ctx context.Context, id, actorID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.SetActive(ctx, id, false)
	})
	if err != nil {
		return err
	}
	s.record(ctx, actorID, "cost_center.deactivate", id, nil)
	return nil
}

// Activate re-enables a cost center.
func (s *Service) Activate(ctx context.Context, id, actorID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.SetActive(ctx, id, true)
	})
	if err != nil {
		return err
	}
	s.record(ctx, actorID, "cost_center.activate", id, nil)
	return nil
}

// Get returns a single cost center.
func (s *Service) Get(ctx context.Context, id int64) (CostCenter, error) {
	var cc CostCenter
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		cc, err = tx.GetCostCenter(ctx, id)
		return err
	})
	return cc, err
}

// List returns a filtered page of cost centers.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]CostCenter, shared.Pagination, error) {
	var items []CostCenter
	var total int
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		items, total, err = tx.ListCostCenters(ctx, filter)
		return err
	})
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// Tree returns root cost centers with nested children ordered by code.
func (s *Service) Tree(ctx context.Context) ([]CostCenter, error) {
	var all []CostCenter
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		all, err = tx.ListAllCostCenters(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return BuildTree(all), nil
}

// BuildTree nests cost centers under their parents. Nodes whose parent is
// missing from the input are treated as roots.
func BuildTree(all []CostCenter) []CostCenter {
	byParent := make(map[int64][]CostCenter)
	known := make(map[int64]struct{}, len(all))
	for _, cc := range all {
		known[cc.ID] = struct{}{}
	}
	var roots []CostCenter
	for _, cc := range all {
		if cc.ParentID == nil {
			roots = append(roots, cc)
			continue
		}
		if _, ok := known[*cc.ParentID]; !ok {
			roots = append(roots, cc)
			continue
		}
		byParent[*cc.ParentID] = append(byParent[*cc.ParentID], cc)
	}
	var attach func(nodes []CostCenter, depth int) []CostCenter
	attach = func(nodes []CostCenter, depth int) []CostCenter {
		sort.Slice(nodes, func(i, j int) bool { return nodes[i].Code < nodes[j].Code })
		if depth > len(all) {
			return nodes
		}
		for i := range nodes {
			nodes[i].Children = attach(byParent[nodes[i].ID], depth+1)
		}
		return nodes
	}
	return attach(roots, 0)
}

// RecordTransaction books a cost or revenue entry. Inactive cost centers are
// rejected before the row is written.
func (s *Service) RecordTransaction(ctx context.Context, in TransactionInput) (Transaction, error) {
	if err := in.Validate(); err != nil {
		return Transaction{}, err
	}
	var txn Transaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		cc, err := tx.LockCostCenter(ctx, in.CostCenterID)
		if err != nil {
			return err
		}
		if !cc.IsActive {
			return fmt.Errorf("%w: %s", ErrInactiveCostCenter, cc.Code)
		}
		txn, err = tx.InsertTransaction(ctx, in)
		return err
	})
	if err != nil {
		return Transaction{}, err
	}
	s.record(ctx, in.ActorID, "cost_center.transaction", in.CostCenterID, map[string]any{
		"transaction_id": txn.ID,
		"type":           string(txn.Type),
		"amount":         txn.Amount.StringFixed(shared.MoneyScale),
	})
	return txn, nil
}

// ListTransactions returns transactions matching the filter.
func (s *Service) ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error) {
	var out []Transaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		out, err = tx.ListTransactions(ctx, filter)
		return err
	})
	return out, err
}

// SourceAmount sums the non-revenue transactions of a cost center for the period.
func (s *Service) SourceAmount(ctx context.Context, costCenterID int64, period shared.Period) (decimal.Decimal, error) {
	sums, err := s.sumByType(ctx, []int64{costCenterID}, period, []TransactionType{TransactionDirectCost, TransactionAllocatedCost})
	if err != nil {
		return decimal.Zero, err
	}
	return sums[costCenterID], nil
}

// RevenueByCostCenter sums revenue transactions per cost center for the period.
func (s *Service) RevenueByCostCenter(ctx context.Context, ids []int64, period shared.Period) (map[int64]decimal.Decimal, error) {
	return s.sumByType(ctx, ids, period, []TransactionType{TransactionRevenue})
}

// CostCenterStates returns the active flag of each known id. Unknown ids are absent.
func (s *Service) CostCenterStates(ctx context.Context, ids []int64) (map[int64]bool, error) {
	var states map[int64]bool
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		states, err = tx.CostCenterStates(ctx, ids)
		return err
	})
	return states, err
}

func (s *Service) sumByType(ctx context.Context, ids []int64, period shared.Period, types []TransactionType) (map[int64]decimal.Decimal, error) {
	if err := period.Validate(); err != nil {
		return nil, err
	}
	var sums map[int64]decimal.Decimal
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		sums, err = tx.SumByType(ctx, ids, period, types)
		return err
	})
	return sums, err
}

// SetBudget upserts a monthly budget line for an active cost center.
func (s *Service) SetBudget(ctx context.Context, in BudgetInput) (Budget, error) {
	if err := in.Validate(); err != nil {
		return Budget{}, err
	}
	var b Budget
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		cc, err := tx.LockCostCenter(ctx, in.CostCenterID)
		if err != nil {
			return err
		}
		if !cc.IsActive {
			return fmt.Errorf("%w: %s", ErrInactiveCostCenter, cc.Code)
		}
		b, err = tx.UpsertBudget(ctx, in)
		return err
	})
	if err != nil {
		return Budget{}, err
	}
	s.record(ctx, in.ActorID, "cost_center.budget", in.CostCenterID, map[string]any{
		"fiscal_year": in.FiscalYear,
		"month":       in.Month,
		"category":    in.Category,
		"amount":      in.Amount.StringFixed(shared.MoneyScale),
	})
	return b, nil
}

// BudgetVariance compares the monthly budget with actual non-revenue cost.
func (s *Service) BudgetVariance(ctx context.Context, costCenterID int64, year int, month time.Month) (BudgetVariance, error) {
	if month < time.January || month > time.December {
		return BudgetVariance{}, invalid("month must be 1-12")
	}
	period := shared.MonthPeriod(year, month)
	out := BudgetVariance{CostCenterID: costCenterID, FiscalYear: year, Month: int(month)}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetCostCenter(ctx, costCenterID); err != nil {
			return err
		}
		budget, found, err := tx.BudgetTotal(ctx, costCenterID, year, int(month))
		if err != nil {
			return err
		}
		if !found {
			return ErrBudgetNotFound
		}
		sums, err := tx.SumByType(ctx, []int64{costCenterID}, period, []TransactionType{TransactionDirectCost, TransactionAllocatedCost})
		if err != nil {
			return err
		}
		out.Budget = budget
		out.Actual = sums[costCenterID]
		return nil
	})
	if err != nil {
		return BudgetVariance{}, err
	}
	out.Variance = out.Budget.Sub(out.Actual)
	out.OverBudget = out.Variance.IsNegative()
	if out.Budget.IsPositive() {
		out.Utilization = out.Actual.Div(out.Budget).Mul(decimal.NewFromInt(100)).Round(2)
	}
	return out, nil
}

func (s *Service) record(ctx context.Context, actorID int64, action string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "cost_center",
		EntityID: strconv.FormatInt(id, 10),
		Meta:     meta,
		At:       s.now(),
	}); err != nil {
		s.logger.Warn("audit cost center event", slog.String("action", action), slog.Int64("cost_center_id", id), slog.Any("error", err))
	}
}
