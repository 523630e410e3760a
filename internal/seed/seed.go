package seed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/odyssey-erp/hospital-costing/internal/allocation"
	"github.com/odyssey-erp/hospital-costing/internal/costcenter"
	"github.com/odyssey-erp/hospital-costing/internal/masterdata/statistics"
	"github.com/odyssey-erp/hospital-costing/internal/rbac"
	"github.com/odyssey-erp/hospital-costing/internal/shared"
)

// CostCenterPort creates cost centers and postings.
type CostCenterPort interface {
	Create(ctx context.Context, in costcenter.CreateInput) (costcenter.CostCenter, error)
	List(ctx context.Context, filter costcenter.ListFilter) ([]costcenter.CostCenter, shared.Pagination, error)
	RecordTransaction(ctx context.Context, in costcenter.TransactionInput) (costcenter.Transaction, error)
}

// StatisticsPort records driver values.
type StatisticsPort interface {
	RecordStatistic(ctx context.Context, in statistics.RecordInput) (statistics.Statistic, error)
}

// RulePort creates and approves allocation rules.
type RulePort interface {
	CreateRule(ctx context.Context, in allocation.CreateRuleInput) (allocation.Rule, error)
	SubmitRule(ctx context.Context, id, actorID int64) (allocation.Rule, error)
	ApproveRule(ctx context.Context, id, actorID int64) (allocation.Rule, error)
	ActivateRule(ctx context.Context, id, actorID int64) error
}

// AccessPort manages roles.
type AccessPort interface {
	EnsureRole(ctx context.Context, name, description string, perms []string) (rbac.Role, error)
	AssignRole(ctx context.Context, userID int64, roleName string) error
}

// UserPort upserts operator accounts.
type UserPort interface {
	EnsureUser(ctx context.Context, email, name string) (int64, error)
}

// Seeder applies fixtures through the domain services so the same
// validation runs as for API callers.
type Seeder struct {
	CostCenters CostCenterPort
	Statistics  StatisticsPort
	Rules       RulePort
	Access      AccessPort
	Users       UserPort
	Logger      *slog.Logger
}

// Summary counts what was written.
type Summary struct {
	Users        int
	Roles        int
	CostCenters  int
	Transactions int
	Statistics   int
	Rules        int
}

// Apply loads the fixtures. Existing cost centers and rules are kept; postings
// are only written for cost centers created in this run, so re-running is safe.
func (s *Seeder) Apply(ctx context.Context, fx *Fixtures) (Summary, error) {
	var sum Summary
	if fx == nil {
		return sum, nil
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var actorID int64
	if s.Access != nil {
		for _, role := range fx.Roles {
			if _, err := s.Access.EnsureRole(ctx, role.Name, role.Description, expandPermissions(role.Permissions)); err != nil {
				return sum, fmt.Errorf("seed role %s: %w", role.Name, err)
			}
			sum.Roles++
		}
	}
	if s.Users != nil {
		for _, u := range fx.Users {
			id, err := s.Users.EnsureUser(ctx, strings.ToLower(u.Email), u.Name)
			if err != nil {
				return sum, fmt.Errorf("seed user %s: %w", u.Email, err)
			}
			if actorID == 0 {
				actorID = id
			}
			for _, role := range u.Roles {
				if s.Access == nil {
					break
				}
				if err := s.Access.AssignRole(ctx, id, role); err != nil {
					return sum, fmt.Errorf("assign %s to %s: %w", role, u.Email, err)
				}
			}
			sum.Users++
		}
	}

	ids := make(map[string]int64, len(fx.CostCenters))
	fresh := make(map[string]bool, len(fx.CostCenters))
	for _, cc := range fx.CostCenters {
		in := costcenter.CreateInput{
			Code:        cc.Code,
			Name:        cc.Name,
			Type:        costcenter.Type(cc.Type),
			Description: cc.Description,
			ActorID:     actorID,
		}
		if cc.Parent != "" {
			parent := ids[cc.Parent]
			in.ParentID = &parent
		}
		created, err := s.CostCenters.Create(ctx, in)
		switch {
		case err == nil:
			ids[cc.Code] = created.ID
			fresh[cc.Code] = true
			sum.CostCenters++
		case errors.Is(err, costcenter.ErrDuplicateCode):
			id, lookupErr := s.lookupCostCenter(ctx, cc.Code)
			if lookupErr != nil {
				return sum, lookupErr
			}
			ids[cc.Code] = id
			logger.Info("cost center exists", slog.String("code", cc.Code))
		default:
			return sum, fmt.Errorf("seed cost center %s: %w", cc.Code, err)
		}
	}

	for _, tx := range fx.Transactions {
		if !fresh[tx.CostCenter] {
			continue
		}
		_, err := s.CostCenters.RecordTransaction(ctx, costcenter.TransactionInput{
			CostCenterID:    ids[tx.CostCenter],
			Category:        tx.Category,
			Type:            costcenter.TransactionType(tx.Type),
			Amount:          tx.Amount.Decimal,
			TransactionDate: tx.Date.Time,
			Reference:       tx.Reference,
			Description:     tx.Description,
			ActorID:         actorID,
		})
		if err != nil {
			return sum, fmt.Errorf("seed transaction for %s: %w", tx.CostCenter, err)
		}
		sum.Transactions++
	}

	if s.Statistics != nil {
		for _, st := range fx.Statistics {
			_, err := s.Statistics.RecordStatistic(ctx, statistics.RecordInput{
				CostCenterID: ids[st.CostCenter],
				Metric:       statistics.Metric(st.Metric),
				PeriodStart:  st.PeriodStart.Time,
				PeriodEnd:    st.PeriodEnd.Time,
				Value:        st.Value.Decimal,
				ActorID:      actorID,
			})
			if err != nil {
				return sum, fmt.Errorf("seed statistic for %s: %w", st.CostCenter, err)
			}
			sum.Statistics++
		}
	}

	if s.Rules != nil {
		for _, rule := range fx.Rules {
			created, err := s.createRule(ctx, rule, ids, actorID)
			if errors.Is(err, allocation.ErrDuplicateRuleCode) {
				logger.Info("allocation rule exists", slog.String("code", rule.Code))
				continue
			}
			if err != nil {
				return sum, err
			}
			sum.Rules++
			if !rule.Approve {
				continue
			}
			if _, err := s.Rules.SubmitRule(ctx, created.ID, actorID); err != nil {
				return sum, fmt.Errorf("submit rule %s: %w", rule.Code, err)
			}
			if _, err := s.Rules.ApproveRule(ctx, created.ID, actorID); err != nil {
				return sum, fmt.Errorf("approve rule %s: %w", rule.Code, err)
			}
			if err := s.Rules.ActivateRule(ctx, created.ID, actorID); err != nil {
				return sum, fmt.Errorf("activate rule %s: %w", rule.Code, err)
			}
		}
	}

	logger.Info("seed applied",
		slog.Int("cost_centers", sum.CostCenters),
		slog.Int("transactions", sum.Transactions),
		slog.Int("statistics", sum.Statistics),
		slog.Int("rules", sum.Rules))
	return sum, nil
}

func (s *Seeder) createRule(ctx context.Context, rule Rule, ids map[string]int64, actorID int64) (allocation.Rule, error) {
	in := allocation.CreateRuleInput{
		Code:               rule.Code,
		Name:               rule.Name,
		SourceCostCenterID: ids[rule.Source],
		Base:               allocation.Base(rule.Base),
		EffectiveDate:      rule.EffectiveDate.Time,
		Description:        rule.Description,
		ActorID:            actorID,
	}
	if rule.EndDate != nil {
		end := rule.EndDate.Time
		in.EndDate = &end
	}
	for _, t := range rule.Targets {
		target := allocation.TargetInput{TargetCostCenterID: ids[t.CostCenter]}
		if t.Percentage != nil {
			pct := t.Percentage.Decimal
			target.Percentage = &pct
		}
		if t.Weight != nil {
			w := t.Weight.Decimal
			target.Weight = &w
		}
		in.Targets = append(in.Targets, target)
	}
	created, err := s.Rules.CreateRule(ctx, in)
	if err != nil && !errors.Is(err, allocation.ErrDuplicateRuleCode) {
		return allocation.Rule{}, fmt.Errorf("seed rule %s: %w", rule.Code, err)
	}
	return created, err
}

func (s *Seeder) lookupCostCenter(ctx context.Context, code string) (int64, error) {
	items, _, err := s.CostCenters.List(ctx, costcenter.ListFilter{Search: code, PerPage: 200})
	if err != nil {
		return 0, err
	}
	for _, item := range items {
		if strings.EqualFold(item.Code, code) {
			return item.ID, nil
		}
	}
	return 0, fmt.Errorf("seed: cost center %s reported duplicate but was not found", code)
}

func expandPermissions(perms []string) []string {
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		if p == "*" {
			return shared.AllCostingScopes()
		}
		out = append(out, p)
	}
	return out
}
