package allocation

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/hospital-costing/internal/shared"
)

// BuildReview aggregates a batch per source cost center. The source amount of
// a rule is counted once no matter how many targets it has.
func BuildReview(batchID string, journals []Journal, tolerance decimal.Decimal) (Review, error) {
	if len(journals) == 0 {
		return Review{}, ErrBatchNotFound
	}
	review := Review{
		BatchID:        batchID,
		Status:         journals[0].Status,
		PeriodStart:    journals[0].PeriodStart,
		PeriodEnd:      journals[0].PeriodEnd,
		TotalSource:    decimal.Zero,
		TotalAllocated: decimal.Zero,
		Tolerance:      tolerance,
	}
	groups := make(map[int64]*SourceGroup)
	countedRules := make(map[int64]struct{})
	for _, j := range journals {
		g, ok := groups[j.SourceCostCenterID]
		if !ok {
			g = &SourceGroup{SourceCostCenterID: j.SourceCostCenterID, SourceAmount: decimal.Zero, AllocatedAmount: decimal.Zero}
			groups[j.SourceCostCenterID] = g
		}
		g.JournalCount++
		g.AllocatedAmount = g.AllocatedAmount.Add(j.AllocatedAmount)
		if _, seen := countedRules[j.RuleID]; !seen {
			countedRules[j.RuleID] = struct{}{}
			g.RuleCount++
			g.SourceAmount = g.SourceAmount.Add(j.SourceAmount)
		}
	}
	balanced := true
	review.Groups = make([]SourceGroup, 0, len(groups))
	for _, g := range groups {
		g.Difference = g.SourceAmount.Sub(g.AllocatedAmount)
		if !shared.WithinTolerance(g.Difference, tolerance) {
			balanced = false
		}
		review.TotalSource = review.TotalSource.Add(g.SourceAmount)
		review.TotalAllocated = review.TotalAllocated.Add(g.AllocatedAmount)
		review.Groups = append(review.Groups, *g)
	}
	sort.Slice(review.Groups, func(i, j int) bool {
		return review.Groups[i].SourceCostCenterID < review.Groups[j].SourceCostCenterID
	})
	review.Difference = review.TotalSource.Sub(review.TotalAllocated)
	review.Balanced = balanced && shared.WithinTolerance(review.Difference, tolerance)
	review.CanPost = review.Status == StatusDraft && review.Balanced
	return review, nil
}
