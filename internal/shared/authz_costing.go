package shared

// Cost center management permissions declared for RBAC.
const (
	PermCostCenterView   = "costing.cost_center.view"
	PermCostCenterManage = "costing.cost_center.manage"
	PermTransactionPost  = "costing.transaction.post"
	PermBudgetManage     = "costing.budget.manage"
	PermStatisticsManage = "costing.statistics.manage"
)

// Allocation permissions declared for RBAC.
const (
	PermAllocationView        = "costing.allocation.view"
	PermAllocationRuleManage  = "costing.allocation.rule.manage"
	PermAllocationRuleApprove = "costing.allocation.rule.approve"
	PermAllocationExecute     = "costing.allocation.execute"
	PermAllocationPost        = "costing.allocation.post"
	PermAllocationReverse     = "costing.allocation.reverse"
)

// CostCenterScopes lists all permissions related to cost center master data.
func CostCenterScopes() []string {
	return []string{
		PermCostCenterView,
		PermCostCenterManage,
		PermTransactionPost,
		PermBudgetManage,
		PermStatisticsManage,
	}
}

// AllocationScopes lists all permissions related to cost allocation.
func AllocationScopes() []string {
	return []string{
		PermAllocationView,
		PermAllocationRuleManage,
		PermAllocationRuleApprove,
		PermAllocationExecute,
		PermAllocationPost,
		PermAllocationReverse,
	}
}

// AllCostingScopes returns every permission known to the costing service.
func AllCostingScopes() []string {
	return append(CostCenterScopes(), AllocationScopes()...)
}
