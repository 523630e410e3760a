package seed

import (
	"context"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/hospital-costing/internal/allocation"
	"github.com/odyssey-erp/hospital-costing/internal/costcenter"
	"github.com/odyssey-erp/hospital-costing/internal/masterdata/statistics"
	"github.com/odyssey-erp/hospital-costing/internal/rbac"
	"github.com/odyssey-erp/hospital-costing/internal/shared"
)

type fakeCenters struct {
	byCode       map[string]costcenter.CostCenter
	transactions []costcenter.TransactionInput
}

func (f *fakeCenters) Create(_ context.Context, in costcenter.CreateInput) (costcenter.CostCenter, error) {
	if _, ok := f.byCode[in.Code]; ok {
		return costcenter.CostCenter{}, costcenter.ErrDuplicateCode
	}
	cc := costcenter.CostCenter{ID: int64(len(f.byCode) + 1), Code: in.Code, Name: in.Name, Type: in.Type, ParentID: in.ParentID, IsActive: true}
	f.byCode[in.Code] = cc
	return cc, nil
}

func (f *fakeCenters) List(_ context.Context, filter costcenter.ListFilter) ([]costcenter.CostCenter, shared.Pagination, error) {
	var out []costcenter.CostCenter
	for code, cc := range f.byCode {
		if strings.Contains(code, filter.Search) {
			out = append(out, cc)
		}
	}
	return out, shared.NewPagination(1, filter.PerPage, len(out)), nil
}

func (f *fakeCenters) RecordTransaction(_ context.Context, in costcenter.TransactionInput) (costcenter.Transaction, error) {
	f.transactions = append(f.transactions, in)
	return costcenter.Transaction{}, nil
}

type fakeStats struct{ inputs []statistics.RecordInput }

func (f *fakeStats) RecordStatistic(_ context.Context, in statistics.RecordInput) (statistics.Statistic, error) {
	f.inputs = append(f.inputs, in)
	return statistics.Statistic{}, nil
}

type fakeRules struct {
	created  map[string]allocation.CreateRuleInput
	approved []int64
	active   []int64
}

func (f *fakeRules) CreateRule(_ context.Context, in allocation.CreateRuleInput) (allocation.Rule, error) {
	if _, ok := f.created[in.Code]; ok {
		return allocation.Rule{}, allocation.ErrDuplicateRuleCode
	}
	f.created[in.Code] = in
	return allocation.Rule{ID: int64(len(f.created)), Code: in.Code}, nil
}

func (f *fakeRules) SubmitRule(_ context.Context, id, _ int64) (allocation.Rule, error) {
	return allocation.Rule{ID: id, ApprovalStatus: allocation.ApprovalPending}, nil
}

func (f *fakeRules) ApproveRule(_ context.Context, id, _ int64) (allocation.Rule, error) {
	f.approved = append(f.approved, id)
	return allocation.Rule{ID: id, ApprovalStatus: allocation.ApprovalApproved}, nil
}

func (f *fakeRules) ActivateRule(_ context.Context, id, _ int64) error {
	f.active = append(f.active, id)
	return nil
}

type fakeAccess struct {
	roles    map[string][]string
	assigned map[int64][]string
}

func (f *fakeAccess) EnsureRole(_ context.Context, name, _ string, perms []string) (rbac.Role, error) {
	f.roles[name] = perms
	return rbac.Role{Name: name}, nil
}

func (f *fakeAccess) AssignRole(_ context.Context, userID int64, role string) error {
	f.assigned[userID] = append(f.assigned[userID], role)
	return nil
}

type fakeUsers struct{ ids map[string]int64 }

func (f *fakeUsers) EnsureUser(_ context.Context, email, _ string) (int64, error) {
	if id, ok := f.ids[email]; ok {
		return id, nil
	}
	id := int64(len(f.ids) + 1)
	f.ids[email] = id
	return id, nil
}

func newSeeder() (*Seeder, *fakeCenters, *fakeRules, *fakeAccess) {
	centers := &fakeCenters{byCode: map[string]costcenter.CostCenter{}}
	rules := &fakeRules{created: map[string]allocation.CreateRuleInput{}}
	access := &fakeAccess{roles: map[string][]string{}, assigned: map[int64][]string{}}
	return &Seeder{
		CostCenters: centers,
		Statistics:  &fakeStats{},
		Rules:       rules,
		Access:      access,
		Users:       &fakeUsers{ids: map[string]int64{}},
	}, centers, rules, access
}

func TestLoadDevelopmentFixtures(t *testing.T) {
	fx, err := Load("../../scripts/seed/fixtures.yaml")
	require.NoError(t, err)
	require.Len(t, fx.CostCenters, 10)

	var finance Rule
	for _, r := range fx.Rules {
		if r.Code == "AR-FIN-001" {
			finance = r
		}
	}
	require.Equal(t, "FIN", finance.Source)
	total := decimal.Zero
	for _, target := range finance.Targets {
		require.NotNil(t, target.Percentage)
		total = total.Add(target.Percentage.Decimal)
	}
	require.True(t, total.Equal(decimal.NewFromInt(100)))
}

func TestApplyIsRepeatable(t *testing.T) {
	fx, err := Load("../../scripts/seed/fixtures.yaml")
	require.NoError(t, err)
	seeder, centers, rules, access := newSeeder()
	ctx := context.Background()

	first, err := seeder.Apply(ctx, fx)
	require.NoError(t, err)
	require.Equal(t, 10, first.CostCenters)
	require.Equal(t, 5, first.Transactions)
	require.Equal(t, 3, first.Rules)
	require.Len(t, rules.approved, 2)
	require.Equal(t, shared.AllCostingScopes(), access.roles["costing-admin"])
	require.Equal(t, []string{"costing-admin"}, access.assigned[1])

	fin := centers.byCode["FIN"]
	require.Equal(t, centers.byCode["HOSP"].ID, *fin.ParentID)
	arFin := rules.created["AR-FIN-001"]
	require.Equal(t, fin.ID, arFin.SourceCostCenterID)
	require.Equal(t, int64(1), arFin.ActorID)
	require.Len(t, arFin.Targets, 6)
	require.Equal(t, "25", arFin.Targets[0].Percentage.String())

	second, err := seeder.Apply(ctx, fx)
	require.NoError(t, err)
	require.Zero(t, second.CostCenters)
	require.Zero(t, second.Transactions)
	require.Zero(t, second.Rules)
	require.Len(t, centers.transactions, 5)
}

func TestDecodeRejectsDanglingReferences(t *testing.T) {
	_, err := Decode(strings.NewReader(`
cost_centers:
  - {code: ER, name: ER, type: medical, parent: HOSP}
  - {code: HOSP, name: Hospital, type: administrative}
`))
	require.ErrorContains(t, err, "unknown parent HOSP")

	_, err = Decode(strings.NewReader(`
cost_centers:
  - {code: FIN, name: Finance, type: administrative}
rules:
  - {code: R1, name: r, source: FIN, base: percentage, effective_date: 2024-01-01, targets: [{cost_center: ICU, percentage: "100"}]}
`))
	require.ErrorContains(t, err, "unknown target ICU")

	_, err = Decode(strings.NewReader(`
users:
  - {email: a@b.c, name: A, roles: [ghost]}
`))
	require.ErrorContains(t, err, "unknown role ghost")
}

func TestDecodeRejectsUnknownFieldsAndBadValues(t *testing.T) {
	_, err := Decode(strings.NewReader("cost_centres: []\n"))
	require.Error(t, err)

	_, err = Decode(strings.NewReader(`
cost_centers:
  - {code: FIN, name: Finance, type: administrative}
transactions:
  - {cost_center: FIN, category: x, type: direct_cost, amount: "12,5", date: 2024-01-01}
`))
	require.Error(t, err)

	fx, err := Decode(strings.NewReader(""))
	require.NoError(t, err)
	require.Empty(t, fx.CostCenters)
}
