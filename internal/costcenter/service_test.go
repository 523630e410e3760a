package costcenter

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/hospital-costing/internal/shared"
)

type memoryRepo struct {
	nextID  int64
	centers map[int64]CostCenter
	txns    []Transaction
	budgets map[string]Budget
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{centers: map[int64]CostCenter{}, budgets: map[string]Budget{}}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, m)
}

func (m *memoryRepo) GetCostCenter(_ context.Context, id int64) (CostCenter, error) {
	cc, ok := m.centers[id]
	if !ok {
		return CostCenter{}, ErrCostCenterNotFound
	}
	return cc, nil
}

func (m *memoryRepo) LockCostCenter(ctx context.Context, id int64) (CostCenter, error) {
	return m.GetCostCenter(ctx, id)
}

func (m *memoryRepo) ListCostCenters(ctx context.Context, filter ListFilter) ([]CostCenter, int, error) {
	all, _ := m.ListAllCostCenters(ctx)
	var out []CostCenter
	for _, cc := range all {
		if filter.ActiveOnly && !cc.IsActive {
			continue
		}
		if filter.Type != "" && cc.Type != filter.Type {
			continue
		}
		if filter.Search != "" && !strings.Contains(strings.ToLower(cc.Name), strings.ToLower(filter.Search)) {
			continue
		}
		out = append(out, cc)
	}
	return out, len(out), nil
}

func (m *memoryRepo) ListAllCostCenters(context.Context) ([]CostCenter, error) {
	out := make([]CostCenter, 0, len(m.centers))
	for _, cc := range m.centers {
		out = append(out, cc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (m *memoryRepo) CostCenterStates(_ context.Context, ids []int64) (map[int64]bool, error) {
	out := make(map[int64]bool)
	for _, id := range ids {
		if cc, ok := m.centers[id]; ok {
			out[id] = cc.IsActive
		}
	}
	return out, nil
}

func (m *memoryRepo) InsertCostCenter(_ context.Context, in CreateInput) (CostCenter, error) {
	for _, cc := range m.centers {
		if cc.Code == in.Code {
			return CostCenter{}, ErrDuplicateCode
		}
	}
	m.nextID++
	cc := CostCenter{ID: m.nextID, Code: in.Code, Name: in.Name, Type: in.Type, ParentID: in.ParentID, IsActive: true}
	m.centers[cc.ID] = cc
	return cc, nil
}

func (m *memoryRepo) UpdateCostCenter(_ context.Context, id int64, in UpdateInput) (CostCenter, error) {
	cc := m.centers[id]
	cc.Name, cc.Type, cc.ParentID, cc.Description = in.Name, in.Type, in.ParentID, in.Description
	m.centers[id] = cc
	return cc, nil
}

func (m *memoryRepo) SetActive(_ context.Context, id int64, active bool) error {
	cc, ok := m.centers[id]
	if !ok {
		return ErrCostCenterNotFound
	}
	cc.IsActive = active
	m.centers[id] = cc
	return nil
}

func (m *memoryRepo) AncestorIDs(_ context.Context, id int64) ([]int64, error) {
	var out []int64
	cur, ok := m.centers[id]
	for ok && cur.ParentID != nil {
		out = append(out, *cur.ParentID)
		cur, ok = m.centers[*cur.ParentID]
	}
	return out, nil
}

func (m *memoryRepo) InsertTransaction(_ context.Context, in TransactionInput) (Transaction, error) {
	txn := Transaction{
		ID:              int64(len(m.txns) + 1),
		CostCenterID:    in.CostCenterID,
		Category:        in.Category,
		Type:            in.Type,
		Amount:          in.Amount,
		TransactionDate: in.TransactionDate,
	}
	m.txns = append(m.txns, txn)
	return txn, nil
}

func (m *memoryRepo) ListTransactions(_ context.Context, filter TransactionFilter) ([]Transaction, error) {
	var out []Transaction
	for _, txn := range m.txns {
		if filter.CostCenterID != 0 && txn.CostCenterID != filter.CostCenterID {
			continue
		}
		out = append(out, txn)
	}
	return out, nil
}

func (m *memoryRepo) SumByType(_ context.Context, ids []int64, period shared.Period, types []TransactionType) (map[int64]decimal.Decimal, error) {
	want := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	out := make(map[int64]decimal.Decimal)
	for _, txn := range m.txns {
		if _, ok := want[txn.CostCenterID]; !ok || !period.Contains(txn.TransactionDate) {
			continue
		}
		for _, typ := range types {
			if txn.Type == typ {
				out[txn.CostCenterID] = out[txn.CostCenterID].Add(txn.Amount)
			}
		}
	}
	return out, nil
}

func budgetKey(id int64, year, month int, category string) string {
	return fmt.Sprintf("%d/%d/%d/%s", id, year, month, category)
}

func (m *memoryRepo) UpsertBudget(_ context.Context, in BudgetInput) (Budget, error) {
	b := Budget{CostCenterID: in.CostCenterID, FiscalYear: in.FiscalYear, Month: in.Month, Category: in.Category, Amount: in.Amount}
	m.budgets[budgetKey(in.CostCenterID, in.FiscalYear, in.Month, in.Category)] = b
	return b, nil
}

func (m *memoryRepo) BudgetTotal(_ context.Context, id int64, year, month int) (decimal.Decimal, bool, error) {
	total := decimal.Zero
	found := false
	for _, b := range m.budgets {
		if b.CostCenterID == id && b.FiscalYear == year && b.Month == month {
			total = total.Add(b.Amount)
			found = true
		}
	}
	return total, found, nil
}

type auditSpy struct {
	actions []string
	err     error
}

func (a *auditSpy) Record(_ context.Context, log shared.AuditLog) error {
	a.actions = append(a.actions, log.Action)
	return a.err
}

func newTestService() (*Service, *memoryRepo, *auditSpy) {
	repo := newMemoryRepo()
	audit := &auditSpy{}
	svc := NewService(repo, audit)
	svc.WithNow(func() time.Time { return time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC) })
	return svc, repo, audit
}

func mustCreate(t *testing.T, svc *Service, code string, typ Type, parent *int64) CostCenter {
	t.Helper()
	cc, err := svc.Create(context.Background(), CreateInput{Code: code, Name: code + " unit", Type: typ, ParentID: parent, ActorID: 1})
	require.NoError(t, err)
	return cc
}

func TestCreateRejectsInactiveParent(t *testing.T) {
	svc, _, audit := newTestService()
	root := mustCreate(t, svc, "ADM", TypeAdministrative, nil)
	require.NoError(t, svc.Deactivate(context.Background(), root.ID, 1))

	_, err := svc.Create(context.Background(), CreateInput{Code: "FIN", Name: "Finance", Type: TypeAdministrative, ParentID: &root.ID})
	require.ErrorIs(t, err, ErrInactiveCostCenter)
	require.Equal(t, []string{"cost_center.create", "cost_center.deactivate"}, audit.actions)
}

func TestAuditFailureIsLoggedNotReturned(t *testing.T) {
	var logs bytes.Buffer
	svc, _, audit := newTestService()
	svc.WithLogger(slog.New(slog.NewTextHandler(&logs, nil)))
	audit.err = errors.New("audit table locked")

	cc := mustCreate(t, svc, "ADM", TypeAdministrative, nil)
	require.NotZero(t, cc.ID)
	require.Equal(t, []string{"cost_center.create"}, audit.actions)
	require.Contains(t, logs.String(), "level=WARN")
	require.Contains(t, logs.String(), "cost_center.create")
	require.Contains(t, logs.String(), "audit table locked")
}

func TestCreateValidatesType(t *testing.T) {
	svc, _, _ := newTestService()
	_, err := svc.Create(context.Background(), CreateInput{Code: "X", Name: "X", Type: Type("clinic")})
	require.ErrorIs(t, err, ErrInvalidType)
}

func TestUpdateDetectsCycle(t *testing.T) {
	svc, _, _ := newTestService()
	root := mustCreate(t, svc, "ADM", TypeAdministrative, nil)
	child := mustCreate(t, svc, "FIN", TypeAdministrative, &root.ID)
	grandchild := mustCreate(t, svc, "FIN-AP", TypeAdministrative, &child.ID)

	_, err := svc.Update(context.Background(), root.ID, UpdateInput{Name: "Admin", Type: TypeAdministrative, ParentID: &grandchild.ID})
	require.ErrorIs(t, err, ErrHierarchyCycle)

	_, err = svc.Update(context.Background(), root.ID, UpdateInput{Name: "Admin", Type: TypeAdministrative, ParentID: &root.ID})
	require.ErrorIs(t, err, ErrHierarchyCycle)

	updated, err := svc.Update(context.Background(), grandchild.ID, UpdateInput{Name: "AP", Type: TypeAdministrative, ParentID: &root.ID})
	require.NoError(t, err)
	require.Equal(t, root.ID, *updated.ParentID)
}

func TestTreeNestsChildrenByCode(t *testing.T) {
	svc, _, _ := newTestService()
	root := mustCreate(t, svc, "HOSP", TypeAdministrative, nil)
	mustCreate(t, svc, "RAD", TypeMedical, &root.ID)
	icu := mustCreate(t, svc, "ICU", TypeMedical, &root.ID)
	mustCreate(t, svc, "ICU-N", TypeMedical, &icu.ID)

	tree, err := svc.Tree(context.Background())
	require.NoError(t, err)
	require.Len(t, tree, 1)
	require.Len(t, tree[0].Children, 2)
	require.Equal(t, "ICU", tree[0].Children[0].Code)
	require.Equal(t, "RAD", tree[0].Children[1].Code)
	require.Equal(t, "ICU-N", tree[0].Children[0].Children[0].Code)
}

func TestBuildTreeTreatsOrphansAsRoots(t *testing.T) {
	missing := int64(99)
	tree := BuildTree([]CostCenter{{ID: 1, Code: "B"}, {ID: 2, Code: "A", ParentID: &missing}})
	require.Len(t, tree, 2)
	require.Equal(t, "A", tree[0].Code)
}

func TestRecordTransactionRejectsInactive(t *testing.T) {
	svc, repo, _ := newTestService()
	cc := mustCreate(t, svc, "LAB", TypeMedical, nil)
	require.NoError(t, svc.Deactivate(context.Background(), cc.ID, 1))

	_, err := svc.RecordTransaction(context.Background(), TransactionInput{
		CostCenterID:    cc.ID,
		Category:        "reagents",
		Type:            TransactionDirectCost,
		Amount:          decimal.RequireFromString("150.00"),
		TransactionDate: time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
	})
	require.ErrorIs(t, err, ErrInactiveCostCenter)
	require.Empty(t, repo.txns)
}

func TestRecordTransactionValidation(t *testing.T) {
	svc, _, _ := newTestService()
	cc := mustCreate(t, svc, "LAB", TypeMedical, nil)
	base := TransactionInput{
		CostCenterID:    cc.ID,
		Category:        "reagents",
		Type:            TransactionDirectCost,
		Amount:          decimal.RequireFromString("10.005"),
		TransactionDate: time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
	}
	_, err := svc.RecordTransaction(context.Background(), base)
	require.Error(t, err)

	base.Amount = decimal.RequireFromString("-1")
	_, err = svc.RecordTransaction(context.Background(), base)
	require.Error(t, err)
}

func TestSourceAmountAndRevenue(t *testing.T) {
	svc, _, _ := newTestService()
	icu := mustCreate(t, svc, "ICU", TypeMedical, nil)
	jan := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	for _, in := range []TransactionInput{
		{CostCenterID: icu.ID, Category: "salary", Type: TransactionDirectCost, Amount: decimal.NewFromInt(700), TransactionDate: jan},
		{CostCenterID: icu.ID, Category: "overhead", Type: TransactionAllocatedCost, Amount: decimal.NewFromInt(300), TransactionDate: jan},
		{CostCenterID: icu.ID, Category: "bed", Type: TransactionRevenue, Amount: decimal.NewFromInt(5000), TransactionDate: jan},
		{CostCenterID: icu.ID, Category: "salary", Type: TransactionDirectCost, Amount: decimal.NewFromInt(900), TransactionDate: jan.AddDate(0, 1, 0)},
	} {
		_, err := svc.RecordTransaction(context.Background(), in)
		require.NoError(t, err)
	}

	period := shared.MonthPeriod(2024, time.January)
	amount, err := svc.SourceAmount(context.Background(), icu.ID, period)
	require.NoError(t, err)
	require.True(t, amount.Equal(decimal.NewFromInt(1000)), amount.String())

	revenue, err := svc.RevenueByCostCenter(context.Background(), []int64{icu.ID}, period)
	require.NoError(t, err)
	require.True(t, revenue[icu.ID].Equal(decimal.NewFromInt(5000)))
}

func TestBudgetVariance(t *testing.T) {
	svc, _, _ := newTestService()
	cc := mustCreate(t, svc, "RAD", TypeMedical, nil)

	_, err := svc.BudgetVariance(context.Background(), cc.ID, 2024, time.March)
	require.ErrorIs(t, err, ErrBudgetNotFound)

	_, err = svc.SetBudget(context.Background(), BudgetInput{CostCenterID: cc.ID, FiscalYear: 2024, Month: 3, Category: "supplies", Amount: decimal.NewFromInt(1000)})
	require.NoError(t, err)
	_, err = svc.RecordTransaction(context.Background(), TransactionInput{
		CostCenterID:    cc.ID,
		Category:        "supplies",
		Type:            TransactionDirectCost,
		Amount:          decimal.NewFromInt(1250),
		TransactionDate: time.Date(2024, 3, 3, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	v, err := svc.BudgetVariance(context.Background(), cc.ID, 2024, time.March)
	require.NoError(t, err)
	require.True(t, v.Variance.Equal(decimal.NewFromInt(-250)))
	require.True(t, v.OverBudget)
	require.Equal(t, "125", v.Utilization.String())
}

func TestGetMissing(t *testing.T) {
	svc, _, _ := newTestService()
	_, err := svc.Get(context.Background(), 42)
	require.True(t, errors.Is(err, ErrCostCenterNotFound))
}
