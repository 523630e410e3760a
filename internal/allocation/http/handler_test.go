package allocationhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/hospital-costing/internal/allocation"
	"github.com/odyssey-erp/hospital-costing/internal/rbac"
	"github.com/odyssey-erp/hospital-costing/internal/shared"
)

type fakeTx struct {
	allocation.TxRepository
	rules    map[int64]allocation.Rule
	journals []allocation.Journal
}

func (f *fakeTx) InsertRule(_ context.Context, in allocation.CreateRuleInput) (allocation.Rule, error) {
	for _, r := range f.rules {
		if r.Code == in.Code {
			return allocation.Rule{}, allocation.ErrDuplicateRuleCode
		}
	}
	rule := allocation.Rule{
		ID:                 int64(len(f.rules) + 1),
		Code:               in.Code,
		Name:               in.Name,
		SourceCostCenterID: in.SourceCostCenterID,
		Base:               in.Base,
		ApprovalStatus:     allocation.ApprovalDraft,
		EffectiveDate:      in.EffectiveDate,
		IsActive:           true,
	}
	f.rules[rule.ID] = rule
	return rule, nil
}

func (f *fakeTx) ReplaceTargets(_ context.Context, id int64, targets []allocation.TargetInput) ([]allocation.Target, error) {
	rule := f.rules[id]
	rule.Targets = nil
	for _, t := range targets {
		rule.Targets = append(rule.Targets, allocation.Target{RuleID: id, TargetCostCenterID: t.TargetCostCenterID, Percentage: t.Percentage, Weight: t.Weight})
	}
	f.rules[id] = rule
	return rule.Targets, nil
}

func (f *fakeTx) GetRule(_ context.Context, id int64, _ bool) (allocation.Rule, error) {
	rule, ok := f.rules[id]
	if !ok {
		return allocation.Rule{}, allocation.ErrRuleNotFound
	}
	return rule, nil
}

func (f *fakeTx) UpdateRuleStatus(_ context.Context, id int64, change allocation.RuleStatusChange) error {
	rule := f.rules[id]
	rule.ApprovalStatus = change.Status
	f.rules[id] = rule
	return nil
}

func (f *fakeTx) BatchJournals(_ context.Context, batchID string, _ bool) ([]allocation.Journal, error) {
	var out []allocation.Journal
	for _, j := range f.journals {
		if j.BatchID == batchID {
			out = append(out, j)
		}
	}
	return out, nil
}

func (f *fakeTx) MarkBatchReversed(_ context.Context, batchID string, _ int64, _ time.Time) (int64, error) {
	var n int64
	for i := range f.journals {
		if f.journals[i].BatchID == batchID {
			f.journals[i].Status = allocation.StatusReversed
			n++
		}
	}
	return n, nil
}

type fakeRepo struct{ tx *fakeTx }

func (f fakeRepo) WithTx(ctx context.Context, fn func(context.Context, allocation.TxRepository) error) error {
	return fn(ctx, f.tx)
}

type activeCenters struct{}

func (activeCenters) CostCenterStates(_ context.Context, ids []int64) (map[int64]bool, error) {
	out := make(map[int64]bool, len(ids))
	for _, id := range ids {
		out[id] = id < 100
	}
	return out, nil
}

type heldLocker struct{}

func (heldLocker) Acquire(context.Context, string) (shared.Releaser, error) {
	return nil, shared.ErrLeaseHeld
}

type permSource []string

func (p permSource) EffectivePermissions(context.Context, int64) ([]string, error) {
	return p, nil
}

func newRouter(tx *fakeTx, perms ...string) chi.Router {
	if tx.rules == nil {
		tx.rules = map[int64]allocation.Rule{}
	}
	svc := allocation.NewService(fakeRepo{tx: tx}, allocation.NewEngine(activeCenters{}, nil, nil), heldLocker{}, nil)
	h := NewHandler(nil, svc, rbac.Middleware{Service: permSource(perms)})
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(shared.ContextWithActor(req.Context(), shared.Actor{UserID: 9})))
		})
	})
	h.MountRoutes(r)
	return r
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

const ruleBody = `{"code":"ar-fin-001","name":"Finance overhead","source_cost_center_id":1,
"allocation_base":"percentage","effective_date":"2024-01-01",
"targets":[{"target_cost_center_id":2,"allocation_percentage":"60"},{"target_cost_center_id":3,"allocation_percentage":40}]}`

func TestRuleLifecycleOverHTTP(t *testing.T) {
	tx := &fakeTx{}
	r := newRouter(tx, shared.PermAllocationRuleManage)

	rr := do(r, http.MethodPost, "/allocation-rules", ruleBody)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var created struct {
		Data allocation.Rule `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	require.Equal(t, "AR-FIN-001", created.Data.Code)
	require.Len(t, created.Data.Targets, 2)
	require.True(t, created.Data.Targets[1].Percentage.Equal(decimal.NewFromInt(40)))

	rr = do(r, http.MethodPost, "/allocation-rules", ruleBody)
	require.Equal(t, http.StatusConflict, rr.Code)

	rr = do(r, http.MethodPost, "/allocation-rules/1/submit", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Equal(t, allocation.ApprovalPending, tx.rules[1].ApprovalStatus)

	rr = do(r, http.MethodPost, "/allocation-rules/1/approve", "")
	require.Equal(t, http.StatusForbidden, rr.Code)

	require.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/allocation-rules/42", "").Code)
	require.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/allocation-rules/x", "").Code)
}

func TestApproveAndRejectRequireApprover(t *testing.T) {
	tx := &fakeTx{rules: map[int64]allocation.Rule{
		1: {ID: 1, Code: "R1", ApprovalStatus: allocation.ApprovalPending},
		2: {ID: 2, Code: "R2", ApprovalStatus: allocation.ApprovalDraft},
	}}
	r := newRouter(tx, shared.PermAllocationRuleApprove)

	rr := do(r, http.MethodPost, "/allocation-rules/1/reject", `{}`)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = do(r, http.MethodPost, "/allocation-rules/1/approve", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, allocation.ApprovalApproved, tx.rules[1].ApprovalStatus)

	rr = do(r, http.MethodPost, "/allocation-rules/2/approve", "")
	require.Equal(t, http.StatusConflict, rr.Code)
}

func TestCreateRuleValidation(t *testing.T) {
	r := newRouter(&fakeTx{}, shared.PermAllocationRuleManage)

	rr := do(r, http.MethodPost, "/allocation-rules", `{"code":"R","name":"R","source_cost_center_id":1,"allocation_base":"step_down","effective_date":"2024-01-01"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.Contains(t, rr.Body.String(), "oneof")

	rr = do(r, http.MethodPost, "/allocation-rules", `{"code":"R","name":"R","source_cost_center_id":1,"allocation_base":"percentage","effective_date":"2024-01-01",
"targets":[{"target_cost_center_id":1,"allocation_percentage":100}]}`)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	rr = do(r, http.MethodPost, "/allocation-rules", `{"code":"R","name":"R","source_cost_center_id":1,"allocation_base":"percentage","effective_date":"2024-01-01",
"targets":[{"target_cost_center_id":150,"allocation_percentage":100}]}`)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestExecuteConflictsWhileLeaseHeld(t *testing.T) {
	r := newRouter(&fakeTx{}, shared.PermAllocationExecute)

	rr := do(r, http.MethodPost, "/allocation-process/execute", `{"period":"2024-01"}`)
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Contains(t, rr.Body.String(), "in progress")

	rr = do(r, http.MethodPost, "/allocation-process/execute", `{}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(r, http.MethodPost, "/allocation-process/execute", `{"period":"January"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func draftBatch(allocated string) []allocation.Journal {
	period := shared.MonthPeriod(2024, time.January)
	return []allocation.Journal{{
		BatchID:            "ALLOC-202401-0000BEEF",
		RuleID:             1,
		PeriodStart:        period.Start,
		PeriodEnd:          period.End,
		SourceCostCenterID: 1,
		TargetCostCenterID: 2,
		SourceAmount:       decimal.RequireFromString("100"),
		AllocatedAmount:    decimal.RequireFromString(allocated),
		Status:             allocation.StatusDraft,
	}}
}

func TestReviewPostAndRollback(t *testing.T) {
	tx := &fakeTx{journals: draftBatch("99.50")}
	r := newRouter(tx, shared.PermAllocationView, shared.PermAllocationPost, shared.PermAllocationReverse)

	rr := do(r, http.MethodGet, "/allocation-process/ALLOC-202401-0000BEEF/review", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var review struct {
		Data allocation.Review `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &review))
	require.False(t, review.Data.CanPost)
	require.Equal(t, "0.5", review.Data.Difference.String())

	rr = do(r, http.MethodPost, "/allocation-process/ALLOC-202401-0000BEEF/post", "")
	require.Equal(t, http.StatusConflict, rr.Code)

	rr = do(r, http.MethodPost, "/allocation-process/ALLOC-202401-0000BEEF/rollback", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.Equal(t, allocation.StatusReversed, tx.journals[0].Status)

	rr = do(r, http.MethodPost, "/allocation-process/ALLOC-202401-0000BEEF/rollback", `{"reason":"again"}`)
	require.Equal(t, http.StatusConflict, rr.Code)

	require.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/allocation-process/NOPE/review", "").Code)
	require.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/allocation-process/NOPE", "").Code)
}

func TestRollbackRequiresReversePermission(t *testing.T) {
	r := newRouter(&fakeTx{journals: draftBatch("100")}, shared.PermAllocationView, shared.PermAllocationPost)
	rr := do(r, http.MethodPost, "/allocation-process/ALLOC-202401-0000BEEF/rollback", "")
	require.Equal(t, http.StatusForbidden, rr.Code)
}

func TestApprovalHistoryAndBatchAudit(t *testing.T) {
	tx := &fakeTx{rules: map[int64]allocation.Rule{1: {ID: 1, Code: "R1", ApprovalStatus: allocation.ApprovalDraft}}}
	r := newRouter(tx, shared.PermAllocationView)

	rr := do(r, http.MethodGet, "/allocation-rules/1/approvals", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.JSONEq(t, `{"data":[]}`, rr.Body.String())
	require.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/allocation-rules/42/approvals", "").Code)

	rr = do(r, http.MethodGet, "/allocation-process/ALLOC-202401-0000BEEF/audit?limit=5", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"data":[]}`, rr.Body.String())
}
