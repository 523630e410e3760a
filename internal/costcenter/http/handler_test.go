package costcenterhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/hospital-costing/internal/costcenter"
	"github.com/odyssey-erp/hospital-costing/internal/rbac"
	"github.com/odyssey-erp/hospital-costing/internal/shared"
)

type fakeTx struct {
	costcenter.TxRepository
	centers map[int64]costcenter.CostCenter
}

func (f *fakeTx) GetCostCenter(_ context.Context, id int64) (costcenter.CostCenter, error) {
	cc, ok := f.centers[id]
	if !ok {
		return costcenter.CostCenter{}, costcenter.ErrCostCenterNotFound
	}
	return cc, nil
}

func (f *fakeTx) InsertCostCenter(_ context.Context, in costcenter.CreateInput) (costcenter.CostCenter, error) {
	for _, cc := range f.centers {
		if cc.Code == in.Code {
			return costcenter.CostCenter{}, costcenter.ErrDuplicateCode
		}
	}
	cc := costcenter.CostCenter{ID: int64(len(f.centers) + 1), Code: in.Code, Name: in.Name, Type: in.Type, IsActive: true}
	f.centers[cc.ID] = cc
	return cc, nil
}

type fakeRepo struct{ tx *fakeTx }

func (f fakeRepo) WithTx(ctx context.Context, fn func(context.Context, costcenter.TxRepository) error) error {
	return fn(ctx, f.tx)
}

type permSource []string

func (p permSource) EffectivePermissions(context.Context, int64) ([]string, error) {
	return p, nil
}

func newRouter(perms ...string) chi.Router {
	svc := costcenter.NewService(fakeRepo{tx: &fakeTx{centers: map[int64]costcenter.CostCenter{}}}, nil)
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

func TestCreateAndShowCostCenter(t *testing.T) {
	r := newRouter(shared.PermCostCenterManage)

	rr := do(r, http.MethodPost, "/cost-centers", `{"code":"ICU","name":"Intensive Care","type":"medical"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var created struct {
		Data costcenter.CostCenter `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	require.Equal(t, "ICU", created.Data.Code)

	rr = do(r, http.MethodGet, "/cost-centers/1", "")
	require.Equal(t, http.StatusOK, rr.Code)

	rr = do(r, http.MethodPost, "/cost-centers", `{"code":"ICU","name":"Duplicate","type":"medical"}`)
	require.Equal(t, http.StatusConflict, rr.Code)
}

func TestCreateValidation(t *testing.T) {
	r := newRouter(shared.PermCostCenterManage)

	rr := do(r, http.MethodPost, "/cost-centers", `{"code":"X","name":"X","type":"clinic"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.Contains(t, rr.Body.String(), "oneof")

	rr = do(r, http.MethodPost, "/cost-centers", `{"code":"X","unknown":1}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestShowMissingAndBadID(t *testing.T) {
	r := newRouter(shared.PermCostCenterView)
	require.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/cost-centers/77", "").Code)
	require.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/cost-centers/abc", "").Code)
}

func TestManageRequiresPermission(t *testing.T) {
	r := newRouter(shared.PermCostCenterView)
	rr := do(r, http.MethodPost, "/cost-centers", `{"code":"ICU","name":"Intensive Care","type":"medical"}`)
	require.Equal(t, http.StatusForbidden, rr.Code)
	require.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
}

func TestVarianceRequiresPeriod(t *testing.T) {
	r := newRouter(shared.PermCostCenterView)
	rr := do(r, http.MethodGet, "/budgets/variance?cost_center_id=1", "")
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAmountsLimitedToCents(t *testing.T) {
	r := newRouter(shared.PermTransactionPost, shared.PermBudgetManage)

	rr := do(r, http.MethodPost, "/transactions", `{"cost_center_id":1,"category":"salaries","transaction_type":"direct_cost","amount":12.345,"transaction_date":"2024-01-15"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code, rr.Body.String())
	require.Contains(t, rr.Body.String(), "more than 2 decimals")

	rr = do(r, http.MethodPut, "/budgets", `{"cost_center_id":1,"fiscal_year":2024,"month":1,"category":"salaries","amount":"1000.001"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code, rr.Body.String())

	rr = do(r, http.MethodPost, "/transactions", `{"cost_center_id":1,"category":"salaries","transaction_type":"direct_cost","amount":"lots","transaction_date":"2024-01-15"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(r, http.MethodPost, "/transactions", `{"cost_center_id":1,"category":"salaries","transaction_type":"direct_cost","transaction_date":"2024-01-15"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.Contains(t, rr.Body.String(), "required")
}
