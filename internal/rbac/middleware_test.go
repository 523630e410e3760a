package rbac

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/hospital-costing/internal/shared"
)

type stubSource struct {
	perms []string
	err   error
}

func (s stubSource) EffectivePermissions(context.Context, int64) ([]string, error) {
	return s.perms, s.err
}

func serve(t *testing.T, mw func(http.Handler) http.Handler, withActor bool) int {
	t.Helper()
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if withActor {
		req = req.WithContext(shared.ContextWithActor(req.Context(), shared.Actor{UserID: 1}))
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr.Code
}

func TestRequireAny(t *testing.T) {
	m := Middleware{Service: stubSource{perms: []string{shared.PermAllocationView}}}
	require.Equal(t, http.StatusOK, serve(t, m.RequireAny(shared.PermAllocationView, shared.PermAllocationExecute), true))
	require.Equal(t, http.StatusForbidden, serve(t, m.RequireAny(shared.PermAllocationPost), true))
	require.Equal(t, http.StatusUnauthorized, serve(t, m.RequireAny(shared.PermAllocationView), false))
}

func TestRequireAll(t *testing.T) {
	m := Middleware{Service: stubSource{perms: []string{"COSTING.Allocation.View", shared.PermAllocationExecute}}}
	require.Equal(t, http.StatusOK, serve(t, m.RequireAll(shared.PermAllocationView, shared.PermAllocationExecute), true))
	require.Equal(t, http.StatusForbidden, serve(t, m.RequireAll(shared.PermAllocationView, shared.PermAllocationPost), true))
}

func TestRequireSourceError(t *testing.T) {
	m := Middleware{Service: stubSource{err: errors.New("db down")}}
	require.Equal(t, http.StatusInternalServerError, serve(t, m.RequireAny(shared.PermAllocationView), true))
}

func TestNoPermissionsRequired(t *testing.T) {
	m := Middleware{Service: stubSource{}}
	require.Equal(t, http.StatusOK, serve(t, m.RequireAny(), false))
}

type countingSource struct {
	perms []string
	calls *int
}

func (s countingSource) EffectivePermissions(context.Context, int64) ([]string, error) {
	*s.calls++
	return s.perms, nil
}

func TestChainedChecksLoadPermissionsOnce(t *testing.T) {
	calls := 0
	m := Middleware{Service: countingSource{perms: []string{shared.PermAllocationView, shared.PermAllocationPost}, calls: &calls}}
	chain := func(next http.Handler) http.Handler {
		return m.RequireAll(shared.PermAllocationView)(m.RequireAny(shared.PermAllocationPost)(next))
	}
	require.Equal(t, http.StatusOK, serve(t, chain, true))
	require.Equal(t, 1, calls)
}

func TestForbiddenNamesMissingPermission(t *testing.T) {
	m := Middleware{Service: stubSource{perms: []string{shared.PermAllocationView}}}
	h := m.RequireAll(shared.PermAllocationView, shared.PermAllocationReverse)(http.NotFoundHandler())
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req = req.WithContext(shared.ContextWithActor(req.Context(), shared.Actor{UserID: 1}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	require.Equal(t, http.StatusForbidden, rr.Code)
	require.Contains(t, rr.Body.String(), shared.PermAllocationReverse)
}
