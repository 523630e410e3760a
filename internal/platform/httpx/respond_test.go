package httpx

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

var errUnbalanced = errors.New("allocation: batch is not balanced")

func TestRespondErrorRulesTakePrecedence(t *testing.T) {
	rr := httptest.NewRecorder()
	RespondError(rr, fmt.Errorf("post: %w", errUnbalanced), StatusRule{Err: errUnbalanced, Status: http.StatusConflict})
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
	require.Contains(t, rr.Body.String(), "batch is not balanced")

	rr = httptest.NewRecorder()
	RespondError(rr, fmt.Errorf("lookup: %w", ErrNotFound))
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = httptest.NewRecorder()
	RespondError(rr, errors.New("connection reset"))
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.NotContains(t, rr.Body.String(), "connection reset")
}

type statisticRequest struct {
	CostCenterID int64  `json:"cost_center_id" validate:"required,gt=0"`
	Metric       string `json:"metric" validate:"required,oneof=headcount square_footage patient_days service_volume"`
}

func TestDecodeAndValidate(t *testing.T) {
	var req statisticRequest
	rr := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"cost_center_id":3,"metric":"headcount"}`))
	require.True(t, DecodeAndValidate(rr, r, &req))
	require.EqualValues(t, 3, req.CostCenterID)

	rr = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"cost_center_id":3,"metric":"beds"}`))
	require.False(t, DecodeAndValidate(rr, r, &req))
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	require.Contains(t, rr.Body.String(), `"Metric":"oneof"`)

	rr = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"cost_center_id":3,"unknown":1}`))
	require.False(t, DecodeAndValidate(rr, r, &req))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}
