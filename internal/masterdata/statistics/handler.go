package statistics

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/hospital-costing/internal/platform/httpx"
	"github.com/odyssey-erp/hospital-costing/internal/rbac"
	"github.com/odyssey-erp/hospital-costing/internal/shared"
)

var errorRules = []httpx.StatusRule{
	{Err: ErrInvalidStatistic, Status: http.StatusUnprocessableEntity},
	{Err: ErrUnknownMetric, Status: http.StatusUnprocessableEntity},
	{Err: ErrUnknownCostCenter, Status: http.StatusUnprocessableEntity},
	{Err: shared.ErrInvalidPeriod, Status: http.StatusBadRequest},
}

type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

type recordRequest struct {
	CostCenterID int64           `json:"cost_center_id" validate:"required,gt=0"`
	Metric       string          `json:"metric" validate:"required,oneof=headcount square_footage patient_days service_volume"`
	PeriodStart  string          `json:"period_start" validate:"required,datetime=2006-01-02"`
	PeriodEnd    string          `json:"period_end" validate:"required,datetime=2006-01-02"`
	Value        decimal.Decimal `json:"value"`
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{Metric: Metric(q.Get("metric"))}
	if raw := q.Get("cost_center_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid cost_center_id")
			return
		}
		filter.CostCenterID = id
	}
	if q.Get("period") != "" || q.Get("start") != "" || q.Get("end") != "" {
		period, err := shared.ResolvePeriod(q.Get("period"), q.Get("start"), q.Get("end"))
		if err != nil {
			httpx.RespondError(w, err, errorRules...)
			return
		}
		filter.Start, filter.End = period.Start, period.End
	}
	items, err := h.service.ListStatistics(r.Context(), filter)
	if err != nil {
		h.logger.Error("list statistics failed", "error", err)
		httpx.RespondError(w, err, errorRules...)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": items})
}

func (h *Handler) Record(w http.ResponseWriter, r *http.Request) {
	var req recordRequest
	if !httpx.DecodeAndValidate(w, r, &req) {
		return
	}
	start, _ := time.Parse("2006-01-02", req.PeriodStart)
	end, _ := time.Parse("2006-01-02", req.PeriodEnd)
	actor, _ := shared.ActorFromContext(r.Context())
	st, err := h.service.RecordStatistic(r.Context(), RecordInput{
		CostCenterID: req.CostCenterID,
		Metric:       Metric(req.Metric),
		PeriodStart:  start,
		PeriodEnd:    end,
		Value:        req.Value,
		ActorID:      actor.UserID,
	})
	if err != nil {
		h.logger.Warn("record statistic failed", "error", err)
		httpx.RespondError(w, err, errorRules...)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": st})
}
