package allocationhttp

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/hospital-costing/internal/allocation"
	"github.com/odyssey-erp/hospital-costing/internal/costcenter"
	"github.com/odyssey-erp/hospital-costing/internal/platform/httpx"
	"github.com/odyssey-erp/hospital-costing/internal/rbac"
	"github.com/odyssey-erp/hospital-costing/internal/shared"
)

const dateLayout = "2006-01-02"

var errorRules = []httpx.StatusRule{
	{Err: allocation.ErrRuleNotFound, Status: http.StatusNotFound},
	{Err: allocation.ErrBatchNotFound, Status: http.StatusNotFound},
	{Err: allocation.ErrDuplicateRuleCode, Status: http.StatusConflict},
	{Err: allocation.ErrRuleNotEditable, Status: http.StatusConflict},
	{Err: allocation.ErrInvalidRuleStatus, Status: http.StatusConflict},
	{Err: allocation.ErrInvalidStatus, Status: http.StatusConflict},
	{Err: allocation.ErrUnbalancedBatch, Status: http.StatusConflict},
	{Err: allocation.ErrBatchExists, Status: http.StatusConflict},
	{Err: allocation.ErrExecutionInProgress, Status: http.StatusConflict},
	{Err: shared.ErrIdempotencyConflict, Status: http.StatusConflict},
	{Err: allocation.ErrInvalidRule, Status: http.StatusUnprocessableEntity},
	{Err: allocation.ErrNoTargets, Status: http.StatusUnprocessableEntity},
	{Err: allocation.ErrSelfAllocation, Status: http.StatusUnprocessableEntity},
	{Err: allocation.ErrDuplicateTarget, Status: http.StatusUnprocessableEntity},
	{Err: allocation.ErrPercentageSum, Status: http.StatusUnprocessableEntity},
	{Err: allocation.ErrInvalidWeight, Status: http.StatusUnprocessableEntity},
	{Err: allocation.ErrUnknownBase, Status: http.StatusUnprocessableEntity},
	{Err: allocation.ErrZeroBase, Status: http.StatusUnprocessableEntity},
	{Err: allocation.ErrMissingDriver, Status: http.StatusUnprocessableEntity},
	{Err: allocation.ErrNothingToAllocate, Status: http.StatusUnprocessableEntity},
	{Err: costcenter.ErrCostCenterNotFound, Status: http.StatusUnprocessableEntity},
	{Err: costcenter.ErrInactiveCostCenter, Status: http.StatusUnprocessableEntity},
	{Err: shared.ErrInvalidPeriod, Status: http.StatusBadRequest},
	{Err: shared.ErrInvalidIdempotencyKey, Status: http.StatusBadRequest},
}

// Handler exposes allocation rules and the batch lifecycle.
type Handler struct {
	logger  *slog.Logger
	service *allocation.Service
	rbac    rbac.Middleware
}

// NewHandler constructs the HTTP handler.
func NewHandler(logger *slog.Logger, service *allocation.Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers allocation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	view := h.rbac.RequireAny(shared.PermAllocationView, shared.PermAllocationRuleManage)
	manage := h.rbac.RequireAll(shared.PermAllocationRuleManage)
	approve := h.rbac.RequireAll(shared.PermAllocationRuleApprove)

	r.Route("/allocation-rules", func(r chi.Router) {
		r.With(view).Get("/", h.listRules)
		r.With(manage).Post("/", h.createRule)
		r.Route("/{id}", func(r chi.Router) {
			r.With(view).Get("/", h.showRule)
			r.With(manage).Put("/", h.updateRule)
			r.With(manage).Put("/targets", h.replaceTargets)
			r.With(manage).Post("/submit", h.submitRule)
			r.With(approve).Post("/approve", h.approveRule)
			r.With(approve).Post("/reject", h.rejectRule)
			r.With(manage).Post("/activate", h.activateRule)
			r.With(manage).Post("/deactivate", h.deactivateRule)
			r.With(view).Get("/preview", h.previewRule)
			r.With(view).Get("/approvals", h.ruleApprovals)
		})
	})
	r.Route("/allocation-process", func(r chi.Router) {
		r.With(h.rbac.RequireAll(shared.PermAllocationView)).Get("/", h.listBatches)
		r.With(h.rbac.RequireAll(shared.PermAllocationExecute)).Post("/execute", h.execute)
		r.Route("/{batch}", func(r chi.Router) {
			r.With(h.rbac.RequireAll(shared.PermAllocationView)).Get("/", h.showBatch)
			r.With(h.rbac.RequireAny(shared.PermAllocationView, shared.PermAllocationPost)).Get("/review", h.review)
			r.With(h.rbac.RequireAll(shared.PermAllocationPost)).Post("/post", h.post)
			r.With(h.rbac.RequireAll(shared.PermAllocationReverse)).Post("/rollback", h.rollback)
			r.With(h.rbac.RequireAll(shared.PermAllocationView)).Get("/audit", h.batchAudit)
		})
	})
}

type targetRequest struct {
	TargetCostCenterID int64            `json:"target_cost_center_id" validate:"required,gt=0"`
	Percentage         *decimal.Decimal `json:"allocation_percentage"`
	Weight             *decimal.Decimal `json:"allocation_weight"`
}

type ruleRequest struct {
	Code               string          `json:"code" validate:"required,max=32"`
	Name               string          `json:"name" validate:"required,max=200"`
	SourceCostCenterID int64           `json:"source_cost_center_id" validate:"required,gt=0"`
	Base               string          `json:"allocation_base" validate:"required,oneof=percentage weight headcount square_footage patient_days service_volume revenue"`
	EffectiveDate      string          `json:"effective_date" validate:"required,datetime=2006-01-02"`
	EndDate            *string         `json:"end_date" validate:"omitempty,datetime=2006-01-02"`
	Description        string          `json:"description" validate:"max=1000"`
	Targets            []targetRequest `json:"targets" validate:"omitempty,dive"`
}

type updateRuleRequest struct {
	Name               string  `json:"name" validate:"required,max=200"`
	SourceCostCenterID int64   `json:"source_cost_center_id" validate:"required,gt=0"`
	Base               string  `json:"allocation_base" validate:"required,oneof=percentage weight headcount square_footage patient_days service_volume revenue"`
	EffectiveDate      string  `json:"effective_date" validate:"required,datetime=2006-01-02"`
	EndDate            *string `json:"end_date" validate:"omitempty,datetime=2006-01-02"`
	Description        string  `json:"description" validate:"max=1000"`
}

type targetsRequest struct {
	Targets []targetRequest `json:"targets" validate:"required,min=1,dive"`
}

type rejectRequest struct {
	Reason string `json:"reason" validate:"required,max=1000"`
}

type executeRequest struct {
	Period      string `json:"period" validate:"omitempty,datetime=2006-01"`
	PeriodStart string `json:"period_start" validate:"omitempty,datetime=2006-01-02"`
	PeriodEnd   string `json:"period_end" validate:"omitempty,datetime=2006-01-02"`
}

type rollbackRequest struct {
	Reason string `json:"reason" validate:"max=1000"`
}

func (h *Handler) listRules(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rules, err := h.service.ListRules(r.Context(), allocation.RuleFilter{
		Status:     allocation.ApprovalStatus(strings.TrimSpace(q.Get("status"))),
		SourceID:   int64(atoi(q.Get("source_cost_center_id"))),
		ActiveOnly: q.Get("active") == "true",
	})
	if err != nil {
		h.fail(w, "list allocation rules", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": rules})
}

func (h *Handler) createRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if !httpx.DecodeAndValidate(w, r, &req) {
		return
	}
	effective, end := parseWindow(req.EffectiveDate, req.EndDate)
	rule, err := h.service.CreateRule(r.Context(), allocation.CreateRuleInput{
		Code:               strings.ToUpper(strings.TrimSpace(req.Code)),
		Name:               strings.TrimSpace(req.Name),
		SourceCostCenterID: req.SourceCostCenterID,
		Base:               allocation.Base(req.Base),
		EffectiveDate:      effective,
		EndDate:            end,
		Description:        strings.TrimSpace(req.Description),
		Targets:            toTargetInputs(req.Targets),
		ActorID:            actorID(r),
	})
	if err != nil {
		h.fail(w, "create allocation rule", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"data": rule})
}

func (h *Handler) showRule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	rule, err := h.service.GetRule(r.Context(), id)
	if err != nil {
		h.fail(w, "get allocation rule", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": rule})
}

func (h *Handler) updateRule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req updateRuleRequest
	if !httpx.DecodeAndValidate(w, r, &req) {
		return
	}
	effective, end := parseWindow(req.EffectiveDate, req.EndDate)
	rule, err := h.service.UpdateRule(r.Context(), id, allocation.UpdateRuleInput{
		Name:               strings.TrimSpace(req.Name),
		SourceCostCenterID: req.SourceCostCenterID,
		Base:               allocation.Base(req.Base),
		EffectiveDate:      effective,
		EndDate:            end,
		Description:        strings.TrimSpace(req.Description),
		ActorID:            actorID(r),
	})
	if err != nil {
		h.fail(w, "update allocation rule", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": rule})
}

func (h *Handler) replaceTargets(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req targetsRequest
	if !httpx.DecodeAndValidate(w, r, &req) {
		return
	}
	rule, err := h.service.ReplaceTargets(r.Context(), id, toTargetInputs(req.Targets), actorID(r))
	if err != nil {
		h.fail(w, "replace allocation targets", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": rule})
}

func (h *Handler) submitRule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	rule, err := h.service.SubmitRule(r.Context(), id, actorID(r))
	if err != nil {
		h.fail(w, "submit allocation rule", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": rule})
}

func (h *Handler) approveRule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	rule, err := h.service.ApproveRule(r.Context(), id, actorID(r))
	if err != nil {
		h.fail(w, "approve allocation rule", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": rule})
}

func (h *Handler) rejectRule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req rejectRequest
	if !httpx.DecodeAndValidate(w, r, &req) {
		return
	}
	rule, err := h.service.RejectRule(r.Context(), id, actorID(r), req.Reason)
	if err != nil {
		h.fail(w, "reject allocation rule", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": rule})
}

func (h *Handler) activateRule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.ActivateRule(r.Context(), id, actorID(r)); err != nil {
		h.fail(w, "activate allocation rule", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) deactivateRule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeactivateRule(r.Context(), id, actorID(r)); err != nil {
		h.fail(w, "deactivate allocation rule", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) previewRule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	period, err := shared.ResolvePeriod(q.Get("period"), q.Get("start"), q.Get("end"))
	if err != nil {
		httpx.RespondError(w, err, errorRules...)
		return
	}
	comp, err := h.service.PreviewRule(r.Context(), id, period)
	if err != nil {
		h.fail(w, "preview allocation rule", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": comp})
}

func (h *Handler) listBatches(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := allocation.BatchFilter{
		Status:  allocation.JournalStatus(strings.TrimSpace(q.Get("status"))),
		Page:    atoi(q.Get("page")),
		PerPage: atoi(q.Get("per_page")),
	}
	if q.Get("period") != "" || q.Get("start") != "" || q.Get("end") != "" {
		period, err := shared.ResolvePeriod(q.Get("period"), q.Get("start"), q.Get("end"))
		if err != nil {
			httpx.RespondError(w, err, errorRules...)
			return
		}
		filter.Period = &period
	}
	items, page, err := h.service.ListBatches(r.Context(), filter)
	if err != nil {
		h.fail(w, "list allocation batches", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": items, "pagination": page})
}

func (h *Handler) execute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if !httpx.DecodeAndValidate(w, r, &req) {
		return
	}
	period, err := shared.ResolvePeriod(req.Period, req.PeriodStart, req.PeriodEnd)
	if err != nil {
		httpx.RespondError(w, err, errorRules...)
		return
	}
	result, err := h.service.Execute(r.Context(), allocation.ExecuteInput{
		Period:         period,
		ActorID:        actorID(r),
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if errors.Is(err, allocation.ErrNothingToAllocate) {
		httpx.JSON(w, http.StatusUnprocessableEntity, map[string]any{
			"title":   http.StatusText(http.StatusUnprocessableEntity),
			"status":  http.StatusUnprocessableEntity,
			"detail":  err.Error(),
			"skipped": result.Skipped,
		})
		return
	}
	if err != nil {
		h.fail(w, "execute allocation", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"data": result})
}

func (h *Handler) showBatch(w http.ResponseWriter, r *http.Request) {
	journals, err := h.service.GetBatch(r.Context(), batchID(r))
	if err != nil {
		h.fail(w, "get allocation batch", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": journals})
}

func (h *Handler) review(w http.ResponseWriter, r *http.Request) {
	review, err := h.service.Review(r.Context(), batchID(r))
	if err != nil {
		h.fail(w, "review allocation batch", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": review})
}

func (h *Handler) post(w http.ResponseWriter, r *http.Request) {
	review, err := h.service.Post(r.Context(), batchID(r), actorID(r))
	if err != nil {
		h.fail(w, "post allocation batch", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": review})
}

func (h *Handler) rollback(w http.ResponseWriter, r *http.Request) {
	var req rollbackRequest
	if r.ContentLength != 0 && !httpx.DecodeAndValidate(w, r, &req) {
		return
	}
	result, err := h.service.Rollback(r.Context(), batchID(r), actorID(r), req.Reason)
	if err != nil {
		h.fail(w, "rollback allocation batch", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": result})
}

func (h *Handler) ruleApprovals(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	history, err := h.service.RuleApprovals(r.Context(), id)
	if err != nil {
		h.fail(w, "list rule approvals", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": history})
}

func (h *Handler) batchAudit(w http.ResponseWriter, r *http.Request) {
	limit := atoi(r.URL.Query().Get("limit"))
	trail, err := h.service.BatchAudit(r.Context(), batchID(r), limit)
	if err != nil {
		h.fail(w, "list batch audit", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": trail})
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if h.logger != nil {
		h.logger.Warn(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err, errorRules...)
}

func toTargetInputs(reqs []targetRequest) []allocation.TargetInput {
	out := make([]allocation.TargetInput, 0, len(reqs))
	for _, t := range reqs {
		out = append(out, allocation.TargetInput{
			TargetCostCenterID: t.TargetCostCenterID,
			Percentage:         t.Percentage,
			Weight:             t.Weight,
		})
	}
	return out
}

// parseWindow reads dates already checked by the validator.
func parseWindow(effective string, end *string) (time.Time, *time.Time) {
	start, _ := time.Parse(dateLayout, effective)
	if end == nil || *end == "" {
		return start, nil
	}
	e, _ := time.Parse(dateLayout, *end)
	return start, &e
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return 0, false
	}
	return id, true
}

func batchID(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, "batch"))
}

func actorID(r *http.Request) int64 {
	actor, _ := shared.ActorFromContext(r.Context())
	return actor.UserID
}

func atoi(raw string) int {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0
	}
	return v
}
