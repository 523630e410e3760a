package costcenterhttp

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/hospital-costing/internal/costcenter"
	"github.com/odyssey-erp/hospital-costing/internal/platform/httpx"
	"github.com/odyssey-erp/hospital-costing/internal/rbac"
	"github.com/odyssey-erp/hospital-costing/internal/shared"
)

var errorRules = []httpx.StatusRule{
	{Err: costcenter.ErrCostCenterNotFound, Status: http.StatusNotFound},
	{Err: costcenter.ErrBudgetNotFound, Status: http.StatusNotFound},
	{Err: costcenter.ErrDuplicateCode, Status: http.StatusConflict},
	{Err: costcenter.ErrInactiveCostCenter, Status: http.StatusUnprocessableEntity},
	{Err: costcenter.ErrHierarchyCycle, Status: http.StatusUnprocessableEntity},
	{Err: costcenter.ErrInvalidType, Status: http.StatusUnprocessableEntity},
	{Err: costcenter.ErrInvalidInput, Status: http.StatusUnprocessableEntity},
	{Err: shared.ErrInvalidPeriod, Status: http.StatusBadRequest},
}

// Handler exposes cost center master data, transactions and budgets.
type Handler struct {
	logger  *slog.Logger
	service *costcenter.Service
	rbac    rbac.Middleware
}

// NewHandler constructs the HTTP handler.
func NewHandler(logger *slog.Logger, service *costcenter.Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers cost center routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/cost-centers", func(r chi.Router) {
		r.With(h.rbac.RequireAny(shared.PermCostCenterView, shared.PermCostCenterManage)).Get("/", h.list)
		r.With(h.rbac.RequireAny(shared.PermCostCenterView, shared.PermCostCenterManage)).Get("/tree", h.tree)
		r.With(h.rbac.RequireAll(shared.PermCostCenterManage)).Post("/", h.create)
		r.Route("/{id}", func(r chi.Router) {
			r.With(h.rbac.RequireAny(shared.PermCostCenterView, shared.PermCostCenterManage)).Get("/", h.show)
			r.With(h.rbac.RequireAll(shared.PermCostCenterManage)).Put("/", h.update)
			r.With(h.rbac.RequireAll(shared.PermCostCenterManage)).Post("/deactivate", h.deactivate)
			r.With(h.rbac.RequireAll(shared.PermCostCenterManage)).Post("/activate", h.activate)
		})
	})
	r.Route("/transactions", func(r chi.Router) {
		r.With(h.rbac.RequireAny(shared.PermCostCenterView, shared.PermTransactionPost)).Get("/", h.listTransactions)
		r.With(h.rbac.RequireAll(shared.PermTransactionPost)).Post("/", h.createTransaction)
	})
	r.Route("/budgets", func(r chi.Router) {
		r.With(h.rbac.RequireAll(shared.PermBudgetManage)).Put("/", h.setBudget)
		r.With(h.rbac.RequireAny(shared.PermCostCenterView, shared.PermBudgetManage)).Get("/variance", h.variance)
	})
}

type costCenterRequest struct {
	Code        string `json:"code" validate:"required,max=32"`
	Name        string `json:"name" validate:"required,max=200"`
	Type        string `json:"type" validate:"required,oneof=medical non_medical administrative profit_center"`
	ParentID    *int64 `json:"parent_id" validate:"omitempty,gt=0"`
	Description string `json:"description" validate:"max=1000"`
}

type updateRequest struct {
	Name        string `json:"name" validate:"required,max=200"`
	Type        string `json:"type" validate:"required,oneof=medical non_medical administrative profit_center"`
	ParentID    *int64 `json:"parent_id" validate:"omitempty,gt=0"`
	Description string `json:"description" validate:"max=1000"`
}

type transactionRequest struct {
	CostCenterID    int64           `json:"cost_center_id" validate:"required,gt=0"`
	Category        string          `json:"category" validate:"required,max=100"`
	Type            string          `json:"transaction_type" validate:"required,oneof=direct_cost allocated_cost revenue"`
	Amount          json.Number     `json:"amount" validate:"required"`
	TransactionDate string          `json:"transaction_date" validate:"required,datetime=2006-01-02"`
	Reference       string          `json:"reference" validate:"max=100"`
	Description     string          `json:"description" validate:"max=1000"`
}

type budgetRequest struct {
	CostCenterID int64           `json:"cost_center_id" validate:"required,gt=0"`
	FiscalYear   int             `json:"fiscal_year" validate:"required,gte=2000,lte=2100"`
	Month        int             `json:"month" validate:"required,gte=1,lte=12"`
	Category     string          `json:"category" validate:"required,max=100"`
	Amount       json.Number     `json:"amount" validate:"required"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := costcenter.ListFilter{
		Type:       costcenter.Type(strings.TrimSpace(q.Get("type"))),
		ActiveOnly: q.Get("active") == "true",
		Search:     strings.TrimSpace(q.Get("q")),
		Page:       atoi(q.Get("page")),
		PerPage:    atoi(q.Get("per_page")),
	}
	items, page, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.fail(w, "list cost centers", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": items, "pagination": page})
}

func (h *Handler) tree(w http.ResponseWriter, r *http.Request) {
	roots, err := h.service.Tree(r.Context())
	if err != nil {
		h.fail(w, "cost center tree", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": roots})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req costCenterRequest
	if !httpx.DecodeAndValidate(w, r, &req) {
		return
	}
	cc, err := h.service.Create(r.Context(), costcenter.CreateInput{
		Code:        strings.TrimSpace(req.Code),
		Name:        strings.TrimSpace(req.Name),
		Type:        costcenter.Type(req.Type),
		ParentID:    req.ParentID,
		Description: strings.TrimSpace(req.Description),
		ActorID:     actorID(r),
	})
	if err != nil {
		h.fail(w, "create cost center", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"data": cc})
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	cc, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "get cost center", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": cc})
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req updateRequest
	if !httpx.DecodeAndValidate(w, r, &req) {
		return
	}
	cc, err := h.service.Update(r.Context(), id, costcenter.UpdateInput{
		Name:        strings.TrimSpace(req.Name),
		Type:        costcenter.Type(req.Type),
		ParentID:    req.ParentID,
		Description: strings.TrimSpace(req.Description),
		ActorID:     actorID(r),
	})
	if err != nil {
		h.fail(w, "update cost center", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": cc})
}

func (h *Handler) deactivate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.Deactivate(r.Context(), id, actorID(r)); err != nil {
		h.fail(w, "deactivate cost center", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) activate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.Activate(r.Context(), id, actorID(r)); err != nil {
		h.fail(w, "activate cost center", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := costcenter.TransactionFilter{
		CostCenterID: int64(atoi(q.Get("cost_center_id"))),
		Type:         costcenter.TransactionType(q.Get("type")),
		Limit:        atoi(q.Get("limit")),
	}
	if q.Get("period") != "" || q.Get("start") != "" || q.Get("end") != "" {
		period, err := shared.ResolvePeriod(q.Get("period"), q.Get("start"), q.Get("end"))
		if err != nil {
			httpx.RespondError(w, err, errorRules...)
			return
		}
		filter.Period = period
	}
	items, err := h.service.ListTransactions(r.Context(), filter)
	if err != nil {
		h.fail(w, "list transactions", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": items})
}

func (h *Handler) createTransaction(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if !httpx.DecodeAndValidate(w, r, &req) {
		return
	}
	amount, ok := parseAmount(w, req.Amount)
	if !ok {
		return
	}
	date, _ := time.Parse("2006-01-02", req.TransactionDate)
	txn, err := h.service.RecordTransaction(r.Context(), costcenter.TransactionInput{
		CostCenterID:    req.CostCenterID,
		Category:        strings.TrimSpace(req.Category),
		Type:            costcenter.TransactionType(req.Type),
		Amount:          amount,
		TransactionDate: date,
		Reference:       strings.TrimSpace(req.Reference),
		Description:     strings.TrimSpace(req.Description),
		ActorID:         actorID(r),
	})
	if err != nil {
		h.fail(w, "record transaction", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"data": txn})
}

func (h *Handler) setBudget(w http.ResponseWriter, r *http.Request) {
	var req budgetRequest
	if !httpx.DecodeAndValidate(w, r, &req) {
		return
	}
	amount, ok := parseAmount(w, req.Amount)
	if !ok {
		return
	}
	budget, err := h.service.SetBudget(r.Context(), costcenter.BudgetInput{
		CostCenterID: req.CostCenterID,
		FiscalYear:   req.FiscalYear,
		Month:        req.Month,
		Category:     strings.TrimSpace(req.Category),
		Amount:       amount,
		ActorID:      actorID(r),
	})
	if err != nil {
		h.fail(w, "set budget", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": budget})
}

func (h *Handler) variance(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ccID := int64(atoi(q.Get("cost_center_id")))
	period, err := shared.ParseMonth(q.Get("period"))
	if err != nil || ccID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "cost_center_id and period (YYYY-MM) required")
		return
	}
	v, err := h.service.BudgetVariance(r.Context(), ccID, period.Start.Year(), period.Start.Month())
	if err != nil {
		h.fail(w, "budget variance", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": v})
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if h.logger != nil {
		h.logger.Warn(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err, errorRules...)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return 0, false
	}
	return id, true
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

func parseAmount(w http.ResponseWriter, raw json.Number) (decimal.Decimal, bool) {
	amount, err := shared.ParseMoney(raw.String())
	if err != nil {
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
		return decimal.Zero, false
	}
	return amount, true
}
