package allocation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/hospital-costing/internal/costcenter"
	"github.com/odyssey-erp/hospital-costing/internal/shared"
)

const (
	approvalModule    = "ALLOCATION_RULE"
	batchEntity       = "allocation_batch"
	idempotencyModule = "allocation.execute"
	reversalSuffix    = "-REV"
)

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// Locker serialises executions of the same period.
type Locker interface {
	Acquire(ctx context.Context, key string) (shared.Releaser, error)
}

// IdempotencyPort guards execute requests carrying an idempotency key.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key, module string) error
}

// ApprovalPort records the rule approval trail.
type ApprovalPort interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
	History(ctx context.Context, module string, ref int64) ([]shared.ApprovalLog, error)
}

// AuditPort records batch and rule events.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
	Trail(ctx context.Context, entity, entityID string, limit int) ([]shared.AuditLog, error)
}

// BatchNotice describes a batch event for notification delivery.
type BatchNotice struct {
	Event          string          `json:"event"`
	BatchID        string          `json:"batch_id"`
	PeriodStart    time.Time       `json:"period_start"`
	PeriodEnd      time.Time       `json:"period_end"`
	Status         JournalStatus   `json:"status"`
	JournalCount   int             `json:"journal_count"`
	SkippedCount   int             `json:"skipped_count"`
	TotalAllocated decimal.Decimal `json:"total_allocated"`
	ActorID        int64           `json:"actor_id"`
}

// Notifier delivers batch events, typically by enqueueing an email task.
type Notifier interface {
	BatchEvent(ctx context.Context, notice BatchNotice) error
}

// MetricsPort receives batch lifecycle measurements.
type MetricsPort interface {
	ObserveExecution(outcome string, journals, skipped int, elapsed time.Duration)
	ObserveTransition(action, outcome string)
}

// Service coordinates allocation rules and the batch lifecycle.
type Service struct {
	repo      RepositoryPort
	engine    *Engine
	locker    Locker
	logger    *slog.Logger
	idem      IdempotencyPort
	approvals ApprovalPort
	audit     AuditPort
	notifier  Notifier
	metrics   MetricsPort
	tolerance decimal.Decimal
	now       func() time.Time
	batchID   func(shared.Period) string
	reviews   singleflight.Group
}

// NewService constructs the allocation service.
func NewService(repo RepositoryPort, engine *Engine, locker Locker, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:      repo,
		engine:    engine,
		locker:    locker,
		logger:    logger,
		tolerance: shared.DefaultTolerance,
		now:       time.Now,
		batchID:   NewBatchID,
	}
}

// WithTolerance overrides the zero-sum tolerance.
func (s *Service) WithTolerance(tol decimal.Decimal) *Service {
	if !tol.IsNegative() {
		s.tolerance = tol
	}
	return s
}

// WithIdempotency enables Idempotency-Key handling on Execute.
func (s *Service) WithIdempotency(store IdempotencyPort) *Service {
	s.idem = store
	return s
}

// WithApprovals wires the approval trail recorder.
func (s *Service) WithApprovals(approvals ApprovalPort) *Service {
	s.approvals = approvals
	return s
}

// WithAudit wires the audit logger.
func (s *Service) WithAudit(audit AuditPort) *Service {
	s.audit = audit
	return s
}

// WithNotifier wires batch event delivery.
func (s *Service) WithNotifier(n Notifier) *Service {
	s.notifier = n
	return s
}

// WithMetrics wires lifecycle metrics.
func (s *Service) WithMetrics(m MetricsPort) *Service {
	s.metrics = m
	return s
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// WithBatchIDs overrides batch id generation for testing.
func (s *Service) WithBatchIDs(gen func(shared.Period) string) *Service {
	if gen != nil {
		s.batchID = gen
	}
	return s
}

// Tolerance returns the configured zero-sum tolerance.
func (s *Service) Tolerance() decimal.Decimal {
	return s.tolerance
}

// NewBatchID renders ALLOC-<yyyymm>-<8 hex>.
func NewBatchID(period shared.Period) string {
	raw := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("ALLOC-%s-%s", period.Start.Format("200601"), strings.ToUpper(raw[:8]))
}

// CreateRule stores a draft rule with its targets.
func (s *Service) CreateRule(ctx context.Context, in CreateRuleInput) (Rule, error) {
	if err := in.Validate(); err != nil {
		return Rule{}, err
	}
	if err := s.requireActive(ctx, ruleCostCenters(in.SourceCostCenterID, in.Targets)); err != nil {
		return Rule{}, err
	}
	var rule Rule
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		rule, err = tx.InsertRule(ctx, in)
		if err != nil {
			return err
		}
		rule.Targets, err = tx.ReplaceTargets(ctx, rule.ID, in.Targets)
		return err
	})
	if err != nil {
		return Rule{}, err
	}
	s.record(ctx, in.ActorID, "allocation_rule.create", "allocation_rule", strconv.FormatInt(rule.ID, 10), map[string]any{
		"code": rule.Code,
		"base": string(rule.Base),
	})
	return rule, nil
}

// UpdateRule edits a draft or rejected rule.
func (s *Service) UpdateRule(ctx context.Context, id int64, in UpdateRuleInput) (Rule, error) {
	if err := in.Validate(); err != nil {
		return Rule{}, err
	}
	var rule Rule
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetRule(ctx, id, true)
		if err != nil {
			return err
		}
		if !current.Editable() {
			return ErrRuleNotEditable
		}
		if err := checkTargetShape(in.Base, in.SourceCostCenterID, targetInputs(current.Targets)); err != nil {
			return err
		}
		if err := tx.UpdateRule(ctx, id, in); err != nil {
			return err
		}
		rule, err = tx.GetRule(ctx, id, false)
		return err
	})
	if err != nil {
		return Rule{}, err
	}
	s.record(ctx, in.ActorID, "allocation_rule.update", "allocation_rule", strconv.FormatInt(id, 10), nil)
	return rule, nil
}

// ReplaceTargets swaps the target set of a draft or rejected rule.
func (s *Service) ReplaceTargets(ctx context.Context, id int64, targets []TargetInput, actorID int64) (Rule, error) {
	var rule Rule
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetRule(ctx, id, true)
		if err != nil {
			return err
		}
		if !current.Editable() {
			return ErrRuleNotEditable
		}
		if err := checkTargetShape(current.Base, current.SourceCostCenterID, targets); err != nil {
			return err
		}
		if err := s.requireActive(ctx, ruleCostCenters(0, targets)); err != nil {
			return err
		}
		current.Targets, err = tx.ReplaceTargets(ctx, id, targets)
		rule = current
		return err
	})
	if err != nil {
		return Rule{}, err
	}
	s.record(ctx, actorID, "allocation_rule.targets", "allocation_rule", strconv.FormatInt(id, 10), map[string]any{"targets": len(targets)})
	return rule, nil
}

// SubmitRule validates the target set and moves the rule to pending.
func (s *Service) SubmitRule(ctx context.Context, id, actorID int64) (Rule, error) {
	return s.transitionRule(ctx, id, actorID, shared.ApprovalSubmit, "", func(rule Rule) (RuleStatusChange, error) {
		if !rule.Editable() {
			return RuleStatusChange{}, ErrInvalidRuleStatus
		}
		if err := checkTargetsComplete(rule.Base, rule.SourceCostCenterID, targetInputs(rule.Targets)); err != nil {
			return RuleStatusChange{}, err
		}
		if err := s.requireActive(ctx, ruleCostCenters(rule.SourceCostCenterID, targetInputs(rule.Targets))); err != nil {
			return RuleStatusChange{}, err
		}
		return RuleStatusChange{Status: ApprovalPending}, nil
	})
}

// ApproveRule approves a pending rule.
func (s *Service) ApproveRule(ctx context.Context, id, actorID int64) (Rule, error) {
	return s.transitionRule(ctx, id, actorID, shared.ApprovalApprove, "", func(rule Rule) (RuleStatusChange, error) {
		if rule.ApprovalStatus != ApprovalPending {
			return RuleStatusChange{}, ErrInvalidRuleStatus
		}
		now := s.now().UTC()
		approver := actorID
		return RuleStatusChange{Status: ApprovalApproved, ApprovedBy: &approver, ApprovedAt: &now}, nil
	})
}

// RejectRule rejects a pending rule with a reason.
func (s *Service) RejectRule(ctx context.Context, id, actorID int64, reason string) (Rule, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Rule{}, invalid("rejection reason required")
	}
	return s.transitionRule(ctx, id, actorID, shared.ApprovalReject, reason, func(rule Rule) (RuleStatusChange, error) {
		if rule.ApprovalStatus != ApprovalPending {
			return RuleStatusChange{}, ErrInvalidRuleStatus
		}
		return RuleStatusChange{Status: ApprovalRejected, RejectionReason: reason}, nil
	})
}

func (s *Service) transitionRule(ctx context.Context, id, actorID int64, action shared.ApprovalAction, note string, decide func(Rule) (RuleStatusChange, error)) (Rule, error) {
	var rule Rule
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetRule(ctx, id, true)
		if err != nil {
			return err
		}
		change, err := decide(current)
		if err != nil {
			return err
		}
		if err := tx.UpdateRuleStatus(ctx, id, change); err != nil {
			return err
		}
		current.ApprovalStatus = change.Status
		current.ApprovedBy = change.ApprovedBy
		current.ApprovedAt = change.ApprovedAt
		current.RejectionReason = change.RejectionReason
		rule = current
		return nil
	})
	if err != nil {
		return Rule{}, err
	}
	if s.approvals != nil && actorID != 0 {
		if err := s.approvals.Record(ctx, shared.ApprovalLog{
			Module:  approvalModule,
			RefID:   id,
			ActorID: actorID,
			Action:  action,
			Note:    note,
			At:      s.now(),
		}); err != nil {
			s.logger.Warn("record rule approval", slog.Int64("rule_id", id), slog.Any("error", err))
		}
	}
	s.record(ctx, actorID, "allocation_rule."+strings.ToLower(string(action)), "allocation_rule", strconv.FormatInt(id, 10), map[string]any{
		"status": string(rule.ApprovalStatus),
	})
	return rule, nil
}

// ActivateRule flags a rule as active.
func (s *Service) ActivateRule(ctx context.Context, id, actorID int64) error {
	return s.setRuleActive(ctx, id, actorID, true)
}

// DeactivateRule excludes a rule from future runs.
func (s *Service) DeactivateRule(ctx context.Context, id, actorID int64) error {
	return s.setRuleActive(ctx, id, actorID, false)
}

func (s *Service) setRuleActive(ctx context.Context, id, actorID int64, active bool) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.SetRuleActive(ctx, id, active)
	})
	if err != nil {
		return err
	}
	action := "allocation_rule.deactivate"
	if active {
		action = "allocation_rule.activate"
	}
	s.record(ctx, actorID, action, "allocation_rule", strconv.FormatInt(id, 10), nil)
	return nil
}

// GetRule returns a rule with targets.
func (s *Service) GetRule(ctx context.Context, id int64) (Rule, error) {
	var rule Rule
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		rule, err = tx.GetRule(ctx, id, false)
		return err
	})
	return rule, err
}

// ListRules returns rules matching the filter ordered by code.
func (s *Service) ListRules(ctx context.Context, filter RuleFilter) ([]Rule, error) {
	var rules []Rule
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		rules, err = tx.ListRules(ctx, filter)
		return err
	})
	return rules, err
}

// PreviewRule computes one rule for a period without writing journals.
func (s *Service) PreviewRule(ctx context.Context, id int64, period shared.Period) (Computation, error) {
	rule, err := s.GetRule(ctx, id)
	if err != nil {
		return Computation{}, err
	}
	return s.engine.Compute(ctx, period, []Rule{rule})
}

// Execute runs every eligible rule for the period and stores the journals as
// one draft batch.
func (s *Service) Execute(ctx context.Context, in ExecuteInput) (result ExecutionResult, err error) {
	started := s.now()
	defer func() {
		if s.metrics != nil {
			s.metrics.ObserveExecution(outcome(err), len(result.Journals), len(result.Skipped), s.now().Sub(started))
		}
	}()
	if err := in.Period.Validate(); err != nil {
		return ExecutionResult{}, err
	}
	period := in.Period

	lease, err := s.locker.Acquire(ctx, shared.AllocationLockKey)
	if err != nil {
		if errors.Is(err, shared.ErrLeaseHeld) {
			return ExecutionResult{}, ErrExecutionInProgress
		}
		return ExecutionResult{}, err
	}
	defer func() {
		if rerr := lease.Release(context.WithoutCancel(ctx)); rerr != nil {
			s.logger.Warn("release allocation lease", slog.String("period", period.String()), slog.Any("error", rerr))
		}
	}()

	key := strings.TrimSpace(in.IdempotencyKey)
	if key != "" && s.idem != nil {
		if err := s.idem.CheckAndInsert(ctx, key, idempotencyModule); err != nil {
			return ExecutionResult{}, err
		}
		defer func() {
			if err != nil {
				if derr := s.idem.Delete(context.WithoutCancel(ctx), key, idempotencyModule); derr != nil {
					s.logger.Warn("release idempotency key", slog.String("key", key), slog.Any("error", derr))
				}
			}
		}()
	}

	var rules []Rule
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if existing, found, err := tx.OpenBatchForPeriod(ctx, period); err != nil {
			return err
		} else if found {
			return fmt.Errorf("%w: %s", ErrBatchExists, existing)
		}
		var err error
		rules, err = tx.ListEligibleRules(ctx, period)
		return err
	})
	if err != nil {
		return ExecutionResult{}, err
	}

	comp, err := s.engine.Compute(ctx, period, rules)
	if err != nil {
		return ExecutionResult{}, err
	}
	result.Skipped = comp.Skipped
	if len(comp.Lines) == 0 {
		return result, ErrNothingToAllocate
	}

	now := s.now().UTC()
	batchID := s.batchID(period)
	journals := make([]Journal, 0, len(comp.Lines))
	for _, line := range comp.Lines {
		journals = append(journals, Journal{
			BatchID:            batchID,
			RuleID:             line.RuleID,
			RuleCode:           line.RuleCode,
			PeriodStart:        period.Start,
			PeriodEnd:          period.End,
			SourceCostCenterID: line.SourceCostCenterID,
			TargetCostCenterID: line.TargetCostCenterID,
			Base:               line.Base,
			SourceAmount:       line.SourceAmount,
			AllocatedAmount:    line.AllocatedAmount,
			BaseValue:          line.BaseValue,
			Detail:             line.Detail,
			Status:             StatusDraft,
			CreatedBy:          in.ActorID,
			CreatedAt:          now,
		})
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if existing, found, err := tx.OpenBatchForPeriod(ctx, period); err != nil {
			return err
		} else if found {
			return fmt.Errorf("%w: %s", ErrBatchExists, existing)
		}
		return tx.InsertJournals(ctx, journals)
	})
	if err != nil {
		return result, err
	}
	review, err := BuildReview(batchID, journals, s.tolerance)
	if err != nil {
		return result, err
	}
	result.BatchID = batchID
	result.Journals = journals
	result.Review = review

	s.logger.Info("allocation batch executed",
		slog.String("batch_id", batchID),
		slog.String("period", period.String()),
		slog.Int("journals", len(journals)),
		slog.Int("skipped", len(comp.Skipped)),
		slog.String("difference", review.Difference.StringFixed(shared.MoneyScale)))
	s.record(ctx, in.ActorID, "allocation_batch.execute", batchEntity, batchID, map[string]any{
		"period":   period.String(),
		"journals": len(journals),
		"skipped":  len(comp.Skipped),
	})
	s.notify(ctx, BatchNotice{
		Event:          "executed",
		BatchID:        batchID,
		PeriodStart:    period.Start,
		PeriodEnd:      period.End,
		Status:         StatusDraft,
		JournalCount:   len(journals),
		SkippedCount:   len(comp.Skipped),
		TotalAllocated: review.TotalAllocated,
		ActorID:        in.ActorID,
	})
	return result, nil
}

// Review aggregates a batch for the zero-sum check. Concurrent calls for the
// same batch share one database read; a caller giving up does not cancel it
// for the others.
func (s *Service) Review(ctx context.Context, batchID string) (Review, error) {
	batchID = strings.TrimSpace(batchID)
	detached := context.WithoutCancel(ctx)
	results := s.reviews.DoChan(batchID, func() (any, error) {
		var journals []Journal
		err := s.repo.WithTx(detached, func(ctx context.Context, tx TxRepository) error {
			var err error
			journals, err = tx.BatchJournals(ctx, batchID, false)
			return err
		})
		if err != nil {
			return Review{}, err
		}
		return BuildReview(batchID, journals, s.tolerance)
	})
	select {
	case <-ctx.Done():
		return Review{}, ctx.Err()
	case res := <-results:
		if res.Err != nil {
			return Review{}, res.Err
		}
		return res.Val.(Review), nil
	}
}

// Post books a balanced draft batch.
func (s *Service) Post(ctx context.Context, batchID string, actorID int64) (Review, error) {
	var review Review
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		journals, err := tx.BatchJournals(ctx, batchID, true)
		if err != nil {
			return err
		}
		review, err = BuildReview(batchID, journals, s.tolerance)
		if err != nil {
			return err
		}
		if review.Status != StatusDraft {
			return fmt.Errorf("%w: batch is %s", ErrInvalidStatus, review.Status)
		}
		if !review.Balanced {
			return fmt.Errorf("%w: difference %s", ErrUnbalancedBatch, review.Difference.StringFixed(shared.MoneyScale))
		}
		_, err = tx.MarkBatchPosted(ctx, batchID, actorID, s.now().UTC())
		return err
	})
	s.observeTransition("post", err)
	if err != nil {
		return Review{}, err
	}
	review.Status = StatusPosted
	review.CanPost = false
	s.reviews.Forget(batchID)
	s.record(ctx, actorID, "allocation_batch.post", batchEntity, batchID, map[string]any{
		"total_allocated": review.TotalAllocated.StringFixed(shared.MoneyScale),
	})
	s.notify(ctx, BatchNotice{
		Event:          "posted",
		BatchID:        batchID,
		PeriodStart:    review.PeriodStart,
		PeriodEnd:      review.PeriodEnd,
		Status:         StatusPosted,
		TotalAllocated: review.TotalAllocated,
		ActorID:        actorID,
	})
	return review, nil
}

// Rollback reverses a draft or posted batch. Posted batches also receive a
// mirrored batch of negative journals so the ledger nets to zero.
func (s *Service) Rollback(ctx context.Context, batchID string, actorID int64, reason string) (RollbackResult, error) {
	result := RollbackResult{BatchID: batchID}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		journals, err := tx.BatchJournals(ctx, batchID, true)
		if err != nil {
			return err
		}
		if len(journals) == 0 {
			return ErrBatchNotFound
		}
		status := journals[0].Status
		if status == StatusReversed {
			return fmt.Errorf("%w: batch already reversed", ErrInvalidStatus)
		}
		if journals[0].ReversalOfBatch != nil {
			return fmt.Errorf("%w: reversal batches cannot be reversed", ErrInvalidStatus)
		}
		now := s.now().UTC()
		result.PreviousStatus = status
		result.Reversed, err = tx.MarkBatchReversed(ctx, batchID, actorID, now)
		if err != nil {
			return err
		}
		if status != StatusPosted {
			return nil
		}
		result.ReversalBatchID = batchID + reversalSuffix
		return tx.InsertJournals(ctx, mirrorJournals(journals, result.ReversalBatchID, actorID, now))
	})
	s.observeTransition("rollback", err)
	if err != nil {
		return RollbackResult{}, err
	}
	s.reviews.Forget(batchID)
	s.record(ctx, actorID, "allocation_batch.rollback", batchEntity, batchID, map[string]any{
		"previous_status":   string(result.PreviousStatus),
		"reversal_batch_id": result.ReversalBatchID,
		"reason":            strings.TrimSpace(reason),
	})
	s.notify(ctx, BatchNotice{Event: "reversed", BatchID: batchID, Status: StatusReversed, ActorID: actorID})
	return result, nil
}

func mirrorJournals(journals []Journal, reversalID string, actorID int64, at time.Time) []Journal {
	original := journals[0].BatchID
	out := make([]Journal, 0, len(journals))
	for _, j := range journals {
		postedAt := at
		m := j
		m.ID = 0
		m.BatchID = reversalID
		m.SourceAmount = j.SourceAmount.Neg()
		m.AllocatedAmount = j.AllocatedAmount.Neg()
		m.Status = StatusPosted
		m.ReversalOfBatch = &original
		m.CreatedBy = actorID
		m.CreatedAt = at
		m.PostedAt = &postedAt
		m.PostedBy = nil
		if actorID != 0 {
			poster := actorID
			m.PostedBy = &poster
		}
		m.ReversedAt = nil
		m.ReversedBy = nil
		out = append(out, m)
	}
	return out
}

// ListBatches returns a page of batch summaries, newest first.
func (s *Service) ListBatches(ctx context.Context, filter BatchFilter) ([]Batch, shared.Pagination, error) {
	var items []Batch
	var total int
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		items, total, err = tx.ListBatches(ctx, filter)
		return err
	})
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return items, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// RuleApprovals returns the submit/approve/reject trail of a rule.
func (s *Service) RuleApprovals(ctx context.Context, id int64) ([]shared.ApprovalLog, error) {
	if _, err := s.GetRule(ctx, id); err != nil {
		return nil, err
	}
	if s.approvals == nil {
		return []shared.ApprovalLog{}, nil
	}
	return s.approvals.History(ctx, approvalModule, id)
}

// BatchAudit returns the newest audit entries recorded against a batch.
func (s *Service) BatchAudit(ctx context.Context, batchID string, limit int) ([]shared.AuditLog, error) {
	if s.audit == nil {
		return []shared.AuditLog{}, nil
	}
	entries, err := s.audit.Trail(ctx, batchEntity, batchID, limit)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrBatchNotFound
	}
	return entries, nil
}

// GetBatch returns every journal of a batch.
func (s *Service) GetBatch(ctx context.Context, batchID string) ([]Journal, error) {
	var journals []Journal
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		journals, err = tx.BatchJournals(ctx, batchID, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(journals) == 0 {
		return nil, ErrBatchNotFound
	}
	return journals, nil
}

func (s *Service) requireActive(ctx context.Context, ids []int64) error {
	if len(ids) == 0 || s.engine == nil || s.engine.costCenters == nil {
		return nil
	}
	states, err := s.engine.costCenters.CostCenterStates(ctx, ids)
	if err != nil {
		return err
	}
	for _, id := range ids {
		active, ok := states[id]
		if !ok {
			return fmt.Errorf("%w: %d", costcenter.ErrCostCenterNotFound, id)
		}
		if !active {
			return fmt.Errorf("%w: %d", costcenter.ErrInactiveCostCenter, id)
		}
	}
	return nil
}

func ruleCostCenters(sourceID int64, targets []TargetInput) []int64 {
	ids := make([]int64, 0, len(targets)+1)
	if sourceID > 0 {
		ids = append(ids, sourceID)
	}
	for _, t := range targets {
		ids = append(ids, t.TargetCostCenterID)
	}
	return ids
}

func (s *Service) notify(ctx context.Context, notice BatchNotice) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.BatchEvent(ctx, notice); err != nil {
		s.logger.Warn("notify allocation batch", slog.String("batch_id", notice.BatchID), slog.String("event", notice.Event), slog.Any("error", err))
	}
}

func (s *Service) observeTransition(action string, err error) {
	if s.metrics != nil {
		s.metrics.ObserveTransition(action, outcome(err))
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNothingToAllocate):
		return "empty"
	case errors.Is(err, ErrExecutionInProgress), errors.Is(err, ErrBatchExists), errors.Is(err, shared.ErrIdempotencyConflict):
		return "conflict"
	case errors.Is(err, ErrUnbalancedBatch), errors.Is(err, ErrInvalidStatus), errors.Is(err, ErrBatchNotFound):
		return "rejected"
	default:
		return "error"
	}
}

func (s *Service) record(ctx context.Context, actorID int64, action, entity, id string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: id,
		Meta:     meta,
		At:       s.now(),
	}); err != nil {
		s.logger.Warn("audit allocation event", slog.String("action", action), slog.Any("error", err))
	}
}
