package allocation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/hospital-costing/internal/platform/db"
	"github.com/odyssey-erp/hospital-costing/internal/shared"
)

// TxRepository exposes transactional operations.
type TxRepository interface {
	InsertRule(ctx context.Context, in CreateRuleInput) (Rule, error)
	UpdateRule(ctx context.Context, id int64, in UpdateRuleInput) error
	GetRule(ctx context.Context, id int64, forUpdate bool) (Rule, error)
	ListRules(ctx context.Context, filter RuleFilter) ([]Rule, error)
	ListEligibleRules(ctx context.Context, period shared.Period) ([]Rule, error)
	ReplaceTargets(ctx context.Context, ruleID int64, targets []TargetInput) ([]Target, error)
	UpdateRuleStatus(ctx context.Context, id int64, change RuleStatusChange) error
	SetRuleActive(ctx context.Context, id int64, active bool) error

	OpenBatchForPeriod(ctx context.Context, period shared.Period) (string, bool, error)
	InsertJournals(ctx context.Context, journals []Journal) error
	BatchJournals(ctx context.Context, batchID string, forUpdate bool) ([]Journal, error)
	MarkBatchPosted(ctx context.Context, batchID string, actorID int64, at time.Time) (int64, error)
	MarkBatchReversed(ctx context.Context, batchID string, actorID int64, at time.Time) (int64, error)
	ListBatches(ctx context.Context, filter BatchFilter) ([]Batch, int, error)
}

// RuleStatusChange describes an approval workflow transition.
type RuleStatusChange struct {
	Status          ApprovalStatus
	ApprovedBy      *int64
	ApprovedAt      *time.Time
	RejectionReason string
}

// Repository persists allocation rules and journals.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes fn within repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errors.New("allocation repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const ruleColumns = `id, code, name, source_cost_center_id, allocation_base, approval_status, effective_date, end_date,
is_active, description, approved_by, approved_at, rejection_reason, created_by, created_at, updated_at`

func scanRule(row pgx.Row) (Rule, error) {
	var r Rule
	var createdBy *int64
	err := row.Scan(&r.ID, &r.Code, &r.Name, &r.SourceCostCenterID, &r.Base, &r.ApprovalStatus, &r.EffectiveDate, &r.EndDate,
		&r.IsActive, &r.Description, &r.ApprovedBy, &r.ApprovedAt, &r.RejectionReason, &createdBy, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Rule{}, ErrRuleNotFound
		}
		return Rule{}, err
	}
	if createdBy != nil {
		r.CreatedBy = *createdBy
	}
	return r, nil
}

func (r *txRepository) InsertRule(ctx context.Context, in CreateRuleInput) (Rule, error) {
	rule, err := scanRule(r.tx.QueryRow(ctx, `INSERT INTO allocation_rules
(code, name, source_cost_center_id, allocation_base, approval_status, effective_date, end_date, is_active, description, created_by)
VALUES ($1,$2,$3,$4,'draft',$5,$6,TRUE,$7,$8) RETURNING `+ruleColumns,
		strings.TrimSpace(in.Code), strings.TrimSpace(in.Name), in.SourceCostCenterID, in.Base, in.EffectiveDate, in.EndDate,
		strings.TrimSpace(in.Description), nullInt(in.ActorID)))
	if err != nil {
		if shared.IsUniqueViolation(err) {
			return Rule{}, ErrDuplicateRuleCode
		}
		return Rule{}, err
	}
	return rule, nil
}

func (r *txRepository) UpdateRule(ctx context.Context, id int64, in UpdateRuleInput) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE allocation_rules
SET name=$2, source_cost_center_id=$3, allocation_base=$4, effective_date=$5, end_date=$6, description=$7, updated_at=NOW()
WHERE id=$1`, id, strings.TrimSpace(in.Name), in.SourceCostCenterID, in.Base, in.EffectiveDate, in.EndDate, strings.TrimSpace(in.Description))
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrRuleNotFound
	}
	return nil
}

func (r *txRepository) GetRule(ctx context.Context, id int64, forUpdate bool) (Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM allocation_rules WHERE id=$1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	rule, err := scanRule(r.tx.QueryRow(ctx, query, id))
	if err != nil {
		return Rule{}, err
	}
	targets, err := r.targetsFor(ctx, []int64{id})
	if err != nil {
		return Rule{}, err
	}
	rule.Targets = targets[id]
	return rule, nil
}

func (r *txRepository) ListRules(ctx context.Context, filter RuleFilter) ([]Rule, error) {
	where := []string{"1=1"}
	args := []any{}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("approval_status=$%d", len(args)))
	}
	if filter.SourceID > 0 {
		args = append(args, filter.SourceID)
		where = append(where, fmt.Sprintf("source_cost_center_id=$%d", len(args)))
	}
	if filter.ActiveOnly {
		where = append(where, "is_active")
	}
	return r.queryRules(ctx, `SELECT `+ruleColumns+` FROM allocation_rules WHERE `+strings.Join(where, " AND ")+` ORDER BY code`, args...)
}

func (r *txRepository) ListEligibleRules(ctx context.Context, period shared.Period) ([]Rule, error) {
	return r.queryRules(ctx, `SELECT `+ruleColumns+` FROM allocation_rules
WHERE is_active AND approval_status='approved' AND effective_date <= $2 AND (end_date IS NULL OR end_date >= $1)
ORDER BY code`, period.Start, period.End)
}

func (r *txRepository) queryRules(ctx context.Context, query string, args ...any) ([]Rule, error) {
	rows, err := r.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var rules []Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		rules = append(rules, rule)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return rules, nil
	}
	ids := make([]int64, len(rules))
	for i, rule := range rules {
		ids[i] = rule.ID
	}
	targets, err := r.targetsFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range rules {
		rules[i].Targets = targets[rules[i].ID]
	}
	return rules, nil
}

func (r *txRepository) targetsFor(ctx context.Context, ruleIDs []int64) (map[int64][]Target, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, rule_id, target_cost_center_id, allocation_percentage, allocation_weight
FROM allocation_rule_targets WHERE rule_id = ANY($1) ORDER BY rule_id, id`, ruleIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64][]Target, len(ruleIDs))
	for rows.Next() {
		var t Target
		if err := rows.Scan(&t.ID, &t.RuleID, &t.TargetCostCenterID, &t.Percentage, &t.Weight); err != nil {
			return nil, err
		}
		out[t.RuleID] = append(out[t.RuleID], t)
	}
	return out, rows.Err()
}

func (r *txRepository) ReplaceTargets(ctx context.Context, ruleID int64, targets []TargetInput) ([]Target, error) {
	if _, err := r.tx.Exec(ctx, `DELETE FROM allocation_rule_targets WHERE rule_id=$1`, ruleID); err != nil {
		return nil, err
	}
	out := make([]Target, 0, len(targets))
	for _, in := range targets {
		t := Target{RuleID: ruleID, TargetCostCenterID: in.TargetCostCenterID, Percentage: in.Percentage, Weight: in.Weight}
		err := r.tx.QueryRow(ctx, `INSERT INTO allocation_rule_targets (rule_id, target_cost_center_id, allocation_percentage, allocation_weight)
VALUES ($1,$2,$3,$4) RETURNING id`, ruleID, in.TargetCostCenterID, in.Percentage, in.Weight).Scan(&t.ID)
		if err != nil {
			if shared.IsUniqueViolation(err) {
				return nil, fmt.Errorf("%w: %d", ErrDuplicateTarget, in.TargetCostCenterID)
			}
			return nil, err
		}
		out = append(out, t)
	}
	if _, err := r.tx.Exec(ctx, `UPDATE allocation_rules SET updated_at=NOW() WHERE id=$1`, ruleID); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *txRepository) UpdateRuleStatus(ctx context.Context, id int64, change RuleStatusChange) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE allocation_rules
SET approval_status=$2, approved_by=$3, approved_at=$4, rejection_reason=$5, updated_at=NOW()
WHERE id=$1`, id, change.Status, change.ApprovedBy, change.ApprovedAt, change.RejectionReason)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrRuleNotFound
	}
	return nil
}

func (r *txRepository) SetRuleActive(ctx context.Context, id int64, active bool) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE allocation_rules SET is_active=$2, updated_at=NOW() WHERE id=$1`, id, active)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrRuleNotFound
	}
	return nil
}

// OpenBatchForPeriod finds a draft or posted run batch whose period overlaps the
// given one. Reversal batches do not count.
func (r *txRepository) OpenBatchForPeriod(ctx context.Context, period shared.Period) (string, bool, error) {
	var batchID string
	err := r.tx.QueryRow(ctx, `SELECT batch_id FROM allocation_journals
WHERE period_start <= $2 AND period_end >= $1 AND status <> 'reversed' AND reversal_of_batch IS NULL
LIMIT 1`, period.Start, period.End).Scan(&batchID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return batchID, true, nil
}

func (r *txRepository) InsertJournals(ctx context.Context, journals []Journal) error {
	batch := &pgx.Batch{}
	for _, j := range journals {
		detail, err := json.Marshal(j.Detail)
		if err != nil {
			return fmt.Errorf("allocation: encode calculation detail: %w", err)
		}
		batch.Queue(`INSERT INTO allocation_journals
(batch_id, rule_id, period_start, period_end, source_cost_center_id, target_cost_center_id, allocation_base,
 source_amount, allocated_amount, allocation_base_value, calculation_detail, status, reversal_of_batch,
 created_by, created_at, posted_at, posted_by, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$15)`,
			j.BatchID, j.RuleID, j.PeriodStart, j.PeriodEnd, j.SourceCostCenterID, j.TargetCostCenterID, j.Base,
			j.SourceAmount, j.AllocatedAmount, j.BaseValue, detail, j.Status, j.ReversalOfBatch,
			nullInt(j.CreatedBy), j.CreatedAt, j.PostedAt, j.PostedBy)
	}
	results := r.tx.SendBatch(ctx, batch)
	for range journals {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return err
		}
	}
	return results.Close()
}

const journalColumns = `j.id, j.batch_id, j.rule_id, COALESCE(r.code, ''), j.period_start, j.period_end, j.source_cost_center_id,
j.target_cost_center_id, j.allocation_base, j.source_amount, j.allocated_amount, j.allocation_base_value,
j.calculation_detail, j.status, j.reversal_of_batch, j.created_by, j.created_at, j.posted_at, j.posted_by,
j.reversed_at, j.reversed_by`

func (r *txRepository) BatchJournals(ctx context.Context, batchID string, forUpdate bool) ([]Journal, error) {
	query := `SELECT ` + journalColumns + ` FROM allocation_journals j
LEFT JOIN allocation_rules r ON r.id = j.rule_id
WHERE j.batch_id=$1 ORDER BY j.rule_id, j.id`
	if forUpdate {
		query += ` FOR UPDATE OF j`
	}
	rows, err := r.tx.Query(ctx, query, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Journal
	for rows.Next() {
		var j Journal
		var detail []byte
		var createdBy *int64
		if err := rows.Scan(&j.ID, &j.BatchID, &j.RuleID, &j.RuleCode, &j.PeriodStart, &j.PeriodEnd, &j.SourceCostCenterID,
			&j.TargetCostCenterID, &j.Base, &j.SourceAmount, &j.AllocatedAmount, &j.BaseValue,
			&detail, &j.Status, &j.ReversalOfBatch, &createdBy, &j.CreatedAt, &j.PostedAt, &j.PostedBy,
			&j.ReversedAt, &j.ReversedBy); err != nil {
			return nil, err
		}
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &j.Detail); err != nil {
				return nil, fmt.Errorf("allocation: decode calculation detail of journal %d: %w", j.ID, err)
			}
		}
		if createdBy != nil {
			j.CreatedBy = *createdBy
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (r *txRepository) MarkBatchPosted(ctx context.Context, batchID string, actorID int64, at time.Time) (int64, error) {
	cmd, err := r.tx.Exec(ctx, `UPDATE allocation_journals
SET status='posted', posted_at=$2, posted_by=$3, updated_at=$2
WHERE batch_id=$1 AND status='draft'`, batchID, at, nullInt(actorID))
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func (r *txRepository) MarkBatchReversed(ctx context.Context, batchID string, actorID int64, at time.Time) (int64, error) {
	cmd, err := r.tx.Exec(ctx, `UPDATE allocation_journals
SET status='reversed', reversed_at=$2, reversed_by=$3, updated_at=$2
WHERE batch_id=$1 AND status IN ('draft','posted')`, batchID, at, nullInt(actorID))
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func (r *txRepository) ListBatches(ctx context.Context, filter BatchFilter) ([]Batch, int, error) {
	page, perPage := shared.NormalizePage(filter.Page, filter.PerPage)
	where := []string{"1=1"}
	args := []any{}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status=$%d", len(args)))
	}
	if filter.Period != nil {
		args = append(args, filter.Period.Start, filter.Period.End)
		where = append(where, fmt.Sprintf("period_start=$%d AND period_end=$%d", len(args)-1, len(args)))
	}
	clause := strings.Join(where, " AND ")
	var total int
	if err := r.tx.QueryRow(ctx, `SELECT COUNT(DISTINCT batch_id) FROM allocation_journals WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, perPage, (page-1)*perPage)
	rows, err := r.tx.Query(ctx, fmt.Sprintf(`SELECT batch_id, MIN(status), MIN(period_start), MAX(period_end),
COUNT(DISTINCT rule_id), COUNT(*), COALESCE(SUM(allocated_amount), 0), MIN(reversal_of_batch),
MIN(created_by), MIN(created_at), MAX(posted_by), MAX(posted_at), MAX(reversed_by), MAX(reversed_at)
FROM allocation_journals WHERE %s
GROUP BY batch_id
ORDER BY MIN(created_at) DESC, batch_id
LIMIT $%d OFFSET $%d`, clause, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Batch
	for rows.Next() {
		var b Batch
		var createdBy *int64
		if err := rows.Scan(&b.BatchID, &b.Status, &b.PeriodStart, &b.PeriodEnd, &b.RuleCount, &b.JournalCount,
			&b.TotalAllocated, &b.ReversalOfBatch, &createdBy, &b.CreatedAt, &b.PostedBy, &b.PostedAt,
			&b.ReversedBy, &b.ReversedAt); err != nil {
			return nil, 0, err
		}
		if createdBy != nil {
			b.CreatedBy = *createdBy
		}
		out = append(out, b)
	}
	return out, total, rows.Err()
}

func nullInt(val int64) any {
	if val == 0 {
		return nil
	}
	return val
}
