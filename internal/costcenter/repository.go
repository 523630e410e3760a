package costcenter

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/hospital-costing/internal/platform/db"
	"github.com/odyssey-erp/hospital-costing/internal/shared"
)

// TxRepository exposes transactional operations.
type TxRepository interface {
	GetCostCenter(ctx context.Context, id int64) (CostCenter, error)
	LockCostCenter(ctx context.Context, id int64) (CostCenter, error)
	ListCostCenters(ctx context.Context, filter ListFilter) ([]CostCenter, int, error)
	ListAllCostCenters(ctx context.Context) ([]CostCenter, error)
	CostCenterStates(ctx context.Context, ids []int64) (map[int64]bool, error)
	InsertCostCenter(ctx context.Context, in CreateInput) (CostCenter, error)
	UpdateCostCenter(ctx context.Context, id int64, in UpdateInput) (CostCenter, error)
	SetActive(ctx context.Context, id int64, active bool) error
	AncestorIDs(ctx context.Context, id int64) ([]int64, error)
	InsertTransaction(ctx context.Context, in TransactionInput) (Transaction, error)
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error)
	SumByType(ctx context.Context, ids []int64, period shared.Period, types []TransactionType) (map[int64]decimal.Decimal, error)
	UpsertBudget(ctx context.Context, in BudgetInput) (Budget, error)
	BudgetTotal(ctx context.Context, costCenterID int64, year, month int) (decimal.Decimal, bool, error)
}

// Repository persists cost center master data and transactions.
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
		return errors.New("costcenter repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const costCenterColumns = `id, code, name, type, parent_id, is_active, description, created_at, updated_at`

func scanCostCenter(row pgx.Row) (CostCenter, error) {
	var cc CostCenter
	err := row.Scan(&cc.ID, &cc.Code, &cc.Name, &cc.Type, &cc.ParentID, &cc.IsActive, &cc.Description, &cc.CreatedAt, &cc.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CostCenter{}, ErrCostCenterNotFound
		}
		return CostCenter{}, err
	}
	return cc, nil
}

func (r *txRepository) GetCostCenter(ctx context.Context, id int64) (CostCenter, error) {
	return scanCostCenter(r.tx.QueryRow(ctx, `SELECT `+costCenterColumns+` FROM cost_centers WHERE id=$1`, id))
}

// LockCostCenter takes a share lock so the active flag cannot flip mid write.
func (r *txRepository) LockCostCenter(ctx context.Context, id int64) (CostCenter, error) {
	return scanCostCenter(r.tx.QueryRow(ctx, `SELECT `+costCenterColumns+` FROM cost_centers WHERE id=$1 FOR SHARE`, id))
}

func (r *txRepository) ListCostCenters(ctx context.Context, filter ListFilter) ([]CostCenter, int, error) {
	page, perPage := shared.NormalizePage(filter.Page, filter.PerPage)
	where := []string{"1=1"}
	args := []any{}
	if filter.Type != "" {
		args = append(args, filter.Type)
		where = append(where, fmt.Sprintf("type=$%d", len(args)))
	}
	if filter.ActiveOnly {
		where = append(where, "is_active")
	}
	if s := strings.TrimSpace(filter.Search); s != "" {
		args = append(args, "%"+s+"%")
		where = append(where, fmt.Sprintf("(code ILIKE $%d OR name ILIKE $%d)", len(args), len(args)))
	}
	clause := strings.Join(where, " AND ")
	var total int
	if err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM cost_centers WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	args = append(args, perPage, (page-1)*perPage)
	rows, err := r.tx.Query(ctx, fmt.Sprintf(`SELECT %s FROM cost_centers WHERE %s ORDER BY code LIMIT $%d OFFSET $%d`,
		costCenterColumns, clause, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []CostCenter
	for rows.Next() {
		cc, err := scanCostCenter(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, cc)
	}
	return out, total, rows.Err()
}

func (r *txRepository) ListAllCostCenters(ctx context.Context) ([]CostCenter, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+costCenterColumns+` FROM cost_centers ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CostCenter
	for rows.Next() {
		cc, err := scanCostCenter(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cc)
	}
	return out, rows.Err()
}

func (r *txRepository) CostCenterStates(ctx context.Context, ids []int64) (map[int64]bool, error) {
	out := make(map[int64]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.tx.Query(ctx, `SELECT id, is_active FROM cost_centers WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var active bool
		if err := rows.Scan(&id, &active); err != nil {
			return nil, err
		}
		out[id] = active
	}
	return out, rows.Err()
}

func (r *txRepository) InsertCostCenter(ctx context.Context, in CreateInput) (CostCenter, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO cost_centers (code, name, type, parent_id, is_active, description)
VALUES ($1,$2,$3,$4,TRUE,$5) RETURNING `+costCenterColumns,
		strings.TrimSpace(in.Code), strings.TrimSpace(in.Name), in.Type, in.ParentID, in.Description)
	cc, err := scanCostCenter(row)
	if err != nil {
		if shared.IsUniqueViolation(err) {
			return CostCenter{}, ErrDuplicateCode
		}
		return CostCenter{}, err
	}
	return cc, nil
}

func (r *txRepository) UpdateCostCenter(ctx context.Context, id int64, in UpdateInput) (CostCenter, error) {
	row := r.tx.QueryRow(ctx, `UPDATE cost_centers SET name=$2, type=$3, parent_id=$4, description=$5, updated_at=NOW()
WHERE id=$1 RETURNING `+costCenterColumns, id, strings.TrimSpace(in.Name), in.Type, in.ParentID, in.Description)
	return scanCostCenter(row)
}

func (r *txRepository) SetActive(ctx context.Context, id int64, active bool) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE cost_centers SET is_active=$2, updated_at=NOW() WHERE id=$1`, id, active)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrCostCenterNotFound
	}
	return nil
}

func (r *txRepository) AncestorIDs(ctx context.Context, id int64) ([]int64, error) {
	rows, err := r.tx.Query(ctx, `WITH RECURSIVE chain(id, parent_id, depth) AS (
	SELECT id, parent_id, 0 FROM cost_centers WHERE id=$1
	UNION ALL
	SELECT c.id, c.parent_id, chain.depth + 1 FROM cost_centers c JOIN chain ON c.id = chain.parent_id
	WHERE chain.depth < 64
)
SELECT id FROM chain WHERE id <> $1`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		ids = append(ids, v)
	}
	return ids, rows.Err()
}

const transactionColumns = `id, cost_center_id, category, type, amount, transaction_date, reference, description, created_by, created_at`

func scanTransaction(row pgx.Row) (Transaction, error) {
	var t Transaction
	var createdBy *int64
	if err := row.Scan(&t.ID, &t.CostCenterID, &t.Category, &t.Type, &t.Amount, &t.TransactionDate, &t.Reference, &t.Description, &createdBy, &t.CreatedAt); err != nil {
		return Transaction{}, err
	}
	if createdBy != nil {
		t.CreatedBy = *createdBy
	}
	return t, nil
}

func (r *txRepository) InsertTransaction(ctx context.Context, in TransactionInput) (Transaction, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO cost_center_transactions (cost_center_id, category, type, amount, transaction_date, reference, description, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING `+transactionColumns,
		in.CostCenterID, strings.TrimSpace(in.Category), in.Type, in.Amount, in.TransactionDate, in.Reference, in.Description, nullInt(in.ActorID))
	t, err := scanTransaction(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.ConstraintName == "fk_cct_cost_center" {
			return Transaction{}, ErrCostCenterNotFound
		}
		return Transaction{}, err
	}
	return t, nil
}

func (r *txRepository) ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 500
	}
	where := []string{"1=1"}
	args := []any{}
	if filter.CostCenterID != 0 {
		args = append(args, filter.CostCenterID)
		where = append(where, fmt.Sprintf("cost_center_id=$%d", len(args)))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		where = append(where, fmt.Sprintf("type=$%d", len(args)))
	}
	if !filter.Period.Start.IsZero() {
		args = append(args, filter.Period.Start, filter.Period.End)
		where = append(where, fmt.Sprintf("transaction_date BETWEEN $%d AND $%d", len(args)-1, len(args)))
	}
	args = append(args, limit)
	rows, err := r.tx.Query(ctx, fmt.Sprintf(`SELECT %s FROM cost_center_transactions WHERE %s ORDER BY transaction_date DESC, id DESC LIMIT $%d`,
		transactionColumns, strings.Join(where, " AND "), len(args)), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *txRepository) SumByType(ctx context.Context, ids []int64, period shared.Period, types []TransactionType) (map[int64]decimal.Decimal, error) {
	out := make(map[int64]decimal.Decimal, len(ids))
	if len(ids) == 0 || len(types) == 0 {
		return out, nil
	}
	kinds := make([]string, len(types))
	for i, t := range types {
		kinds[i] = string(t)
	}
	rows, err := r.tx.Query(ctx, `SELECT cost_center_id, COALESCE(SUM(amount), 0)
FROM cost_center_transactions
WHERE cost_center_id = ANY($1) AND type = ANY($2) AND transaction_date BETWEEN $3 AND $4
GROUP BY cost_center_id`, ids, kinds, period.Start, period.End)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var sum decimal.Decimal
		if err := rows.Scan(&id, &sum); err != nil {
			return nil, err
		}
		out[id] = sum
	}
	return out, rows.Err()
}

func (r *txRepository) UpsertBudget(ctx context.Context, in BudgetInput) (Budget, error) {
	var b Budget
	err := r.tx.QueryRow(ctx, `INSERT INTO cost_center_budgets (cost_center_id, fiscal_year, month, category, amount)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (cost_center_id, fiscal_year, month, category) DO UPDATE SET amount=EXCLUDED.amount, updated_at=NOW()
RETURNING id, cost_center_id, fiscal_year, month, category, amount, created_at, updated_at`,
		in.CostCenterID, in.FiscalYear, in.Month, strings.TrimSpace(in.Category), in.Amount).
		Scan(&b.ID, &b.CostCenterID, &b.FiscalYear, &b.Month, &b.Category, &b.Amount, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return Budget{}, err
	}
	return b, nil
}

func (r *txRepository) BudgetTotal(ctx context.Context, costCenterID int64, year, month int) (decimal.Decimal, bool, error) {
	var total decimal.Decimal
	var lines int
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(SUM(amount), 0), COUNT(*) FROM cost_center_budgets
WHERE cost_center_id=$1 AND fiscal_year=$2 AND month=$3`, costCenterID, year, month).Scan(&total, &lines)
	if err != nil {
		return decimal.Zero, false, err
	}
	return total, lines > 0, nil
}

func nullInt(val int64) any {
	if val == 0 {
		return nil
	}
	return val
}
