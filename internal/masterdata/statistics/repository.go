package statistics

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type Repository interface {
	Upsert(ctx context.Context, in RecordInput) (Statistic, error)
	List(ctx context.Context, filter ListFilter) ([]Statistic, error)
	ValuesAt(ctx context.Context, metric Metric, at time.Time, ids []int64) (map[int64]decimal.Decimal, error)
}

type repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) Upsert(ctx context.Context, in RecordInput) (Statistic, error) {
	const query = `INSERT INTO cost_center_statistics (cost_center_id, metric, period_start, period_end, value, updated_by)
VALUES ($1, $2, $3, $4, $5, NULLIF($6, 0))
ON CONFLICT (cost_center_id, metric, period_start)
DO UPDATE SET period_end=EXCLUDED.period_end, value=EXCLUDED.value, updated_by=EXCLUDED.updated_by, updated_at=NOW()
RETURNING id, cost_center_id, metric, period_start, period_end, value, updated_at`
	var st Statistic
	err := r.pool.QueryRow(ctx, query, in.CostCenterID, string(in.Metric), in.PeriodStart, in.PeriodEnd, in.Value, in.ActorID).
		Scan(&st.ID, &st.CostCenterID, &st.Metric, &st.PeriodStart, &st.PeriodEnd, &st.Value, &st.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return Statistic{}, ErrUnknownCostCenter
		}
		return Statistic{}, err
	}
	return st, nil
}

// List uses a dynamic query because every filter is optional.
func (r *repository) List(ctx context.Context, filter ListFilter) ([]Statistic, error) {
	query := `SELECT id, cost_center_id, metric, period_start, period_end, value, updated_at
FROM cost_center_statistics WHERE 1=1`
	args := []any{}
	if filter.CostCenterID > 0 {
		args = append(args, filter.CostCenterID)
		query += ` AND cost_center_id = $` + strconv.Itoa(len(args))
	}
	if filter.Metric != "" {
		args = append(args, string(filter.Metric))
		query += ` AND metric = $` + strconv.Itoa(len(args))
	}
	if !filter.Start.IsZero() {
		args = append(args, filter.Start)
		query += ` AND period_end >= $` + strconv.Itoa(len(args))
	}
	if !filter.End.IsZero() {
		args = append(args, filter.End)
		query += ` AND period_start <= $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY period_start DESC, cost_center_id, metric`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Statistic
	for rows.Next() {
		var st Statistic
		if err := rows.Scan(&st.ID, &st.CostCenterID, &st.Metric, &st.PeriodStart, &st.PeriodEnd, &st.Value, &st.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// ValuesAt returns, per cost center, the value of the newest row covering at.
func (r *repository) ValuesAt(ctx context.Context, metric Metric, at time.Time, ids []int64) (map[int64]decimal.Decimal, error) {
	const query = `SELECT DISTINCT ON (cost_center_id) cost_center_id, value
FROM cost_center_statistics
WHERE metric=$1 AND cost_center_id = ANY($2) AND period_start <= $3 AND period_end >= $3
ORDER BY cost_center_id, period_start DESC`
	rows, err := r.pool.Query(ctx, query, string(metric), ids, at)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]decimal.Decimal, len(ids))
	for rows.Next() {
		var id int64
		var value decimal.Decimal
		if err := rows.Scan(&id, &value); err != nil {
			return nil, err
		}
		out[id] = value
	}
	return out, rows.Err()
}
