package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/perkforge/redemption/internal/domain/report"
)

const (
	codeUsageSQL = `SELECT COUNT(*), COALESCE(SUM(discount_amount), 0)
		FROM redemption_records WHERE code = $1`

	periodUsageSQL = `SELECT COUNT(*), COALESCE(SUM(discount_amount), 0)
		FROM redemption_records WHERE created_at >= $1 AND created_at < $2`

	topCodesSQL = `SELECT code, COUNT(*) AS uses
		FROM redemption_records
		WHERE created_at >= $1 AND created_at < $2
		GROUP BY code ORDER BY uses DESC, code ASC LIMIT $3`

	sweepSQL = `UPDATE promotion_codes
		SET active = FALSE
		WHERE active = TRUE
		  AND ((expires_at IS NOT NULL AND expires_at < $1)
		    OR (max_usage_count IS NOT NULL AND current_usage_count >= max_usage_count))`
)

var _ report.Source = (*ReportRepository)(nil)

// ReportRepository implements report.Source backed by PostgreSQL.
type ReportRepository struct {
	pool *pgxpool.Pool
}

// NewReportRepository returns a ReportRepository that uses the given pool.
func NewReportRepository(pool *pgxpool.Pool) *ReportRepository {
	return &ReportRepository{pool: pool}
}

// CodeUsage returns the redemption count and summed discount for a code.
func (r *ReportRepository) CodeUsage(ctx context.Context, code string) (int64, int64, error) {
	var count, total int64
	if err := r.pool.QueryRow(ctx, codeUsageSQL, code).Scan(&count, &total); err != nil {
		return 0, 0, fmt.Errorf("aggregating usage for code %q: %w", code, err)
	}
	return count, total, nil
}

// PeriodUsage returns the redemption count and summed discount within [start, end).
func (r *ReportRepository) PeriodUsage(ctx context.Context, start, end time.Time) (int64, int64, error) {
	var count, total int64
	if err := r.pool.QueryRow(ctx, periodUsageSQL, start, end).Scan(&count, &total); err != nil {
		return 0, 0, fmt.Errorf("aggregating period usage: %w", err)
	}
	return count, total, nil
}

// TopCodes returns up to limit codes ordered by redemption count within [start, end).
func (r *ReportRepository) TopCodes(ctx context.Context, start, end time.Time, limit int) ([]report.CodeCount, error) {
	rows, err := r.pool.Query(ctx, topCodesSQL, start, end, limit)
	if err != nil {
		return nil, fmt.Errorf("ranking codes: %w", err)
	}

	counts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (report.CodeCount, error) {
		var cc report.CodeCount
		err := row.Scan(&cc.Code, &cc.Count)
		return cc, err
	})
	if err != nil {
		return nil, fmt.Errorf("ranking codes: %w", err)
	}
	return counts, nil
}

// DeactivateExpiredOrExhausted deactivates every active code past its expiry
// or at its usage limit in a single statement. Idempotent: the active = TRUE
// predicate makes repeat runs no-ops.
func (r *ReportRepository) DeactivateExpiredOrExhausted(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, sweepSQL, now)
	if err != nil {
		return 0, fmt.Errorf("deactivation sweep: %w", err)
	}
	return tag.RowsAffected(), nil
}
