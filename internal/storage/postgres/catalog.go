package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/perkforge/redemption/internal/domain/promo"
)

const (
	getCodeSQL = `SELECT code, discount_percentage, max_usage_count, current_usage_count,
		active, expires_at, created_by, created_at
		FROM promotion_codes WHERE code = $1`

	incrementUsageSQL = `UPDATE promotion_codes
		SET current_usage_count = current_usage_count + 1
		WHERE code = $1
		RETURNING code, discount_percentage, max_usage_count, current_usage_count,
			active, expires_at, created_by, created_at`

	deactivateCodeSQL = `UPDATE promotion_codes SET active = FALSE WHERE code = $1`

	createCodeSQL = `INSERT INTO promotion_codes
		(code, discount_percentage, max_usage_count, active, expires_at, created_by)
		VALUES ($1, $2, $3, TRUE, $4, $5)`
)

var _ promo.Catalog = (*CatalogRepository)(nil)

// CatalogRepository implements promo.Catalog backed by PostgreSQL.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository returns a CatalogRepository that uses the given pool.
func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// FindByCode looks up a code by its normalized form, including inactive
// codes. Returns promo.ErrCodeNotFound when no code matches.
func (r *CatalogRepository) FindByCode(ctx context.Context, code string) (*promo.Code, error) {
	rows, err := r.pool.Query(ctx, getCodeSQL, promo.Normalize(code))
	if err != nil {
		return nil, fmt.Errorf("finding code %q: %w", code, err)
	}

	snap, err := pgx.CollectExactlyOneRow(rows, scanCode)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, promo.ErrCodeNotFound
		}
		return nil, fmt.Errorf("finding code %q: %w", code, err)
	}
	return &snap, nil
}

// IncrementUsage atomically bumps the usage counter and returns the
// post-increment snapshot. The usage-within-limit CHECK constraint turns an
// over-limit increment into promo.ErrCodeLimitReached instead of truncating.
func (r *CatalogRepository) IncrementUsage(ctx context.Context, code string) (*promo.Code, error) {
	rows, err := r.pool.Query(ctx, incrementUsageSQL, promo.Normalize(code))
	if err != nil {
		return nil, fmt.Errorf("incrementing usage for code %q: %w", code, err)
	}

	snap, err := pgx.CollectExactlyOneRow(rows, scanCode)
	if err != nil {
		switch errCode, _ := pgErrCode(err); {
		case errors.Is(err, pgx.ErrNoRows):
			return nil, promo.ErrCodeNotFound
		case errCode == checkViolation:
			return nil, promo.ErrCodeLimitReached
		default:
			return nil, fmt.Errorf("incrementing usage for code %q: %w", code, err)
		}
	}
	return &snap, nil
}

// Deactivate marks a code inactive. No-op on already-inactive codes.
func (r *CatalogRepository) Deactivate(ctx context.Context, code string) error {
	_, err := r.pool.Exec(ctx, deactivateCodeSQL, promo.Normalize(code))
	if err != nil {
		return fmt.Errorf("deactivating code %q: %w", code, err)
	}
	return nil
}

// Create inserts a new promotion code definition. Used by administrative
// tooling only; the redemption path never creates codes.
func (r *CatalogRepository) Create(ctx context.Context, c *promo.Code) error {
	var maxUsage *int64
	if c.MaxUsage > 0 {
		maxUsage = &c.MaxUsage
	}

	_, err := r.pool.Exec(ctx, createCodeSQL,
		promo.Normalize(c.Code), c.Percentage, maxUsage, c.ExpiresAt, c.CreatedBy,
	)
	if err != nil {
		if errCode, _ := pgErrCode(err); errCode == uniqueViolation {
			return fmt.Errorf("code %q already exists: %w", c.Code, err)
		}
		return fmt.Errorf("creating code %q: %w", c.Code, err)
	}
	return nil
}

func scanCode(row pgx.CollectableRow) (promo.Code, error) {
	var (
		snap      promo.Code
		maxUsage  *int64
		expiresAt *time.Time
	)
	err := row.Scan(
		&snap.Code, &snap.Percentage, &maxUsage, &snap.CurrentUsage,
		&snap.Active, &expiresAt, &snap.CreatedBy, &snap.CreatedAt,
	)
	if maxUsage != nil {
		snap.MaxUsage = *maxUsage
	}
	snap.ExpiresAt = expiresAt
	return snap, err
}
