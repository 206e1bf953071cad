package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/perkforge/redemption/internal/domain/account"
)

const getAccountFlagsSQL = `SELECT id, discount_redeemed, suspended, subscription_tier
	FROM accounts WHERE id = $1`

var _ account.Repository = (*AccountRepository)(nil)

// AccountRepository implements account.Repository backed by PostgreSQL.
// Accounts are owned by the external account system; this repository only
// reads the eligibility flags.
type AccountRepository struct {
	pool *pgxpool.Pool
}

// NewAccountRepository returns an AccountRepository that uses the given pool.
func NewAccountRepository(pool *pgxpool.Pool) *AccountRepository {
	return &AccountRepository{pool: pool}
}

// GetFlags returns the eligibility flags for the given account.
// Returns account.ErrNotFound when no account matches.
func (r *AccountRepository) GetFlags(ctx context.Context, accountID string) (*account.Flags, error) {
	rows, err := r.pool.Query(ctx, getAccountFlagsSQL, accountID)
	if err != nil {
		return nil, fmt.Errorf("finding account %q: %w", accountID, err)
	}

	flags, err := pgx.CollectExactlyOneRow(rows, scanAccountFlags)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, account.ErrNotFound
		}
		return nil, fmt.Errorf("finding account %q: %w", accountID, err)
	}
	return &flags, nil
}

func scanAccountFlags(row pgx.CollectableRow) (account.Flags, error) {
	var (
		flags account.Flags
		tier  string
	)
	err := row.Scan(&flags.ID, &flags.DiscountRedeemed, &flags.Suspended, &tier)
	flags.Tier = account.Tier(tier)
	return flags, err
}
