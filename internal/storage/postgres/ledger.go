package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/perkforge/redemption/internal/domain/redemption"
)

const (
	getRecordByTxSQL = `SELECT id, code, account_id, transaction_id,
		original_amount, discount_amount, final_amount, discount_percentage, created_at
		FROM redemption_records WHERE transaction_id = $1`

	usesByCodeSQL    = `SELECT COUNT(*) FROM redemption_records WHERE code = $1`
	usesByAccountSQL = `SELECT COUNT(*) FROM redemption_records WHERE account_id = $1`

	// Commit transaction statements. The FOR UPDATE lock on the code row
	// serializes concurrent redemptions of the same code; unrelated codes
	// and accounts are not serialized against each other.
	lockCodeSQL = `SELECT max_usage_count, current_usage_count, active
		FROM promotion_codes WHERE code = $1 FOR UPDATE`

	insertRecordSQL = `INSERT INTO redemption_records
		(id, code, account_id, transaction_id,
		 original_amount, discount_amount, final_amount, discount_percentage, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	bumpUsageSQL = `UPDATE promotion_codes
		SET current_usage_count = current_usage_count + 1,
		    active = CASE
		        WHEN max_usage_count IS NOT NULL
		             AND current_usage_count + 1 >= max_usage_count THEN FALSE
		        ELSE active
		    END
		WHERE code = $1`

	markRedeemedSQL = `UPDATE accounts SET discount_redeemed = TRUE WHERE id = $1`
)

// Constraint names from db/migrations/001_schema.sql, used to tell which
// uniqueness invariant rejected an insert.
const (
	accountUniqueConstraint     = "redemption_records_account_id_key"
	transactionUniqueConstraint = "redemption_records_transaction_id_key"
)

var (
	_ redemption.Ledger = (*LedgerRepository)(nil)
	_ redemption.Store  = (*LedgerRepository)(nil)
)

// LedgerRepository implements both the read side (redemption.Ledger) and the
// atomic commit (redemption.Store) of the redemption ledger.
type LedgerRepository struct {
	pool *pgxpool.Pool
}

// NewLedgerRepository returns a LedgerRepository that uses the given pool.
func NewLedgerRepository(pool *pgxpool.Pool) *LedgerRepository {
	return &LedgerRepository{pool: pool}
}

// FindByTransactionID returns the record created for the given external
// transaction, or redemption.ErrRecordNotFound.
func (r *LedgerRepository) FindByTransactionID(ctx context.Context, transactionID string) (*redemption.Record, error) {
	rows, err := r.pool.Query(ctx, getRecordByTxSQL, transactionID)
	if err != nil {
		return nil, fmt.Errorf("finding record for transaction %q: %w", transactionID, err)
	}

	rec, err := pgx.CollectExactlyOneRow(rows, scanRecord)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, redemption.ErrRecordNotFound
		}
		return nil, fmt.Errorf("finding record for transaction %q: %w", transactionID, err)
	}
	return &rec, nil
}

// UsesByCode returns the number of ledger entries referencing the given code.
func (r *LedgerRepository) UsesByCode(ctx context.Context, code string) (int64, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, usesByCodeSQL, code).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting uses for code %q: %w", code, err)
	}
	return n, nil
}

// UsesByAccount returns the number of ledger entries referencing the given
// account. Always 0 or 1 under the per-account uniqueness constraint.
func (r *LedgerRepository) UsesByAccount(ctx context.Context, accountID string) (int64, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, usesByAccountSQL, accountID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting uses for account %q: %w", accountID, err)
	}
	return n, nil
}

// Commit executes the atomic unit of a redemption in one transaction:
// lock the code row, re-check it is still usable, insert the ledger entry,
// bump the usage counter (deactivating the code when this redemption reaches
// the limit), and flag the account as redeemed. Any failure rolls the whole
// unit back, so a crash mid-commit leaves either zero or one fully-formed
// record, never a counter increment without a ledger entry.
//
// No external network calls happen inside the transaction; the lock is held
// only for the four statements above.
func (r *LedgerRepository) Commit(ctx context.Context, rec *redemption.Record) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning redemption transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	var (
		maxUsage *int64
		current  int64
		active   bool
	)
	if err := tx.QueryRow(ctx, lockCodeSQL, rec.Code).Scan(&maxUsage, &current, &active); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return redemption.ErrCodeUnavailable
		}
		return fmt.Errorf("locking code %q: %w", rec.Code, err)
	}

	// Re-check under the lock: the code may have been deactivated or
	// exhausted by a competitor since the coordinator's validation.
	if !active {
		return redemption.ErrCodeUnavailable
	}
	if maxUsage != nil && current >= *maxUsage {
		return redemption.ErrCodeExhausted
	}

	_, err = tx.Exec(ctx, insertRecordSQL,
		rec.ID, rec.Code, rec.AccountID, rec.TransactionID,
		rec.OriginalAmount, rec.DiscountAmount, rec.FinalAmount, rec.Percentage, rec.CreatedAt,
	)
	if err != nil {
		switch code, constraint := pgErrCode(err); {
		case code == uniqueViolation && constraint == accountUniqueConstraint:
			return redemption.ErrAccountConflict
		case code == uniqueViolation && constraint == transactionUniqueConstraint:
			return redemption.ErrTransactionConflict
		default:
			return fmt.Errorf("inserting redemption record %q: %w", rec.ID, err)
		}
	}

	if _, err := tx.Exec(ctx, bumpUsageSQL, rec.Code); err != nil {
		return fmt.Errorf("incrementing usage for code %q: %w", rec.Code, err)
	}

	if _, err := tx.Exec(ctx, markRedeemedSQL, rec.AccountID); err != nil {
		return fmt.Errorf("marking account %q redeemed: %w", rec.AccountID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing redemption %q: %w", rec.ID, err)
	}
	return nil
}

func scanRecord(row pgx.CollectableRow) (redemption.Record, error) {
	var rec redemption.Record
	err := row.Scan(
		&rec.ID, &rec.Code, &rec.AccountID, &rec.TransactionID,
		&rec.OriginalAmount, &rec.DiscountAmount, &rec.FinalAmount, &rec.Percentage, &rec.CreatedAt,
	)
	return rec, err
}
