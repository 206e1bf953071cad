package redemption

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/perkforge/redemption/internal/domain/account"
	"github.com/perkforge/redemption/internal/domain/discount"
	"github.com/perkforge/redemption/internal/domain/promo"
)

// Coordinator orchestrates a redemption attempt: validate the code, check
// account eligibility, compute the discount, and atomically record the
// result. It is the only component that mutates the catalog's usage counters
// or appends to the ledger.
type Coordinator struct {
	validator *promo.Validator
	accounts  account.Repository
	ledger    Ledger
	store     Store
	now       func() time.Time
}

// NewCoordinator creates a Coordinator with the required dependencies.
func NewCoordinator(
	validator *promo.Validator,
	accounts account.Repository,
	ledger Ledger,
	store Store,
) *Coordinator {
	return &Coordinator{
		validator: validator,
		accounts:  accounts,
		ledger:    ledger,
		store:     store,
		now:       time.Now,
	}
}

// ValidateCode checks whether a code is currently redeemable and returns its
// snapshot. Read-only; safe to call from checkout previews.
func (c *Coordinator) ValidateCode(ctx context.Context, code string) (*promo.Code, error) {
	return c.validator.ValidateCode(ctx, code)
}

// CheckEligibility evaluates the account-level preconditions. On failure it
// returns an *account.IneligibleError carrying every disqualifying reason.
func (c *Coordinator) CheckEligibility(ctx context.Context, accountID string) error {
	flags, err := c.accounts.GetFlags(ctx, accountID)
	if err != nil {
		return errors.Wrap(err, "get account flags")
	}

	if res := account.Evaluate(*flags); !res.Eligible {
		return &account.IneligibleError{Reasons: res.Reasons}
	}
	return nil
}

// ApplyDiscount computes the discount for a validated code snapshot.
// Read-only; delegates to the pure calculator.
func (c *Coordinator) ApplyDiscount(snap *promo.Code, originalAmount int64) (*discount.Result, error) {
	return discount.Apply(snap, originalAmount)
}

// RecordRedemption durably records a redemption for the given transaction.
//
// Eligibility and code state are re-validated here because both may have
// changed since the caller's initial look; the durable store enforces the
// same invariants again inside the transaction, so a stale validation can
// never be honored. The operation is idempotent on transactionID: a retry
// that already produced a record returns the existing record.
//
// A per-account or usage-limit constraint violation during commit is
// surfaced as *LostRaceError, distinct from validation-time failures.
func (c *Coordinator) RecordRedemption(
	ctx context.Context,
	code string,
	accountID string,
	transactionID string,
	res *discount.Result,
) (*Record, error) {
	if existing, err := c.findExisting(ctx, transactionID); err != nil {
		return nil, errors.Wrap(err, "idempotency lookup")
	} else if existing != nil {
		return existing, nil
	}

	if err := c.CheckEligibility(ctx, accountID); err != nil {
		return nil, err
	}

	snap, err := c.validator.ValidateCode(ctx, code)
	if err != nil {
		return nil, err
	}

	rec := &Record{
		ID:             uuid.New().String(),
		Code:           snap.Code,
		AccountID:      accountID,
		TransactionID:  transactionID,
		OriginalAmount: res.OriginalAmount,
		DiscountAmount: res.DiscountAmount,
		FinalAmount:    res.FinalAmount,
		Percentage:     res.Percentage,
		CreatedAt:      c.now(),
	}

	if err := c.store.Commit(ctx, rec); err != nil {
		switch {
		case errors.Is(err, ErrTransactionConflict):
			// A concurrent duplicate delivery committed first. Return its record.
			existing, lookupErr := c.findExisting(ctx, transactionID)
			if lookupErr != nil {
				return nil, errors.Wrap(lookupErr, "lookup after transaction conflict")
			}
			if existing == nil {
				return nil, errors.Wrap(err, "commit redemption")
			}
			return existing, nil
		case errors.Is(err, ErrAccountConflict),
			errors.Is(err, ErrCodeExhausted),
			errors.Is(err, ErrCodeUnavailable):
			return nil, &LostRaceError{Code: snap.Code}
		default:
			return nil, errors.Wrap(err, "commit redemption")
		}
	}

	return rec, nil
}

// findExisting looks up a record by transaction id, retrying the read once on
// storage failure. Returns (nil, nil) when no record exists. The commit
// itself is never blindly retried: retries must be keyed on transaction id
// idempotency, which belongs to the caller.
func (c *Coordinator) findExisting(ctx context.Context, transactionID string) (*Record, error) {
	rec, err := c.ledger.FindByTransactionID(ctx, transactionID)
	if err != nil && !errors.Is(err, ErrRecordNotFound) {
		rec, err = c.ledger.FindByTransactionID(ctx, transactionID)
	}
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}
