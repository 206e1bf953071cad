// Package redemption contains the redemption ledger contract and the
// coordinator that drives a code redemption from validation to the atomic
// durable commit.
package redemption

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
)

// Record is one immutable ledger entry for a successful redemption. Amounts
// are integer minor currency units and carry the code's percentage at
// redemption time, so later changes to the code definition never alter
// history. Records are created exclusively by the Coordinator and never
// updated or deleted.
type Record struct {
	ID             string
	Code           string
	AccountID      string
	TransactionID  string
	OriginalAmount int64
	DiscountAmount int64
	FinalAmount    int64
	Percentage     int
	CreatedAt      time.Time
}

// ErrRecordNotFound is returned by ledger lookups that match no record.
var ErrRecordNotFound = errors.New("redemption record not found")

// Sentinel failures of the atomic commit. The storage layer maps constraint
// violations to these so the coordinator can tell an expected race from an
// infrastructure fault without inspecting driver error types.
var (
	// ErrAccountConflict: the per-account uniqueness constraint rejected the
	// insert. Another redemption for this account committed first.
	ErrAccountConflict = errors.New("account has already redeemed a code")
	// ErrTransactionConflict: a record with the same transaction id already
	// exists. The caller is retrying a completed commit.
	ErrTransactionConflict = errors.New("transaction already recorded")
	// ErrCodeExhausted: the usage limit was reached by a concurrent
	// redemption between validation and commit.
	ErrCodeExhausted = errors.New("code usage limit reached during commit")
	// ErrCodeUnavailable: the code was deactivated between validation and
	// commit.
	ErrCodeUnavailable = errors.New("code deactivated during commit")
)

// LostRaceError reports that a redemption attempt was valid at validation
// time but lost to a concurrent competitor by commit time. Distinct from a
// limit reached at validate time: the user-facing wording is "no longer
// available", not "you are ineligible".
type LostRaceError struct {
	Code string
}

func (e *LostRaceError) Error() string {
	return fmt.Sprintf("code %s is no longer available", e.Code)
}

// Ledger provides durable reads over redemption records.
type Ledger interface {
	// FindByTransactionID returns the record created for the given external
	// transaction, or ErrRecordNotFound.
	FindByTransactionID(ctx context.Context, transactionID string) (*Record, error)
	// UsesByCode returns the number of records referencing the given code.
	UsesByCode(ctx context.Context, code string) (int64, error)
	// UsesByAccount returns the number of records referencing the given
	// account. Always 0 or 1 under the per-account uniqueness constraint.
	UsesByAccount(ctx context.Context, accountID string) (int64, error)
}

// Store executes the atomic unit of a redemption: insert the record,
// increment the code's usage counter, deactivate the code if the limit is
// now reached, and mark the account as having redeemed — all in one durable
// transaction that either fully commits or fully rolls back. Implementations
// must re-check the code's state under a write lock and return the sentinel
// conflict errors above on constraint violations.
type Store interface {
	Commit(ctx context.Context, rec *Record) error
}
