// Package discount computes monetary discounts from a promotion code
// snapshot. All amounts are integer minor currency units (cents), which keeps
// the arithmetic exact; only the savings percentage uses decimal rounding.
package discount

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/perkforge/redemption/internal/domain/promo"
)

var hundred = decimal.NewFromInt(100)

// CalculationError is a typed validation failure for malformed amounts.
// It indicates an upstream bug rather than user input error.
type CalculationError struct {
	Field  string
	Reason string
}

func (e *CalculationError) Error() string {
	return fmt.Sprintf("discount calculation: %s %s", e.Field, e.Reason)
}

// Result holds a computed discount. DiscountAmount and FinalAmount always
// satisfy FinalAmount = max(OriginalAmount-DiscountAmount, 0) and carry the
// code's percentage at redemption time.
type Result struct {
	OriginalAmount int64
	DiscountAmount int64
	FinalAmount    int64
	Percentage     int
	// SavingsPercentage is DiscountAmount/OriginalAmount*100 rounded to one
	// decimal place, or zero when OriginalAmount is zero.
	SavingsPercentage decimal.Decimal
}

// Apply computes the discount for the given code snapshot and original
// amount. The original amount must be non-negative; a negative amount yields
// a CalculationError rather than a panic.
func Apply(snap *promo.Code, originalAmount int64) (*Result, error) {
	if originalAmount < 0 {
		return nil, &CalculationError{Field: "original_amount", Reason: "must be non-negative"}
	}

	// Round half up to the nearest minor unit. Integer arithmetic keeps the
	// computation exact for any amount that fits in int64.
	discountAmount := (originalAmount*int64(snap.Percentage) + 50) / 100

	finalAmount := originalAmount - discountAmount
	if finalAmount < 0 {
		finalAmount = 0
	}

	savings := decimal.Zero
	if originalAmount > 0 {
		savings = decimal.NewFromInt(discountAmount).
			Div(decimal.NewFromInt(originalAmount)).
			Mul(hundred).
			Round(1)
	}

	return &Result{
		OriginalAmount:    originalAmount,
		DiscountAmount:    discountAmount,
		FinalAmount:       finalAmount,
		Percentage:        snap.Percentage,
		SavingsPercentage: savings,
	}, nil
}
