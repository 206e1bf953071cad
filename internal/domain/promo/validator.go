package promo

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// Validator checks whether a promotion code is currently redeemable and
// returns its snapshot. Validation never mutates state.
type Validator struct {
	catalog Catalog
	now     func() time.Time
}

// NewValidator creates a Validator backed by the given Catalog.
func NewValidator(catalog Catalog) *Validator {
	return &Validator{catalog: catalog, now: time.Now}
}

// ValidateCode runs the validation gates in order: blank input, lookup,
// inactive, expired, usage limit. The first failing gate determines the
// error, so a stale code never leaks a "limit reached" message that would
// imply it was otherwise valid.
func (v *Validator) ValidateCode(ctx context.Context, code string) (*Code, error) {
	normalized := Normalize(code)
	if normalized == "" {
		return nil, ErrCodeBlank
	}

	snap, err := v.catalog.FindByCode(ctx, normalized)
	if err != nil {
		if errors.Is(err, ErrCodeNotFound) {
			return nil, ErrCodeNotFound
		}
		return nil, errors.Wrap(err, "lookup code")
	}

	if !snap.Active {
		return nil, ErrCodeInactive
	}

	if snap.ExpiresAt != nil && v.now().After(*snap.ExpiresAt) {
		return nil, ErrCodeExpired
	}

	if snap.Exhausted() {
		return nil, ErrCodeLimitReached
	}

	return snap, nil
}
