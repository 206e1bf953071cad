package account

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
)

// ErrNotFound is returned when a requested account does not exist.
var ErrNotFound = errors.New("account not found")

// Tier is an account's subscription tier.
type Tier string

const (
	TierFree     Tier = "free"
	TierStandard Tier = "standard"
	// TierPremium disqualifies an account from further discount use.
	TierPremium Tier = "premium"
)

// Flags holds the eligibility-relevant state of an account. The account
// entity itself is owned by an external system; this subsystem only reads
// these flags and flips DiscountRedeemed inside the redemption transaction.
type Flags struct {
	ID               string
	DiscountRedeemed bool
	Suspended        bool
	Tier             Tier
}

// Repository provides read access to account eligibility flags.
type Repository interface {
	GetFlags(ctx context.Context, accountID string) (*Flags, error)
}

// IneligibleError carries every reason an account is disqualified from
// redeeming a code, so callers can present the complete picture.
type IneligibleError struct {
	Reasons []string
}

func (e *IneligibleError) Error() string {
	return fmt.Sprintf("account not eligible: %s", strings.Join(e.Reasons, "; "))
}
