package account

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name        string
		flags       Flags
		wantReasons []string
	}{
		{
			name:  "clean account is eligible",
			flags: Flags{ID: "acc-1", Tier: TierFree},
		},
		{
			name:        "already redeemed",
			flags:       Flags{ID: "acc-1", DiscountRedeemed: true, Tier: TierFree},
			wantReasons: []string{ReasonAlreadyRedeemed},
		},
		{
			name:        "suspended",
			flags:       Flags{ID: "acc-1", Suspended: true, Tier: TierStandard},
			wantReasons: []string{ReasonSuspended},
		},
		{
			name:        "premium tier",
			flags:       Flags{ID: "acc-1", Tier: TierPremium},
			wantReasons: []string{ReasonPremium},
		},
		{
			name:        "all reasons reported together",
			flags:       Flags{ID: "acc-1", DiscountRedeemed: true, Suspended: true, Tier: TierPremium},
			wantReasons: []string{ReasonAlreadyRedeemed, ReasonSuspended, ReasonPremium},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := Evaluate(tt.flags)
			assert.Equal(t, len(tt.wantReasons) == 0, res.Eligible)
			assert.Equal(t, tt.wantReasons, res.Reasons)
		})
	}
}

func TestIneligibleError_Message(t *testing.T) {
	err := &IneligibleError{Reasons: []string{ReasonAlreadyRedeemed, ReasonSuspended}}
	assert.Equal(t, "account not eligible: already used a discount code; account suspended", err.Error())
}
