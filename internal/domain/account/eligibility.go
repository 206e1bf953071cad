package account

// Disqualification reasons, surfaced verbatim to the end user.
const (
	ReasonAlreadyRedeemed = "already used a discount code"
	ReasonSuspended       = "account suspended"
	ReasonPremium         = "already premium"
)

// Result holds the outcome of an eligibility evaluation.
type Result struct {
	Eligible bool
	Reasons  []string
}

// Evaluate determines whether an account may redeem any promotion code.
// All disqualifying reasons are collected, not just the first, and the
// function never fails: it always returns a structured result.
func Evaluate(f Flags) Result {
	var reasons []string
	if f.DiscountRedeemed {
		reasons = append(reasons, ReasonAlreadyRedeemed)
	}
	if f.Suspended {
		reasons = append(reasons, ReasonSuspended)
	}
	if f.Tier == TierPremium {
		reasons = append(reasons, ReasonPremium)
	}
	return Result{Eligible: len(reasons) == 0, Reasons: reasons}
}
