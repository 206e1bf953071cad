package checkout

import (
	"context"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/perkforge/redemption/internal/domain/account"
	"github.com/perkforge/redemption/internal/domain/promo"
	"github.com/perkforge/redemption/internal/domain/redemption"
)

// Processor records redemptions for completed checkouts.
type Processor struct {
	coord *redemption.Coordinator
	lg    *zap.Logger
}

// NewProcessor creates a Processor.
func NewProcessor(coord *redemption.Coordinator, lg *zap.Logger) *Processor {
	return &Processor{coord: coord, lg: lg}
}

// HandleCompleted processes one checkout-completion event. When the event
// carries a valid code, the redemption is recorded and the ledger entry
// returned. An absent or rejected code yields (nil, nil): the account's
// purchase has already gone through and must not be failed over discount
// bookkeeping. Infrastructure errors are returned so the gateway can
// redeliver; redelivery is safe because recording is idempotent on the
// transaction id.
func (p *Processor) HandleCompleted(ctx context.Context, ev *CompletedEvent) (*redemption.Record, error) {
	lg := p.lg.With(
		zap.String("account_id", ev.AccountID),
		zap.String("transaction_id", ev.TransactionID),
	)

	if ev.AppliedCode == "" {
		lg.Debug("Checkout completed without promotion code")
		return nil, nil
	}

	snap, err := p.coord.ValidateCode(ctx, ev.AppliedCode)
	if err != nil {
		if isRejection(err) {
			lg.Warn("Checkout carried unusable promotion code",
				zap.String("code", promo.Normalize(ev.AppliedCode)),
				zap.String("reason", err.Error()))
			return nil, nil
		}
		return nil, errors.Wrap(err, "validate code")
	}

	res, err := p.coord.ApplyDiscount(snap, ev.OriginalAmount)
	if err != nil {
		// A malformed amount from the gateway is an upstream bug; log it
		// loudly but do not fail the event.
		lg.Error("Discount calculation rejected gateway amounts",
			zap.String("code", snap.Code),
			zap.Int64("original_amount", ev.OriginalAmount),
			zap.Error(err))
		return nil, nil
	}

	if res.DiscountAmount != ev.DiscountAmount || res.FinalAmount != ev.FinalAmount {
		lg.Warn("Gateway amounts diverge from recomputed discount",
			zap.String("code", snap.Code),
			zap.Int64("gateway_discount", ev.DiscountAmount),
			zap.Int64("computed_discount", res.DiscountAmount))
	}

	rec, err := p.coord.RecordRedemption(ctx, snap.Code, ev.AccountID, ev.TransactionID, res)
	if err != nil {
		if isRejection(err) {
			lg.Warn("Redemption rejected at commit",
				zap.String("code", snap.Code),
				zap.String("reason", err.Error()))
			return nil, nil
		}
		return nil, errors.Wrap(err, "record redemption")
	}

	lg.Info("Redemption recorded",
		zap.String("code", rec.Code),
		zap.String("record_id", rec.ID),
		zap.Int64("discount_amount", rec.DiscountAmount))
	return rec, nil
}

// isRejection reports whether err is an expected business rejection rather
// than an infrastructure failure.
func isRejection(err error) bool {
	var (
		inel *account.IneligibleError
		lost *redemption.LostRaceError
	)
	return errors.Is(err, promo.ErrCodeBlank) ||
		errors.Is(err, promo.ErrCodeNotFound) ||
		errors.Is(err, promo.ErrCodeInactive) ||
		errors.Is(err, promo.ErrCodeExpired) ||
		errors.Is(err, promo.ErrCodeLimitReached) ||
		errors.As(err, &inel) ||
		errors.As(err, &lost)
}
